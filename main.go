// Package main wires the ttts time-tiered search engine's components
// together and serves its HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ttts/api"
	"ttts/config"
	"ttts/engine"
	"ttts/fileman"
	"ttts/logger"
	"ttts/taskqueue"
)

func main() {
	logger.Configure()

	cfg := config.Load()

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		logger.Fatal("create base dir %s: %v", cfg.BaseDir, err)
	}

	files := fileman.New(cfg.BaseDir, cfg.Prefix)
	if err := files.EnsureBaseDir(); err != nil {
		logger.Fatal("ensure base dir: %v", err)
	}

	queue, err := taskqueue.Open(files.CommonDBPath())
	if err != nil {
		logger.Fatal("open task queue: %v", err)
	}

	eng := engine.New(cfg, files, queue)
	if err := eng.Start(); err != nil {
		logger.Fatal("start engine: %v", err)
	}

	router := api.NewServer(eng).Router()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		logger.Info("ttts listening on port %d (prefix=%q, baseDir=%s)", cfg.Port, cfg.Prefix, cfg.BaseDir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown: %v", err)
	}

	if err := eng.Close(); err != nil {
		logger.Error("engine close: %v", err)
	}

	if err := queue.Close(); err != nil {
		logger.Error("task queue close: %v", err)
	}

	logger.Info("ttts shutdown complete")
}
