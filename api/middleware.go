package api

import (
	"net/http"

	"github.com/google/uuid"

	"ttts/logger"
)

// requestIDHeader carries a per-request correlation id, generated here when
// the caller doesn't supply one, so log lines for a single request can be
// tied together.
const requestIDHeader = "X-Request-Id"

// requestIDMiddleware stamps every request with a correlation id and logs
// its outcome at trace level.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		logger.TraceIf("api", "%s %s [%s]", r.Method, r.URL.Path, id)
		next.ServeHTTP(w, r)
	})
}
