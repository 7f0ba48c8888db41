package api

import (
	"net/http"

	"ttts/engine"
)

// queryOrBodyWait reports whether the caller asked the handler to block on
// the enqueued task before responding via a "wait=true" query parameter.
// Only the query form is checked here; handlers that decode a JSON body
// reject a "wait" field in it as unknown.
func queryOrBodyWait(r *http.Request) bool {
	return queryBool(r, "wait")
}

// respondDataTask writes the response for an enqueued ADD/REMOVE: 202 with
// the task id, or (if wait was requested) blocks on WaitTask first and then
// responds 202 regardless, since the task is still fundamentally async.
func respondDataTask(w http.ResponseWriter, eng *engine.Engine, taskID string, wait bool) {
	if wait {
		if err := eng.WaitTask(taskID); err != nil {
			respondEngineError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

// respondManagementTask writes the response for an enqueued management
// task (SYNC, OPTIMIZE, RECONSTRUCT, RESERVE, DROP_SHARD): 200 with the
// task id once enqueued, or (if wait was requested) after WaitTask
// resolves. A failure surfaced by WaitTask (e.g. admission denied that
// slipped past the handler's own pre-enqueue check under a race) maps to
// its usual status via respondEngineError.
func respondManagementTask(w http.ResponseWriter, eng *engine.Engine, taskID string, wait bool) {
	if wait {
		if err := eng.WaitTask(taskID); err != nil {
			respondEngineError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"taskId": taskID})
}
