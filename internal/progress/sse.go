package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// ServeSSE streams events for id as text/event-stream. Lookup errors are
// returned before any header is written so callers can map them to a status.
func (r *Reporter) ServeSSE(w http.ResponseWriter, req *http.Request, id string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}
	t, err := r.tasks.Get(id)
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = r.stream(req.Context(), id, t, func(e Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && req.Context().Err() == nil {
		r.logger.Warn("Progress stream ended early", "task_id", id, "error", err)
	}
	return nil
}
