package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Keyring-Network/newslens/internal/events"
)

type postMessageRequest struct {
	Action    string `json:"action"`
	RequestID uint64 `json:"request_id,omitempty"`
}

type postMessageResponse struct {
	Action    events.Action `json:"action"`
	RequestID uint64        `json:"request_id"`
}

// postMessage accepts a popup request and answers before it is handled. The
// outcome arrives later on the result stream, tagged with the request id.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var payload postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	action := events.NormalizeAction(payload.Action)
	if action == "" {
		writeError(w, "action is required", http.StatusBadRequest)
		return
	}
	if !s.dispatcher.Handles(action) {
		writeError(w, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
		return
	}

	req := s.dispatcher.Stamp(events.Request{Action: action, RequestID: payload.RequestID})

	// The request context ends with this response; the dispatch outlives it.
	ctx, ok := s.track()
	if !ok {
		writeError(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	go func() {
		defer s.inflight.Done()
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			s.logger.Debug("dispatch finished with error",
				"request_id", req.RequestID, "action", req.Action, "error", err)
		}
	}()

	writeJSONStatus(w, postMessageResponse{Action: action, RequestID: req.RequestID}, http.StatusAccepted)
}

func (s *Server) streamResults(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	results := s.broker.Subscribe(ctx)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case result, ok := <-results:
			if !ok {
				return
			}
			if err := sendSSE(w, result); err != nil {
				s.logger.Error("encode result", "action", result.Action, "request_id", result.RequestID, "error", err)
				continue
			}
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, result events.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if result.RequestID != 0 {
		fmt.Fprintf(w, "id: %d\n", result.RequestID)
	}
	fmt.Fprintf(w, "event: %s\n", result.Action)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	return nil
}
