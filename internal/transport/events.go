package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// eventHub fans out tool-call results to any GET /events listeners for a
// session, implementing the legacy "server push paired with a client
// submit endpoint" wire shape (spec §4.1, §6). Unlike /rpc, the legacy
// transport never silently creates a session — spec §9's resolved Open
// Question mandates 404 on an unknown id here.
type eventHub struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[string]map[chan []byte]struct{})}
}

func (h *eventHub) subscribe(sessionID string) (chan []byte, func()) {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan []byte]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[sessionID], ch)
		if len(h.subs[sessionID]) == 0 {
			delete(h.subs, sessionID)
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

func (h *eventHub) publish(sessionID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- data:
		default:
			log.Warn().Str("session_id", sessionID).Msg("events: subscriber channel full, dropping notification")
		}
	}
}

// sessionIDFromEventsRequest reads the session id from the header first,
// falling back to a query parameter for plain GET clients that can't set
// custom headers.
func sessionIDFromEventsRequest(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("sessionId")
}

// handleEventsGet opens a server-push SSE stream for an existing session.
// 404s on an unknown session id rather than creating one.
func (s *Server) handleEventsGet(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromEventsRequest(r)
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if _, err := s.Sessions.Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.Events.subscribe(sessionID)
	defer cancel()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleEventsPost is the client-to-server submit half: one tool call
// against an existing session, 404 on an unknown id, with the result both
// returned synchronously and published to any open GET stream.
func (s *Server) handleEventsPost(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromEventsRequest(r)
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if _, err := s.Sessions.Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodySize)
	defer closeBody(r.Body)

	var msg rpcMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcEnvelope{Status: "error", Error: &ErrorBody{Kind: string(types.KindBadInput), Message: "invalid JSON message"}})
		return
	}

	result, err := s.Dispatcher.Call(r.Context(), sessionID, msg.Tool, msg.Args)
	if err != nil {
		body := errorBodyFor(err)
		if data, mErr := json.Marshal(rpcEnvelope{Status: "error", SessionID: sessionID, Error: &body}); mErr == nil {
			s.Events.publish(sessionID, data)
		}
		s.writeRPCError(w, sessionID, err)
		return
	}

	env := rpcEnvelope{Status: "ok", SessionID: sessionID, Result: result}
	if data, mErr := json.Marshal(env); mErr == nil {
		s.Events.publish(sessionID, data)
	}
	writeJSON(w, http.StatusOK, env)
}
