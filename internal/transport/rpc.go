package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/darbotlabs/browser-broker/internal/driver"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// sessionHeader carries the session id on the primary transport (spec §6:
// "on initialize, response sets X-Session-Id. Subsequent calls must carry
// X-Session-Id").
const sessionHeader = "X-Session-Id"

// maxRPCBodySize bounds request bodies the way the teacher's handler caps
// FlareSolverr requests at 1MB, to prevent memory exhaustion from a hostile
// client.
const maxRPCBodySize = 1 << 20

// rpcMessage is the single JSON message body spec §4.1/§6 describes for
// POST /rpc. Every message first opens or resumes the session named by
// X-Session-Id (falling back to Message.SessionID for callers that prefer a
// body field over the header). A message with Type=="initialize" or an empty
// Tool stops there; any other message is a tool call against that session.
type rpcMessage struct {
	Type      string         `json:"type,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

// rpcEnvelope is the uniform response shape for /rpc: exactly one of Result
// or Error is set.
type rpcEnvelope struct {
	Status    string              `json:"status"`
	SessionID string              `json:"sessionId,omitempty"`
	Result    *mcp.CallToolResult `json:"result,omitempty"`
	Error     *ErrorBody          `json:"error,omitempty"`
}

// handleRPC implements the primary bidirectional channel. A reconnect with
// an unknown or absent session id silently creates a new one rather than
// failing (spec §4.1's mandated "silent create" resolution).
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, rpcEnvelope{Status: "error", Error: &ErrorBody{Kind: string(types.KindBadInput), Message: "method not allowed"}})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodySize)
	defer closeBody(r.Body)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rpcEnvelope{Status: "error", Error: &ErrorBody{Kind: string(types.KindBadInput), Message: "failed to read request body"}})
		return
	}

	var msg rpcMessage
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcEnvelope{Status: "error", Error: &ErrorBody{Kind: string(types.KindBadInput), Message: "invalid JSON message"}})
			return
		}
	}
	// An empty body is treated as an initialize message: msg.Tool stays ""
	// and the handler below opens a session without dispatching a tool call.

	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		sessionID = msg.SessionID
	}

	sess, created, err := s.Sessions.GetOrCreate(r.Context(), sessionID, driver.ContextOptions{})
	if err != nil {
		s.writeRPCError(w, "", err)
		return
	}
	if created {
		w.Header().Set(sessionHeader, sess.ID)
	}

	if msg.Type == "initialize" || msg.Tool == "" {
		writeJSON(w, http.StatusOK, rpcEnvelope{Status: "ok", SessionID: sess.ID})
		return
	}

	log.Info().Str("session_id", sess.ID).Str("tool", msg.Tool).Msg("rpc: tool call")

	result, err := s.Dispatcher.Call(r.Context(), sess.ID, msg.Tool, msg.Args)
	if err != nil {
		s.writeRPCError(w, sess.ID, err)
		return
	}

	writeJSON(w, http.StatusOK, rpcEnvelope{Status: "ok", SessionID: sess.ID, Result: result})
}

func (s *Server) writeRPCError(w http.ResponseWriter, sessionID string, err error) {
	body := errorBodyFor(err)
	log.Warn().Str("session_id", sessionID).Str("kind", body.Kind).Err(err).Msg("rpc: tool call failed")
	writeJSON(w, statusFor(kindOf(err)), rpcEnvelope{Status: "error", SessionID: sessionID, Error: &body})
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		log.Debug().Err(err).Msg("transport: error closing request body")
	}
}
