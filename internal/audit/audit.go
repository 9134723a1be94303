// Package audit implements the structured audit event log of spec §6's
// AUDIT_LOGGING_ENABLED gate: every completed tool dispatch, persisted to
// an embedded sqlite database via modernc.org/sqlite (pure Go, no cgo —
// the same driver other_examples' gpud reaches for to avoid a cgo build
// dependency).
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/darbotlabs/browser-broker/internal/tools"
	"github.com/darbotlabs/browser-broker/internal/types"
)

// Logger implements tools.AuditSink against one sqlite database file. It
// satisfies the narrow port Dispatcher.Audit expects without internal/tools
// importing internal/audit, mirroring the ProfileStore/CrawlHost pattern.
type Logger struct {
	db *sql.DB
}

// Open creates (or reuses) the audit database at path and ensures its
// schema exists.
func Open(path string) (*Logger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &Logger{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   TEXT    NOT NULL,
	session_id  TEXT    NOT NULL,
	tool        TEXT    NOT NULL,
	side_effect TEXT    NOT NULL,
	duration_ms INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	error_kind  TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_events_session ON audit_events(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
`

// Record implements tools.AuditSink. A failure to write the audit row is
// discarded: it is neither logged nor surfaced to the tool call itself, so
// an audit-log write failure never fails a browser action.
func (l *Logger) Record(ctx context.Context, event tools.AuditEvent) {
	success := 1
	errKind := ""
	if event.Err != nil {
		success = 0
		errKind = kindOf(event.Err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, _ = l.db.ExecContext(writeCtx,
		`INSERT INTO audit_events (timestamp, session_id, tool, side_effect, duration_ms, success, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.SessionID, event.Tool, string(event.SideEffect), event.DurationMS, success, errKind,
	)
}

// Event is one row as read back by Query, the JSON-friendly counterpart of
// tools.AuditEvent (which carries a live error rather than its classified
// string form).
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"sessionId"`
	Tool       string    `json:"tool"`
	SideEffect string    `json:"sideEffect"`
	DurationMS int64     `json:"durationMs"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"errorKind,omitempty"`
}

// Query returns the most recent limit events for sessionID, newest first.
// An empty sessionID returns events across every session.
func (l *Logger) Query(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	var rows *sql.Rows
	var err error
	if sessionID == "" {
		rows, err = l.db.QueryContext(ctx,
			`SELECT timestamp, session_id, tool, side_effect, duration_ms, success, error_kind
			 FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = l.db.QueryContext(ctx,
			`SELECT timestamp, session_id, tool, side_effect, duration_ms, success, error_kind
			 FROM audit_events WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts string
		var success int
		var errKind sql.NullString
		if err := rows.Scan(&ts, &e.SessionID, &e.Tool, &e.SideEffect, &e.DurationMS, &success, &errKind); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Success = success != 0
		e.ErrorKind = errKind.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (l *Logger) Close() error { return l.db.Close() }

// kindOf extracts the stable Kind off a *types.KindError, falling back to
// a coarser label for the driver/guardrail error types that carry their
// own distinct shape (spec §7's Kind taxonomy only formally classifies at
// the transport boundary; this is a best-effort label for the audit row).
func kindOf(err error) string {
	var ke *types.KindError
	if errors.As(err, &ke) {
		return string(ke.Kind)
	}
	var de *types.DriverError
	if errors.As(err, &de) {
		return string(types.KindDriver)
	}
	var ge *types.GuardrailError
	if errors.As(err, &ge) {
		return string(types.KindBlocked)
	}
	return string(types.KindUnknown)
}
