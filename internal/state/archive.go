// Package state provides the SQLite-backed audit archive. Closed
// conversations and exception records land here and are never read
// back into the live engine; the archive exists for post-run
// inspection via the CLI.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hivecrew/hivecrew/pkg/models"
)

// Archive wraps an SQLite database holding the audit trail.
type Archive struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// DefaultPath returns the project-local archive path.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".hivecrew", "archive.db")
}

// Open opens the archive at the given path, creating parent
// directories and applying migrations. WAL mode is enabled so CLI
// reads don't block the engine's writes.
func Open(path string) (*Archive, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	a := &Archive{conn: conn, path: path}
	if err := a.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn.Close()
}

// Path returns the archive file path.
func (a *Archive) Path() string {
	return a.path
}

func (a *Archive) migrate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := a.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Exceptions},
		{2, migrationV2Conversations},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := a.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Exceptions = `
CREATE TABLE IF NOT EXISTS exceptions (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	task_id TEXT NOT NULL,
	sub_task_id TEXT NOT NULL,
	worker_id TEXT,
	message TEXT,
	status TEXT NOT NULL,
	requires_human INTEGER NOT NULL DEFAULT 0,
	resolution_action TEXT,
	resolved_by TEXT,
	detail TEXT,
	created_at DATETIME NOT NULL,
	archived_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exceptions_task_id ON exceptions(task_id);
CREATE INDEX IF NOT EXISTS idx_exceptions_severity ON exceptions(severity);
`

const migrationV2Conversations = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	task_id TEXT,
	participants TEXT NOT NULL,
	summary TEXT,
	message_count INTEGER NOT NULL DEFAULT 0,
	message_types TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	closed_at DATETIME NOT NULL,
	archived_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_task_id ON conversations(task_id);
`

// RecordException archives an exception record. Re-archiving the same
// record (for example after resolution) replaces the earlier row.
func (a *Archive) RecordException(rec *models.ExceptionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	detail, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode exception record: %w", err)
	}

	var action, resolvedBy string
	if rec.Resolution != nil {
		action = rec.Resolution.Action
		resolvedBy = rec.Resolution.ResolvedBy
	}

	_, err = a.conn.Exec(`
		INSERT OR REPLACE INTO exceptions
			(id, type, severity, task_id, sub_task_id, worker_id, message,
			 status, requires_human, resolution_action, resolved_by, detail,
			 created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Type), string(rec.Severity), rec.TaskID, rec.SubTaskID,
		rec.WorkerID, rec.Message, string(rec.Status), boolToInt(rec.RequiresHuman),
		action, resolvedBy, string(detail),
		formatTime(rec.CreatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("archive exception %s: %w", rec.ID, err)
	}
	return nil
}

// RecordConversation archives a closed collaboration session.
func (a *Archive) RecordConversation(rec *models.ConversationRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.conn.Exec(`
		INSERT OR REPLACE INTO conversations
			(id, session_id, task_id, participants, summary, message_count,
			 message_types, duration_ms, closed_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SessionID, rec.TaskID, strings.Join(rec.Participants, ","),
		rec.Summary, rec.MessageCount, strings.Join(rec.MessageTypes, ","),
		rec.Duration.Milliseconds(), formatTime(rec.ClosedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("archive conversation %s: %w", rec.ID, err)
	}
	return nil
}

// ExceptionSummary is one row of the archived exception listing.
type ExceptionSummary struct {
	ID        string
	Type      string
	Severity  string
	TaskID    string
	SubTaskID string
	Status    string
	Action    string
	Message   string
	CreatedAt time.Time
}

// ListExceptions returns archived exceptions, newest first. Pass an
// empty taskID to list across all tasks.
func (a *Archive) ListExceptions(taskID string, limit int) ([]ExceptionSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	query := `
		SELECT id, type, severity, task_id, sub_task_id, status,
		       COALESCE(resolution_action, ''), COALESCE(message, ''), created_at
		FROM exceptions`
	args := []any{}
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	var out []ExceptionSummary
	for rows.Next() {
		var s ExceptionSummary
		var createdAt string
		if err := rows.Scan(&s.ID, &s.Type, &s.Severity, &s.TaskID, &s.SubTaskID,
			&s.Status, &s.Action, &s.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exception row: %w", err)
		}
		s.CreatedAt, _ = parseTime(createdAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ConversationSummary is one row of the archived conversation listing.
type ConversationSummary struct {
	ID           string
	SessionID    string
	TaskID       string
	Participants []string
	Summary      string
	MessageCount int
	Duration     time.Duration
	ClosedAt     time.Time
}

// ListConversations returns archived conversations, newest first.
func (a *Archive) ListConversations(taskID string, limit int) ([]ConversationSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	query := `
		SELECT id, session_id, COALESCE(task_id, ''), participants,
		       COALESCE(summary, ''), message_count, duration_ms, closed_at
		FROM conversations`
	args := []any{}
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY closed_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		var participants, closedAt string
		var durationMS int64
		if err := rows.Scan(&s.ID, &s.SessionID, &s.TaskID, &participants,
			&s.Summary, &s.MessageCount, &durationMS, &closedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if participants != "" {
			s.Participants = strings.Split(participants, ",")
		}
		s.Duration = time.Duration(durationMS) * time.Millisecond
		s.ClosedAt, _ = parseTime(closedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
