package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; cross-session reads stay concurrent.
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS digests (
			session_id TEXT PRIMARY KEY,
			covers_through INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			generated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			content TEXT,
			vector BLOB,
			metadata TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Turn Implementation

func (s *SQLiteStore) AppendTurn(sessionID string, role Role, content string, tokenCount int) (Turn, error) {
	if !ValidRole(role) {
		return Turn{}, fmt.Errorf("invalid role: %q", role)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Turn{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	if _, err := tx.Exec(`INSERT INTO sessions (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`, sessionID, now); err != nil {
		return Turn{}, fmt.Errorf("failed to ensure session: %w", err)
	}

	// Sequence assignment and insert share the transaction, so the
	// per-session sequence stays gapless even with competing writers.
	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return Turn{}, fmt.Errorf("failed to compute next sequence: %w", err)
	}

	turn := Turn{
		SessionID:  sessionID,
		Seq:        seq,
		Role:       role,
		Content:    content,
		TokenCount: tokenCount,
		CreatedAt:  now,
	}

	if _, err := tx.Exec(
		`INSERT INTO turns (session_id, seq, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.SessionID, turn.Seq, string(turn.Role), turn.Content, turn.TokenCount, turn.CreatedAt,
	); err != nil {
		return Turn{}, fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Turn{}, fmt.Errorf("failed to commit turn: %w", err)
	}
	return turn, nil
}

func (s *SQLiteStore) GetTurns(sessionID string, fromSeq int64) ([]Turn, error) {
	rows, err := s.db.Query(
		`SELECT session_id, seq, role, content, token_count, created_at FROM turns WHERE session_id = ? AND seq > ? ORDER BY seq`,
		sessionID, fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&t.SessionID, &t.Seq, &role, &t.Content, &t.TokenCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Digest Implementation

func (s *SQLiteStore) GetDigest(sessionID string) (*Digest, error) {
	row := s.db.QueryRow(
		`SELECT session_id, covers_through, content, token_count, generated_at FROM digests WHERE session_id = ?`,
		sessionID,
	)

	var d Digest
	if err := row.Scan(&d.SessionID, &d.CoversThrough, &d.Content, &d.TokenCount, &d.GeneratedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read digest: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) SetDigest(sessionID string, d Digest) error {
	_, err := s.db.Exec(
		`INSERT INTO digests (session_id, covers_through, content, token_count, generated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			covers_through = excluded.covers_through,
			content = excluded.content,
			token_count = excluded.token_count,
			generated_at = excluded.generated_at`,
		sessionID, d.CoversThrough, d.Content, d.TokenCount, d.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write digest: %w", err)
	}
	return nil
}

// Session Implementation

func (s *SQLiteStore) ClearSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, query := range []string{
		`DELETE FROM turns WHERE session_id = ?`,
		`DELETE FROM digests WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.Exec(query, sessionID); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.created_at, COUNT(t.seq)
		FROM sessions s LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id ORDER BY s.created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.CreatedAt, &sess.TurnCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM configuration WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func marshalMeta(meta map[string]string) (string, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}
