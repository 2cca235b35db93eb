package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a local SQLite file. Default backend for
// single-process deployments without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer; SQLite locks the whole database anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS user_sessions (
			user_id            TEXT PRIMARY KEY,
			name               TEXT NOT NULL DEFAULT '',
			processed_ids      TEXT NOT NULL DEFAULT '[]',
			preferred_language TEXT NOT NULL DEFAULT 'it',
			message_count      INTEGER NOT NULL DEFAULT 0,
			status             TEXT NOT NULL DEFAULT 'active',
			escalation_reason  TEXT NOT NULL DEFAULT '',
			history            TEXT NOT NULL DEFAULT '[]',
			summary            TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMP NOT NULL,
			updated_at         TIMESTAMP NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create user_sessions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetOrCreate(userID string) (*UserSession, error) {
	sess, ok, err := s.Get(userID)
	if err != nil {
		return nil, err
	}
	if ok {
		return sess, nil
	}

	sess = New(userID)
	if err := s.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) Get(userID string) (*UserSession, bool, error) {
	row := s.db.QueryRow(`
		SELECT user_id, name, processed_ids, preferred_language, message_count,
		       status, escalation_reason, history, summary, created_at, updated_at
		FROM user_sessions WHERE user_id = ?`, userID)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", userID, err)
	}
	return sess, true, nil
}

func (s *SQLiteStore) Save(sess *UserSession) error {
	sess.Updated = time.Now()
	idsJSON, _ := json.Marshal(sess.ProcessedIDs)
	histJSON, _ := json.Marshal(sess.History)

	_, err := s.db.Exec(`
		INSERT INTO user_sessions
			(user_id, name, processed_ids, preferred_language, message_count,
			 status, escalation_reason, history, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			name = excluded.name,
			processed_ids = excluded.processed_ids,
			preferred_language = excluded.preferred_language,
			message_count = excluded.message_count,
			status = excluded.status,
			escalation_reason = excluded.escalation_reason,
			history = excluded.history,
			summary = excluded.summary,
			updated_at = excluded.updated_at`,
		sess.UserID, sess.Name, string(idsJSON), sess.PreferredLanguage, sess.MessageCount,
		sess.Status, sess.EscalationReason, string(histJSON), sess.Summary, sess.Created, sess.Updated)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) List() ([]*UserSession, error) {
	rows, err := s.db.Query(`
		SELECT user_id, name, processed_ids, preferred_language, message_count,
		       status, escalation_reason, history, summary, created_at, updated_at
		FROM user_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*UserSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*UserSession, error) {
	var sess UserSession
	var idsJSON, histJSON string
	err := row.Scan(&sess.UserID, &sess.Name, &idsJSON, &sess.PreferredLanguage,
		&sess.MessageCount, &sess.Status, &sess.EscalationReason, &histJSON,
		&sess.Summary, &sess.Created, &sess.Updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(idsJSON), &sess.ProcessedIDs); err != nil {
		sess.ProcessedIDs = []string{}
	}
	if err := json.Unmarshal([]byte(histJSON), &sess.History); err != nil {
		sess.History = nil
	}
	if sess.PreferredLanguage == "" {
		sess.PreferredLanguage = DefaultLanguage
	}
	return &sess, nil
}
