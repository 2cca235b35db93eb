package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// hotCacheSize bounds the number of sessions kept in memory by the Postgres
// store. Evicted sessions are reloaded from the database on next access.
const hotCacheSize = 2048

// PostgresStore persists sessions in Postgres (managed mode). A bounded LRU
// cache keeps hot sessions in memory so the pipeline does not hit the database
// on every stage of a message.
type PostgresStore struct {
	db    *sql.DB
	cache *lru.Cache[string, *UserSession]
}

// NewPostgresStore connects to Postgres using the pgx stdlib driver.
// Schema is managed by the migrate command, not created here.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	cache, err := lru.New[string, *UserSession](hotCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, cache: cache}, nil
}

func (s *PostgresStore) GetOrCreate(userID string) (*UserSession, error) {
	if sess, ok := s.cache.Get(userID); ok {
		return sess, nil
	}

	sess, ok, err := s.loadFromDB(userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		sess = New(userID)
		idsJSON, _ := json.Marshal(sess.ProcessedIDs)
		_, err = s.db.Exec(`
			INSERT INTO user_sessions (id, user_id, processed_ids, preferred_language, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (user_id) DO NOTHING`,
			uuid.Must(uuid.NewV7()), userID, idsJSON, sess.PreferredLanguage, sess.Status, sess.Created, sess.Updated)
		if err != nil {
			return nil, fmt.Errorf("insert session %s: %w", userID, err)
		}
	}
	s.cache.Add(userID, sess)
	return sess, nil
}

func (s *PostgresStore) Get(userID string) (*UserSession, bool, error) {
	if sess, ok := s.cache.Get(userID); ok {
		return sess, true, nil
	}
	sess, ok, err := s.loadFromDB(userID)
	if err != nil || !ok {
		return nil, false, err
	}
	s.cache.Add(userID, sess)
	return sess, true, nil
}

func (s *PostgresStore) Save(sess *UserSession) error {
	sess.Updated = time.Now()
	idsJSON, _ := json.Marshal(sess.ProcessedIDs)
	histJSON, _ := json.Marshal(sess.History)

	// Upsert: a cache-resident session must survive its row being removed
	// out of band, matching the SQLite store's behavior.
	_, err := s.db.Exec(`
		INSERT INTO user_sessions (id, user_id, name, processed_ids, preferred_language,
			message_count, status, escalation_reason, history, summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name, processed_ids = EXCLUDED.processed_ids,
			preferred_language = EXCLUDED.preferred_language, message_count = EXCLUDED.message_count,
			status = EXCLUDED.status, escalation_reason = EXCLUDED.escalation_reason,
			history = EXCLUDED.history, summary = EXCLUDED.summary, updated_at = EXCLUDED.updated_at`,
		uuid.Must(uuid.NewV7()), sess.UserID, sess.Name, idsJSON, sess.PreferredLanguage,
		sess.MessageCount, sess.Status, sess.EscalationReason, histJSON, sess.Summary,
		sess.Created, sess.Updated)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	s.cache.Add(sess.UserID, sess)
	return nil
}

func (s *PostgresStore) List() ([]*UserSession, error) {
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

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) loadFromDB(userID string) (*UserSession, bool, error) {
	row := s.db.QueryRow(`
		SELECT user_id, name, processed_ids, preferred_language, message_count,
		       status, escalation_reason, history, summary, created_at, updated_at
		FROM user_sessions WHERE user_id = $1`, userID)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", userID, err)
	}
	return sess, true, nil
}
