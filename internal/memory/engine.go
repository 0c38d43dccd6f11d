package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is May's SQLite-backed memory: conversation turns, the user profile,
// and everything the learning engine collects.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB wraps an already opened database without touching its
// schema.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_message TEXT NOT NULL,
			may_response TEXT NOT NULL,
			topic TEXT NOT NULL,
			sentiment TEXT NOT NULL,
			importance INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			context_tags TEXT NOT NULL DEFAULT '[]',
			referenced_memories TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_topic ON conversations(topic, importance, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp)`,
		`CREATE TABLE IF NOT EXISTS user_profile (
			name TEXT PRIMARY KEY,
			interests TEXT NOT NULL DEFAULT '[]',
			"values" TEXT NOT NULL DEFAULT '[]',
			conversation_patterns TEXT NOT NULL DEFAULT '{}',
			last_interaction TEXT NOT NULL,
			relationship_level INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS memory_connections (
			memory1_id TEXT NOT NULL,
			memory2_id TEXT NOT NULL,
			connection_type TEXT NOT NULL,
			strength REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reflections (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			topic TEXT NOT NULL,
			created_at TEXT NOT NULL,
			memories_referenced TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content_hash TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			content TEXT NOT NULL,
			source_url TEXT NOT NULL,
			confidence_score REAL NOT NULL,
			learned_at TEXT NOT NULL,
			validation_status TEXT NOT NULL DEFAULT 'pending',
			human_approved INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_topic ON knowledge(topic, validation_status)`,
		`CREATE TABLE IF NOT EXISTS trusted_sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain TEXT NOT NULL UNIQUE,
			topic_categories TEXT NOT NULL DEFAULT '[]',
			trust_level INTEGER NOT NULL,
			last_crawled TEXT,
			crawl_frequency INTEGER NOT NULL DEFAULT 24,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS learning_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			nodes_discovered INTEGER NOT NULL DEFAULT 0,
			nodes_validated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS content_filters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filter_type TEXT NOT NULL,
			filter_value TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			UNIQUE(filter_type, filter_value)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Stats counts turns, knowledge items (and how many await review) and
// trusted sources.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(1) FROM conversations),
			(SELECT COUNT(1) FROM knowledge),
			(SELECT COUNT(1) FROM knowledge WHERE validation_status = 'pending'),
			(SELECT COUNT(1) FROM trusted_sources)
	`).Scan(&st.Turns, &st.Knowledge, &st.Pending, &st.Sources)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	if t, err := time.Parse(timeLayout, v); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t := parseTime(v.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func decodeList(raw string) []string {
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func encodePatterns(p map[string]string) string {
	if p == nil {
		p = map[string]string{}
	}
	data, _ := json.Marshal(p)
	return string(data)
}

func decodePatterns(raw string) map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
