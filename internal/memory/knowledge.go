package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var defaultSources = []TrustedSource{
	{Domain: "en.wikipedia.org", TopicCategories: []string{"general", "science", "technology"}, TrustLevel: 9},
	{Domain: "stackoverflow.com", TopicCategories: []string{"programming", "technology"}, TrustLevel: 8},
	{Domain: "arxiv.org", TopicCategories: []string{"science", "mathematics", "ai"}, TrustLevel: 10},
	{Domain: "github.com", TopicCategories: []string{"programming", "open-source"}, TrustLevel: 7},
	{Domain: "nature.com", TopicCategories: []string{"science", "research"}, TrustLevel: 10},
	{Domain: "sciencedirect.com", TopicCategories: []string{"science", "research"}, TrustLevel: 9},
}

var defaultFilterKeywords = []string{
	"violence", "harmful", "dangerous", "illegal", "malware",
	"exploit", "hack", "phishing", "scam", "fraud",
}

const DefaultCrawlFrequencyHours = 24

// DefaultSources returns a copy of the built-in trusted source list.
func DefaultSources() []TrustedSource {
	out := make([]TrustedSource, len(defaultSources))
	copy(out, defaultSources)
	return out
}

const knowledgeColumns = `content_hash, topic, content, source_url, confidence_score, learned_at, validation_status, human_approved`

// UpsertKnowledge stores item keyed by its content hash. Re-learning the same
// content refreshes topic, source, confidence and learned_at but keeps the
// review status a human may already have set.
func (s *Store) UpsertKnowledge(ctx context.Context, item KnowledgeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ContentHash == "" {
		item.ContentHash = ContentHash(item.Content)
	}
	status := item.ValidationStatus
	if status == "" {
		status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge (`+knowledgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			topic = excluded.topic,
			content = excluded.content,
			source_url = excluded.source_url,
			confidence_score = excluded.confidence_score,
			learned_at = excluded.learned_at
	`, item.ContentHash, item.Topic, item.Content, item.SourceURL, item.Confidence,
		formatTime(item.LearnedAt), status, boolToInt(item.HumanApproved))
	if err != nil {
		return fmt.Errorf("upsert knowledge: %w", err)
	}
	return nil
}

// KnowledgeOnTopic lists knowledge whose topic contains topic, excluding
// rejected items, by confidence then recency. An empty topic lists
// everything by recency.
func (s *Store) KnowledgeOnTopic(ctx context.Context, topic string, limit int) ([]KnowledgeItem, error) {
	if limit <= 0 {
		return []KnowledgeItem{}, nil
	}
	var (
		rows *sql.Rows
		err  error
	)
	if topic = strings.TrimSpace(topic); topic == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+knowledgeColumns+` FROM knowledge
			ORDER BY learned_at DESC
			LIMIT ?
		`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+knowledgeColumns+` FROM knowledge
			WHERE topic LIKE ? AND validation_status != 'rejected'
			ORDER BY confidence_score DESC, learned_at DESC
			LIMIT ?
		`, "%"+topic+"%", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	result := make([]KnowledgeItem, 0)
	for rows.Next() {
		var k KnowledgeItem
		var learned string
		var approved int
		if err := rows.Scan(&k.ContentHash, &k.Topic, &k.Content, &k.SourceURL, &k.Confidence,
			&learned, &k.ValidationStatus, &approved); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		k.LearnedAt = parseTime(learned)
		k.HumanApproved = approved == 1
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge: %w", err)
	}
	return result, nil
}

// ApproveKnowledge marks an item validated by a human.
func (s *Store) ApproveKnowledge(ctx context.Context, contentHash string) error {
	return s.SetKnowledgeStatus(ctx, contentHash, StatusValidated)
}

// SetKnowledgeStatus moves an item to status. Validated items are also
// flagged human approved; any other status clears the flag.
func (s *Store) SetKnowledgeStatus(ctx context.Context, contentHash, status string) error {
	switch status {
	case StatusPending, StatusValidated, StatusFlagged, StatusRejected:
	default:
		return fmt.Errorf("set knowledge status: unknown status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge SET validation_status = ?, human_approved = ?
		WHERE content_hash = ?
	`, status, boolToInt(status == StatusValidated), contentHash)
	if err != nil {
		return fmt.Errorf("set knowledge status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrKnowledgeNotFound
	}
	return nil
}

// SeedTrustedSources inserts the built-in sources that are not yet known.
func (s *Store) SeedTrustedSources(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range defaultSources {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO trusted_sources (domain, topic_categories, trust_level, crawl_frequency)
			VALUES (?, ?, ?, ?)
		`, src.Domain, encodeList(src.TopicCategories), src.TrustLevel, DefaultCrawlFrequencyHours); err != nil {
			return fmt.Errorf("seed trusted source %s: %w", src.Domain, err)
		}
	}
	return nil
}

// AddTrustedSource registers a new active source. Trust is clamped to 1..10.
func (s *Store) AddTrustedSource(ctx context.Context, src TrustedSource) error {
	domain := strings.ToLower(strings.TrimSpace(src.Domain))
	if domain == "" {
		return fmt.Errorf("add trusted source: empty domain")
	}
	trust := src.TrustLevel
	if trust < 1 {
		trust = 1
	}
	if trust > 10 {
		trust = 10
	}
	freq := src.CrawlFrequencyHours
	if freq <= 0 {
		freq = DefaultCrawlFrequencyHours
	}
	categories := make([]string, 0, len(src.TopicCategories))
	for _, c := range src.TopicCategories {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trusted_sources (domain, topic_categories, trust_level, crawl_frequency, active)
		VALUES (?, ?, ?, ?, 1)
	`, domain, encodeList(categories), trust, freq)
	if err != nil {
		return fmt.Errorf("add trusted source: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("add trusted source %s: %w", domain, ErrDuplicateSource)
	}
	return nil
}

// ActiveSources lists active trusted sources, most trusted first.
func (s *Store) ActiveSources(ctx context.Context) ([]TrustedSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, topic_categories, trust_level, last_crawled, crawl_frequency, active
		FROM trusted_sources
		WHERE active = 1
		ORDER BY trust_level DESC, domain ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trusted sources: %w", err)
	}
	defer rows.Close()

	result := make([]TrustedSource, 0)
	for rows.Next() {
		var src TrustedSource
		var categories string
		var last sql.NullString
		var active int
		if err := rows.Scan(&src.Domain, &categories, &src.TrustLevel, &last, &src.CrawlFrequencyHours, &active); err != nil {
			return nil, fmt.Errorf("scan trusted source: %w", err)
		}
		src.TopicCategories = decodeList(categories)
		src.LastCrawled = parseNullTime(last)
		src.Active = active == 1
		result = append(result, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trusted sources: %w", err)
	}
	return result, nil
}

func (s *Store) MarkSourceCrawled(ctx context.Context, domain string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE trusted_sources SET last_crawled = ? WHERE domain = ?
	`, formatTime(at), domain); err != nil {
		return fmt.Errorf("mark source crawled: %w", err)
	}
	return nil
}

// SeedContentFilters installs the default keyword filters.
func (s *Store) SeedContentFilters(ctx context.Context) error {
	for _, kw := range defaultFilterKeywords {
		if err := s.AddContentFilter(ctx, kw); err != nil {
			return err
		}
	}
	return nil
}

// AddContentFilter adds an active keyword filter; existing keywords are
// left untouched.
func (s *Store) AddContentFilter(ctx context.Context, keyword string) error {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return fmt.Errorf("add content filter: empty keyword")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO content_filters (filter_type, filter_value, active)
		VALUES ('keyword', ?, 1)
	`, keyword); err != nil {
		return fmt.Errorf("add content filter: %w", err)
	}
	return nil
}

func (s *Store) ActiveFilterKeywords(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filter_value FROM content_filters
		WHERE filter_type = 'keyword' AND active = 1
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query content filters: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan content filter: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content filters: %w", err)
	}
	return out, nil
}

// StartLearningSession opens a session row and returns its id.
func (s *Store) StartLearningSession(ctx context.Context, topic string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_sessions (topic, start_time, status) VALUES (?, ?, 'active')
	`, topic, formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("start learning session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("learning session id: %w", err)
	}
	return id, nil
}

func (s *Store) EndLearningSession(ctx context.Context, id int64, at time.Time, discovered, validated int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE learning_sessions
		SET end_time = ?, status = 'completed', nodes_discovered = ?, nodes_validated = ?
		WHERE id = ?
	`, formatTime(at), discovered, validated, id); err != nil {
		return fmt.Errorf("end learning session: %w", err)
	}
	return nil
}

// RecentLearningSessions lists sessions newest first.
func (s *Store) RecentLearningSessions(ctx context.Context, limit int) ([]LearningSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, start_time, end_time, status, nodes_discovered, nodes_validated
		FROM learning_sessions
		ORDER BY start_time DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query learning sessions: %w", err)
	}
	defer rows.Close()

	result := make([]LearningSession, 0)
	for rows.Next() {
		var ls LearningSession
		var start string
		var end sql.NullString
		if err := rows.Scan(&ls.ID, &ls.Topic, &start, &end, &ls.Status, &ls.NodesDiscovered, &ls.NodesValidated); err != nil {
			return nil, fmt.Errorf("scan learning session: %w", err)
		}
		ls.StartTime = parseTime(start)
		ls.EndTime = parseNullTime(end)
		result = append(result, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate learning sessions: %w", err)
	}
	return result, nil
}

// IsNotFound reports whether err means a knowledge item does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKnowledgeNotFound)
}

// CountKnowledge counts knowledge items, optionally only those with status.
func (s *Store) CountKnowledge(ctx context.Context, status string) (int, error) {
	query := `SELECT COUNT(1) FROM knowledge`
	var args []any
	if status != "" {
		query += ` WHERE validation_status = ?`
		args = append(args, status)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count knowledge: %w", err)
	}
	return n, nil
}
