package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const turnColumns = `id, user_message, may_response, topic, sentiment, importance, timestamp, context_tags, referenced_memories`

// InsertTurn stores a new turn. Turn ids are unique; inserting an existing
// id is an error.
func (s *Store) InsertTurn(ctx context.Context, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+turnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserMessage, t.Reply, t.Topic, t.Sentiment, t.Importance,
		formatTime(t.Timestamp), encodeList(t.ContextTags), encodeList(t.ReferencedMemories))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// TurnsForTopic returns turns whose primary topic is topic or whose context
// tags mention it, most important first and newest first among equals.
func (s *Store) TurnsForTopic(ctx context.Context, topic string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return []Turn{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+turnColumns+` FROM conversations
		WHERE topic = ? OR context_tags LIKE ?
		ORDER BY importance DESC, timestamp DESC
		LIMIT ?
	`, topic, "%"+topic+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("query turns for topic: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// RecentTurns lists turns newest first. A non-empty topic keeps only turns
// whose topic or tags contain it.
func (s *Store) RecentTurns(ctx context.Context, topic string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return []Turn{}, nil
	}
	query := `SELECT ` + turnColumns + ` FROM conversations`
	args := []any{}
	if topic = strings.TrimSpace(topic); topic != "" {
		query += ` WHERE topic LIKE ? OR context_tags LIKE ?`
		args = append(args, "%"+topic+"%", "%"+topic+"%")
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// GetTurn loads a single turn by id.
func (s *Store) GetTurn(ctx context.Context, id string) (Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+turnColumns+` FROM conversations WHERE id = ?`, id)
	if err != nil {
		return Turn{}, fmt.Errorf("query turn: %w", err)
	}
	defer rows.Close()
	turns, err := scanTurns(rows)
	if err != nil {
		return Turn{}, err
	}
	if len(turns) == 0 {
		return Turn{}, fmt.Errorf("get turn %s: %w", id, sql.ErrNoRows)
	}
	return turns[0], nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	result := make([]Turn, 0)
	for rows.Next() {
		var t Turn
		var ts, tags, refs string
		if err := rows.Scan(
			&t.ID,
			&t.UserMessage,
			&t.Reply,
			&t.Topic,
			&t.Sentiment,
			&t.Importance,
			&ts,
			&tags,
			&refs,
		); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp = parseTime(ts)
		t.ContextTags = decodeList(tags)
		t.ReferencedMemories = decodeList(refs)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return result, nil
}

// LoadProfile returns the most recently active profile, or ErrNoProfile when
// none exists.
func (s *Store) LoadProfile(ctx context.Context) (Profile, error) {
	var p Profile
	var interests, values, patterns, last string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, interests, "values", conversation_patterns, last_interaction, relationship_level
		FROM user_profile
		ORDER BY last_interaction DESC, rowid DESC
		LIMIT 1
	`).Scan(&p.Name, &interests, &values, &patterns, &last, &p.RelationshipLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNoProfile
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	p.Interests = decodeList(interests)
	p.Values = decodeList(values)
	p.ConversationPatterns = decodePatterns(patterns)
	p.LastInteraction = parseTime(last)
	return p, nil
}

// SaveProfile inserts or replaces the profile row keyed by p.Name. Rows for
// other names are kept.
func (s *Store) SaveProfile(ctx context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.RelationshipLevel <= 0 {
		p.RelationshipLevel = 1
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_profile
			(name, interests, "values", conversation_patterns, last_interaction, relationship_level)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Name, encodeList(p.Interests), encodeList(p.Values), encodePatterns(p.ConversationPatterns),
		formatTime(p.LastInteraction), p.RelationshipLevel); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// CountTurns returns the number of stored turns.
func (s *Store) CountTurns(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}
