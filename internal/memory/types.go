package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrNoProfile         = errors.New("no user profile")
	ErrDuplicateSource   = errors.New("trusted source already exists")
	ErrKnowledgeNotFound = errors.New("knowledge item not found")
)

// Turn is one user message and May's reply. Turns are written once and never
// updated.
type Turn struct {
	ID                 string    `json:"id"`
	UserMessage        string    `json:"user_message"`
	Reply              string    `json:"may_response"`
	Topic              string    `json:"topic"`
	Sentiment          string    `json:"sentiment"`
	Importance         int       `json:"importance"`
	Timestamp          time.Time `json:"timestamp"`
	ContextTags        []string  `json:"context_tags"`
	ReferencedMemories []string  `json:"referenced_memories"`
}

// NewTurnID derives a turn id from its content and creation time: the first
// 16 hex characters of sha256(userMessage + reply + at).
func NewTurnID(userMessage, reply string, at time.Time) string {
	sum := sha256.Sum256([]byte(userMessage + reply + at.UTC().Format(timeLayout)))
	return hex.EncodeToString(sum[:])[:16]
}

type Profile struct {
	Name                 string            `json:"name"`
	Interests            []string          `json:"interests"`
	Values               []string          `json:"values"`
	ConversationPatterns map[string]string `json:"conversation_patterns"`
	LastInteraction      time.Time         `json:"last_interaction"`
	RelationshipLevel    int               `json:"relationship_level"`
}

// NewProfile returns a fresh profile at relationship level 1.
func NewProfile(name string, now time.Time) Profile {
	return Profile{
		Name:                 name,
		Interests:            []string{},
		Values:               []string{},
		ConversationPatterns: map[string]string{},
		LastInteraction:      now,
		RelationshipLevel:    1,
	}
}

// AddInterests appends topics not already present, preserving order. It
// reports whether anything was added.
func (p *Profile) AddInterests(topics []string) bool {
	seen := make(map[string]bool, len(p.Interests))
	for _, i := range p.Interests {
		seen[i] = true
	}
	added := false
	for _, t := range topics {
		if t == "" || seen[t] {
			continue
		}
		p.Interests = append(p.Interests, t)
		seen[t] = true
		added = true
	}
	return added
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := p
	out.Interests = append([]string(nil), p.Interests...)
	out.Values = append([]string(nil), p.Values...)
	out.ConversationPatterns = make(map[string]string, len(p.ConversationPatterns))
	for k, v := range p.ConversationPatterns {
		out.ConversationPatterns[k] = v
	}
	return out
}

const (
	StatusPending   = "pending"
	StatusValidated = "validated"
	StatusFlagged   = "flagged"
	StatusRejected  = "rejected"
)

// KnowledgeItem is a snippet of text learned from a trusted source, keyed by
// the sha-256 of its content.
type KnowledgeItem struct {
	ContentHash      string    `json:"content_hash"`
	Topic            string    `json:"topic"`
	Content          string    `json:"content"`
	SourceURL        string    `json:"source_url"`
	Confidence       float64   `json:"confidence_score"`
	LearnedAt        time.Time `json:"learned_at"`
	ValidationStatus string    `json:"validation_status"`
	HumanApproved    bool      `json:"human_approved"`
}

// ContentHash returns the hex sha-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type TrustedSource struct {
	Domain              string     `json:"domain"`
	TopicCategories     []string   `json:"topic_categories"`
	TrustLevel          int        `json:"trust_level"`
	LastCrawled         *time.Time `json:"last_crawled,omitempty"`
	CrawlFrequencyHours int        `json:"crawl_frequency"`
	Active              bool       `json:"active"`
}

type LearningSession struct {
	ID              int64      `json:"id"`
	Topic           string     `json:"topic"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Status          string     `json:"status"`
	NodesDiscovered int        `json:"nodes_discovered"`
	NodesValidated  int        `json:"nodes_validated"`
}

// Stats summarizes row counts for status output.
type Stats struct {
	Turns     int `json:"turns"`
	Knowledge int `json:"knowledge"`
	Pending   int `json:"pending"`
	Sources   int `json:"sources"`
}
