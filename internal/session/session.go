// Package session runs one conversational turn end to end: recall, reply,
// score, remember, and keep the user profile current.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/may/internal/memory"
	"github.com/stellarlinkco/may/internal/metrics"
	"github.com/stellarlinkco/may/internal/persona"
	"github.com/stellarlinkco/may/internal/signals"
)

// Apology is the reply when a turn cannot be processed.
const Apology = "I'm sorry, I'm having trouble processing that right now. Could you try again?"

// Store is the subset of memory.Store a session needs.
type Store interface {
	Retrieve(ctx context.Context, message string, limit int) ([]memory.Turn, error)
	InsertTurn(ctx context.Context, t memory.Turn) error
	RecentTurns(ctx context.Context, topic string, limit int) ([]memory.Turn, error)
	LoadProfile(ctx context.Context) (memory.Profile, error)
	SaveProfile(ctx context.Context, p memory.Profile) error
}

type Options struct {
	RetrievalLimit int
	Metrics        *metrics.Metrics
	Clock          func() time.Time
}

// Session is shared by every transport in the process.
type Session struct {
	store    Store
	composer *persona.Composer
	metrics  *metrics.Metrics
	limit    int
	now      func() time.Time

	mu      sync.Mutex
	profile *memory.Profile
}

// New builds a session and loads the stored profile, if any.
func New(ctx context.Context, store Store, composer *persona.Composer, opts Options) (*Session, error) {
	s := &Session{
		store:    store,
		composer: composer,
		metrics:  opts.Metrics,
		limit:    opts.RetrievalLimit,
		now:      opts.Clock,
	}
	if s.limit <= 0 {
		s.limit = memory.DefaultRetrievalLimit
	}
	if s.now == nil {
		s.now = time.Now
	}

	p, err := store.LoadProfile(ctx)
	switch {
	case errors.Is(err, memory.ErrNoProfile):
	case err != nil:
		return nil, fmt.Errorf("load profile: %w", err)
	default:
		s.profile = &p
	}
	return s, nil
}

// ProcessTurn answers message and records the exchange. It never fails:
// storage errors and panics are logged and answered with Apology.
func (s *Session) ProcessTurn(ctx context.Context, message string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session] panic processing turn: %v", r)
			s.metrics.ObserveTurnFailure("panic")
			reply = Apology
		}
	}()

	history, err := s.store.Retrieve(ctx, message, s.limit)
	if err != nil {
		return s.fail("retrieve", err)
	}

	reply = s.composer.Compose(message, history)

	sentiment, topics := signals.Extract(message)
	importance := signals.Importance(message, topics, sentiment)

	now := s.now()
	turn := memory.Turn{
		ID:                 memory.NewTurnID(message, reply, now),
		UserMessage:        message,
		Reply:              reply,
		Topic:              topics[0],
		Sentiment:          string(sentiment),
		Importance:         importance,
		Timestamp:          now,
		ContextTags:        topics,
		ReferencedMemories: []string{},
	}
	if err := s.store.InsertTurn(ctx, turn); err != nil {
		return s.fail("insert", err)
	}
	s.metrics.ObserveTurn(turn.Sentiment, turn.Topic)
	s.metrics.ObserveImportance(importance)

	if err := s.touchProfile(ctx, topics, now); err != nil {
		return s.fail("profile", err)
	}
	return reply
}

func (s *Session) fail(stage string, err error) string {
	log.Printf("[session] %s failed: %v", stage, err)
	s.metrics.ObserveTurnFailure(stage)
	return Apology
}

// touchProfile records the interaction time and any new interests.
func (s *Session) touchProfile(ctx context.Context, topics []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile == nil {
		return nil
	}
	s.profile.LastInteraction = now
	s.profile.AddInterests(topics)
	return s.store.SaveProfile(ctx, *s.profile)
}

// Profile returns a copy of the current profile and whether one exists.
func (s *Session) Profile() (memory.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return memory.Profile{}, false
	}
	return s.profile.Clone(), true
}

// EnsureProfile makes name the session's profile, creating and persisting a
// fresh one when no profile exists or the stored one has a different name.
// It reports whether a new profile was created.
func (s *Session) EnsureProfile(ctx context.Context, name string) (memory.Profile, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "friend"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile != nil && s.profile.Name == name {
		return s.profile.Clone(), false, nil
	}
	p := memory.NewProfile(name, s.now())
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return memory.Profile{}, false, fmt.Errorf("create profile: %w", err)
	}
	s.profile = &p
	return p.Clone(), true, nil
}

// RecentTurns lists stored turns newest first, optionally filtered by topic.
func (s *Session) RecentTurns(ctx context.Context, topic string, limit int) ([]memory.Turn, error) {
	return s.store.RecentTurns(ctx, topic, limit)
}
