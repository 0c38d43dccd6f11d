package memory

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "may.db"))
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func schemaObjectExists(t *testing.T, s *Store, name, kind string) bool {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestNewStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "may.db")

	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Idempotent reopen against the same path.
	s2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore reopen error: %v", err)
	}
	defer s2.Close()
}

func TestInitSchema(t *testing.T) {
	s := newTestStore(t)

	tables := []string{
		"conversations", "user_profile", "memory_connections", "reflections",
		"knowledge", "trusted_sources", "learning_sessions", "content_filters",
	}
	for _, table := range tables {
		if !schemaObjectExists(t, s, table, "table") {
			t.Fatalf("expected table %q to exist", table)
		}
	}
	for _, index := range []string{"idx_conversations_topic", "idx_conversations_timestamp", "idx_knowledge_topic"} {
		if !schemaObjectExists(t, s, index, "index") {
			t.Fatalf("expected index %q to exist", index)
		}
	}
}

func TestTurnRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)
	turn := Turn{
		ID:                 NewTurnID("hi mom", "hello", at),
		UserMessage:        "hi mom",
		Reply:              "hello",
		Topic:              "family",
		Sentiment:          "neutral",
		Importance:         7,
		Timestamp:          at,
		ContextTags:        []string{"family"},
		ReferencedMemories: []string{},
	}
	if err := s.InsertTurn(ctx, turn); err != nil {
		t.Fatalf("InsertTurn error: %v", err)
	}

	got, err := s.GetTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("GetTurn error: %v", err)
	}
	if !got.Timestamp.Equal(turn.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, turn.Timestamp)
	}
	got.Timestamp = turn.Timestamp
	if !reflect.DeepEqual(got, turn) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, turn)
	}

	if err := s.InsertTurn(ctx, turn); err == nil {
		t.Fatal("expected duplicate id insert to fail")
	}
}

func TestNewTurnID(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id := NewTurnID("a", "b", at)
	if len(id) != 16 {
		t.Fatalf("id length = %d, want 16", len(id))
	}
	if id != NewTurnID("a", "b", at) {
		t.Fatal("id should be deterministic")
	}
	if id == NewTurnID("a", "b", at.Add(time.Nanosecond)) {
		t.Fatal("id should change with the timestamp")
	}
}

func insertTurn(t *testing.T, s *Store, msg, topic string, tags []string, importance int, at time.Time) Turn {
	t.Helper()
	turn := Turn{
		ID:          NewTurnID(msg, "reply", at),
		UserMessage: msg,
		Reply:       "reply",
		Topic:       topic,
		Sentiment:   "neutral",
		Importance:  importance,
		Timestamp:   at,
		ContextTags: tags,
	}
	if err := s.InsertTurn(context.Background(), turn); err != nil {
		t.Fatalf("InsertTurn error: %v", err)
	}
	return turn
}

func TestTurnsForTopicOrdering(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	insertTurn(t, s, "old important", "family", []string{"family"}, 9, base)
	insertTurn(t, s, "new important", "family", []string{"family"}, 9, base.Add(time.Hour))
	insertTurn(t, s, "minor", "family", []string{"family"}, 5, base.Add(2*time.Hour))
	insertTurn(t, s, "tagged", "work", []string{"work", "family"}, 7, base)
	insertTurn(t, s, "unrelated", "health", []string{"health"}, 10, base)

	got, err := s.TurnsForTopic(context.Background(), "family", 10)
	if err != nil {
		t.Fatalf("TurnsForTopic error: %v", err)
	}
	var msgs []string
	for _, turn := range got {
		msgs = append(msgs, turn.UserMessage)
	}
	want := []string{"new important", "old important", "tagged", "minor"}
	if !reflect.DeepEqual(msgs, want) {
		t.Fatalf("order = %v, want %v", msgs, want)
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Retrieve(context.Background(), "tell me about my family and work", 3)
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no turns, got %d", len(got))
	}
}

func TestRetrieveConcatenatesWithoutDedup(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	both := insertTurn(t, s, "mom at work", "family", []string{"family", "work"}, 9, base)
	insertTurn(t, s, "deadline", "work", []string{"work"}, 6, base)

	got, err := s.Retrieve(context.Background(), "my dad and my job", 3)
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// family results first, then work results: the shared turn appears twice.
	if got[0].ID != both.ID || got[1].ID != both.ID {
		t.Fatalf("expected shared turn twice at the front, got %s %s", got[0].ID, got[1].ID)
	}
	if got[2].UserMessage != "deadline" {
		t.Fatalf("third = %q, want deadline", got[2].UserMessage)
	}
}

func TestRetrieveDefaultLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		insertTurn(t, s, "chat", "general", []string{"general"}, 5, base.Add(time.Duration(i)*time.Minute))
	}
	got, err := s.Retrieve(context.Background(), "anything", 0)
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if len(got) != DefaultRetrievalLimit {
		t.Fatalf("len = %d, want %d", len(got), DefaultRetrievalLimit)
	}
}

func TestRecentTurns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	insertTurn(t, s, "first", "family", []string{"family"}, 5, base)
	insertTurn(t, s, "second", "work", []string{"work"}, 5, base.Add(time.Minute))
	insertTurn(t, s, "third", "family", []string{"family", "health"}, 5, base.Add(2*time.Minute))

	all, err := s.RecentTurns(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("RecentTurns error: %v", err)
	}
	if len(all) != 3 || all[0].UserMessage != "third" || all[2].UserMessage != "first" {
		t.Fatalf("unexpected order: %+v", all)
	}

	health, err := s.RecentTurns(context.Background(), "health", 10)
	if err != nil {
		t.Fatalf("RecentTurns error: %v", err)
	}
	if len(health) != 1 || health[0].UserMessage != "third" {
		t.Fatalf("topic filter = %+v", health)
	}
	n, err := s.CountTurns(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("CountTurns = %d, %v", n, err)
	}
}

func TestProfileLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadProfile(ctx); !errors.Is(err, ErrNoProfile) {
		t.Fatalf("LoadProfile on empty store = %v, want ErrNoProfile", err)
	}

	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	p := NewProfile("Ana", now)
	p.AddInterests([]string{"family", "work"})
	p.Values = []string{"honesty"}
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile error: %v", err)
	}

	got, err := s.LoadProfile(ctx)
	if err != nil {
		t.Fatalf("LoadProfile error: %v", err)
	}
	if got.Name != "Ana" || got.RelationshipLevel != 1 {
		t.Fatalf("profile = %+v", got)
	}
	if !reflect.DeepEqual(got.Interests, []string{"family", "work"}) {
		t.Fatalf("interests = %v", got.Interests)
	}
	if !reflect.DeepEqual(got.Values, []string{"honesty"}) {
		t.Fatalf("values = %v", got.Values)
	}
	if !got.LastInteraction.Equal(now) {
		t.Fatalf("last interaction = %v", got.LastInteraction)
	}

	// A second name gets its own row; the most recently active one loads.
	if err := s.SaveProfile(ctx, NewProfile("Bea", now.Add(time.Hour))); err != nil {
		t.Fatalf("SaveProfile error: %v", err)
	}
	got, err = s.LoadProfile(ctx)
	if err != nil {
		t.Fatalf("LoadProfile error: %v", err)
	}
	if got.Name != "Bea" {
		t.Fatalf("name = %q, want Bea", got.Name)
	}
	var rows int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM user_profile`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Fatalf("profile rows = %d, want 2", rows)
	}

	// Touching the older profile makes it current again.
	p.LastInteraction = now.Add(2 * time.Hour)
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile error: %v", err)
	}
	got, err = s.LoadProfile(ctx)
	if err != nil || got.Name != "Ana" {
		t.Fatalf("LoadProfile = %+v, %v; want Ana", got, err)
	}
}

func TestAddInterests(t *testing.T) {
	p := NewProfile("Ana", time.Now())
	if !p.AddInterests([]string{"family", "work", "family"}) {
		t.Fatal("expected interests to be added")
	}
	if p.AddInterests([]string{"work"}) {
		t.Fatal("expected no change for known interest")
	}
	p.AddInterests([]string{"health"})
	want := []string{"family", "work", "health"}
	if !reflect.DeepEqual(p.Interests, want) {
		t.Fatalf("interests = %v, want %v", p.Interests, want)
	}
}

func TestConcurrentInserts(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Second)
			_ = s.InsertTurn(context.Background(), Turn{
				ID: NewTurnID("msg", "reply", at), UserMessage: "msg", Reply: "reply",
				Topic: "general", Sentiment: "neutral", Importance: 5, Timestamp: at,
			})
		}(i)
	}
	wg.Wait()

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.Turns != 20 {
		t.Fatalf("turns = %d, want 20", st.Turns)
	}
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	s := NewStoreWithDB(db)
	cause := errors.New("disk I/O error")
	mock.ExpectQuery("SELECT .* FROM conversations").WillReturnError(cause)

	_, err = s.Retrieve(context.Background(), "my family", 3)
	if !errors.Is(err, cause) {
		t.Fatalf("Retrieve error = %v, want wrapped cause", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
