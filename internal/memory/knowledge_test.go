package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertKnowledgeKeepsReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	item := KnowledgeItem{
		Topic:      "science",
		Content:    "Photosynthesis converts light into chemical energy.",
		SourceURL:  "https://en.wikipedia.org/wiki/Science",
		Confidence: 0.9,
		LearnedAt:  at,
	}
	if err := s.UpsertKnowledge(ctx, item); err != nil {
		t.Fatalf("UpsertKnowledge error: %v", err)
	}
	hash := ContentHash(item.Content)
	if err := s.ApproveKnowledge(ctx, hash); err != nil {
		t.Fatalf("ApproveKnowledge error: %v", err)
	}

	item.SourceURL = "https://nature.com"
	item.Confidence = 1.0
	item.LearnedAt = at.Add(time.Hour)
	if err := s.UpsertKnowledge(ctx, item); err != nil {
		t.Fatalf("UpsertKnowledge (again) error: %v", err)
	}

	got, err := s.KnowledgeOnTopic(ctx, "science", 10)
	if err != nil {
		t.Fatalf("KnowledgeOnTopic error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (same content hash)", len(got))
	}
	k := got[0]
	if k.ContentHash != hash || k.SourceURL != "https://nature.com" || k.Confidence != 1.0 {
		t.Fatalf("metadata not refreshed: %+v", k)
	}
	if k.ValidationStatus != StatusValidated || !k.HumanApproved {
		t.Fatalf("review lost on re-learn: %+v", k)
	}
	if n, err := s.CountKnowledge(ctx, ""); err != nil || n != 1 {
		t.Fatalf("CountKnowledge = %d, %v", n, err)
	}
	if n, err := s.CountKnowledge(ctx, StatusPending); err != nil || n != 0 {
		t.Fatalf("CountKnowledge(pending) = %d, %v", n, err)
	}
}

func TestKnowledgeOnTopic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	add := func(topic, content string, conf float64, offset time.Duration) string {
		t.Helper()
		if err := s.UpsertKnowledge(ctx, KnowledgeItem{
			Topic: topic, Content: content, SourceURL: "https://x", Confidence: conf, LearnedAt: at.Add(offset),
		}); err != nil {
			t.Fatalf("UpsertKnowledge error: %v", err)
		}
		return ContentHash(content)
	}
	add("science", "low confidence", 0.7, 0)
	add("computer science", "high confidence old", 1.0, 0)
	add("science", "high confidence new", 1.0, time.Minute)
	rejected := add("science", "rejected", 0.9, 2*time.Minute)
	add("history", "other topic", 0.9, 3*time.Minute)

	if err := s.SetKnowledgeStatus(ctx, rejected, StatusRejected); err != nil {
		t.Fatalf("SetKnowledgeStatus error: %v", err)
	}

	got, err := s.KnowledgeOnTopic(ctx, "science", 10)
	if err != nil {
		t.Fatalf("KnowledgeOnTopic error: %v", err)
	}
	want := []string{"high confidence new", "high confidence old", "low confidence"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Fatalf("got[%d] = %q, want %q", i, got[i].Content, w)
		}
	}

	all, err := s.KnowledgeOnTopic(ctx, "", 2)
	if err != nil {
		t.Fatalf("KnowledgeOnTopic(all) error: %v", err)
	}
	if len(all) != 2 || all[0].Content != "other topic" {
		t.Fatalf("recent = %+v", all)
	}
}

func TestSetKnowledgeStatusErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.ApproveKnowledge(ctx, "missing"); !errors.Is(err, ErrKnowledgeNotFound) {
		t.Fatalf("ApproveKnowledge(missing) = %v, want ErrKnowledgeNotFound", err)
	}
	if err := s.SetKnowledgeStatus(ctx, "x", "bogus"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestTrustedSources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SeedTrustedSources(ctx); err != nil {
		t.Fatalf("SeedTrustedSources error: %v", err)
	}
	// Seeding twice is harmless.
	if err := s.SeedTrustedSources(ctx); err != nil {
		t.Fatalf("SeedTrustedSources (again) error: %v", err)
	}

	sources, err := s.ActiveSources(ctx)
	if err != nil {
		t.Fatalf("ActiveSources error: %v", err)
	}
	if len(sources) != len(DefaultSources()) {
		t.Fatalf("sources = %d, want %d", len(sources), len(DefaultSources()))
	}
	for i := 1; i < len(sources); i++ {
		if sources[i-1].TrustLevel < sources[i].TrustLevel {
			t.Fatalf("sources not sorted by trust: %+v", sources)
		}
	}

	if err := s.AddTrustedSource(ctx, TrustedSource{Domain: "Example.org", TopicCategories: []string{"history", " "}, TrustLevel: 42}); err != nil {
		t.Fatalf("AddTrustedSource error: %v", err)
	}
	err = s.AddTrustedSource(ctx, TrustedSource{Domain: "example.org", TrustLevel: 5})
	if !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("duplicate AddTrustedSource = %v, want ErrDuplicateSource", err)
	}

	now := time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)
	if err := s.MarkSourceCrawled(ctx, "example.org", now); err != nil {
		t.Fatalf("MarkSourceCrawled error: %v", err)
	}
	sources, _ = s.ActiveSources(ctx)
	var found *TrustedSource
	for i := range sources {
		if sources[i].Domain == "example.org" {
			found = &sources[i]
		}
	}
	if found == nil {
		t.Fatal("example.org not listed")
	}
	if found.TrustLevel != 10 || found.CrawlFrequencyHours != DefaultCrawlFrequencyHours {
		t.Fatalf("source = %+v", found)
	}
	if len(found.TopicCategories) != 1 || found.TopicCategories[0] != "history" {
		t.Fatalf("categories = %v", found.TopicCategories)
	}
	if found.LastCrawled == nil || !found.LastCrawled.Equal(now) {
		t.Fatalf("last crawled = %v", found.LastCrawled)
	}
}

func TestContentFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SeedContentFilters(ctx); err != nil {
		t.Fatalf("SeedContentFilters error: %v", err)
	}
	if err := s.SeedContentFilters(ctx); err != nil {
		t.Fatalf("SeedContentFilters (again) error: %v", err)
	}
	if err := s.AddContentFilter(ctx, " Gambling "); err != nil {
		t.Fatalf("AddContentFilter error: %v", err)
	}

	kws, err := s.ActiveFilterKeywords(ctx)
	if err != nil {
		t.Fatalf("ActiveFilterKeywords error: %v", err)
	}
	if len(kws) != len(defaultFilterKeywords)+1 {
		t.Fatalf("keywords = %v", kws)
	}
	if kws[len(kws)-1] != "gambling" {
		t.Fatalf("last keyword = %q, want gambling", kws[len(kws)-1])
	}
}

func TestLearningSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 7, 3, 10, 0, 0, 0, time.UTC)

	id, err := s.StartLearningSession(ctx, "science", start)
	if err != nil {
		t.Fatalf("StartLearningSession error: %v", err)
	}
	if err := s.EndLearningSession(ctx, id, start.Add(time.Minute), 4, 0); err != nil {
		t.Fatalf("EndLearningSession error: %v", err)
	}

	sessions, err := s.RecentLearningSessions(ctx, 5)
	if err != nil {
		t.Fatalf("RecentLearningSessions error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	ls := sessions[0]
	if ls.Status != "completed" || ls.NodesDiscovered != 4 || ls.EndTime == nil {
		t.Fatalf("session = %+v", ls)
	}
}
