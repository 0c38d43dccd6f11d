package learning

import (
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/may/internal/memory"
)

func TestExtractText(t *testing.T) {
	got, err := ExtractText(strings.NewReader(articleHTML))
	if err != nil {
		t.Fatalf("ExtractText error: %v", err)
	}
	want := "Cells Cells are the basic structural and functional units of life. Every living organism is made of one or more cells."
	if got != want {
		t.Fatalf("ExtractText = %q\nwant %q", got, want)
	}
}

func TestExtractTextShort(t *testing.T) {
	got, err := ExtractText(strings.NewReader("<p>Too short to keep.</p>"))
	if err != nil {
		t.Fatalf("ExtractText error: %v", err)
	}
	if got != "" {
		t.Fatalf("ExtractText = %q, want empty", got)
	}

	exactly50 := "<p>" + strings.Repeat("a", 50) + "</p>"
	if got, _ := ExtractText(strings.NewReader(exactly50)); got != "" {
		t.Fatalf("50 chars should be discarded, got %q", got)
	}
}

func TestExtractTextTruncates(t *testing.T) {
	body := "<p>" + strings.Repeat("é", 1500) + "</p>"
	got, err := ExtractText(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ExtractText error: %v", err)
	}
	if n := len([]rune(got)); n != 1000 {
		t.Fatalf("rune length = %d, want 1000", n)
	}
}

func TestValidate(t *testing.T) {
	keywords := []string{"scam", "malware"}
	if ok, _ := Validate("A friendly article about plants", keywords); !ok {
		t.Fatal("clean content rejected")
	}
	ok, kw := Validate("How MALWARE spreads", keywords)
	if ok || kw != "malware" {
		t.Fatalf("Validate = %v, %q", ok, kw)
	}
	if ok, _ := Validate("anything", nil); !ok {
		t.Fatal("no keywords should accept everything")
	}
}

func TestRelevantSources(t *testing.T) {
	sources := []memory.TrustedSource{
		{Domain: "github.com", TopicCategories: []string{"programming"}, TrustLevel: 7, Active: true},
		{Domain: "en.wikipedia.org", TopicCategories: []string{"general", "science"}, TrustLevel: 9, Active: true},
		{Domain: "arxiv.org", TopicCategories: []string{"Science", "ai"}, TrustLevel: 10, Active: true},
		{Domain: "off.example", TopicCategories: []string{"science"}, TrustLevel: 10, Active: false},
	}

	got := RelevantSources(sources, "SCIENCE")
	var domains []string
	for _, s := range got {
		domains = append(domains, s.Domain)
	}
	if strings.Join(domains, ",") != "arxiv.org,en.wikipedia.org" {
		t.Fatalf("domains = %v", domains)
	}

	got = RelevantSources(sources, "cooking")
	if len(got) != 1 || got[0].Domain != "en.wikipedia.org" {
		t.Fatalf("general fallback = %+v", got)
	}
}

func TestSourceURL(t *testing.T) {
	e := &Engine{scheme: "https"}
	wiki := memory.TrustedSource{Domain: "en.wikipedia.org"}
	if got := e.SourceURL(wiki, "machine learning"); got != "https://en.wikipedia.org/wiki/machine_learning" {
		t.Fatalf("SourceURL = %q", got)
	}
	other := memory.TrustedSource{Domain: "nature.com"}
	if got := e.SourceURL(other, "machine learning"); got != "https://nature.com" {
		t.Fatalf("SourceURL = %q", got)
	}
}

func TestFresh(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)
	if fresh(memory.TrustedSource{CrawlFrequencyHours: 24}, now) {
		t.Fatal("never crawled source is not fresh")
	}
	if !fresh(memory.TrustedSource{CrawlFrequencyHours: 24, LastCrawled: &recent}, now) {
		t.Fatal("recently crawled source should be fresh")
	}
	if fresh(memory.TrustedSource{CrawlFrequencyHours: 24, LastCrawled: &old}, now) {
		t.Fatal("old crawl should not be fresh")
	}
}
