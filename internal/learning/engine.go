// Package learning lets May read pages from trusted sources and keep what
// passes the content filter as pending knowledge for human review.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/may/internal/config"
	"github.com/stellarlinkco/may/internal/memory"
	"github.com/stellarlinkco/may/internal/metrics"
)

var ErrAlreadyLearning = errors.New("learning session already active")

// Request describes one learning session.
type Request struct {
	Topic string
	// SkipFresh skips sources crawled within their crawl frequency.
	SkipFresh bool
}

// Result summarizes a finished session.
type Result struct {
	SessionID int64     `json:"session_id"`
	Topic     string    `json:"topic"`
	Sources   int       `json:"sources"`
	Stored    int       `json:"stored"`
	Blocked   int       `json:"blocked"`
	Failed    int       `json:"failed"`
	Stopped   bool      `json:"stopped"`
	Finished  time.Time `json:"finished"`
}

type Status struct {
	Active bool    `json:"learning_active"`
	Topic  string  `json:"topic,omitempty"`
	Last   *Result `json:"last_session,omitempty"`
}

type Engine struct {
	store     *memory.Store
	client    *http.Client
	metrics   *metrics.Metrics
	maxPages  int
	delay     time.Duration
	userAgent string
	scheme    string
	now       func() time.Time

	mu     sync.Mutex
	active bool
	topic  string
	cancel context.CancelFunc
	last   *Result
}

func NewEngine(store *memory.Store, cfg config.LearningConfig, m *metrics.Metrics) *Engine {
	timeout, delay := cfg.Durations()
	maxPages := cfg.MaxPagesPerSession
	if maxPages <= 0 {
		maxPages = config.DefaultMaxPagesPerSession
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	return &Engine{
		store:     store,
		client:    &http.Client{Timeout: timeout},
		metrics:   m,
		maxPages:  maxPages,
		delay:     delay,
		userAgent: userAgent,
		scheme:    "https",
		now:       time.Now,
	}
}

// Status reports whether a session is running and how the last one ended.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{Active: e.active, Topic: e.topic}
	if e.last != nil {
		last := *e.last
		st.Last = &last
	}
	return st
}

func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Start runs a session in the background. It fails immediately with
// ErrAlreadyLearning when one is running.
func (e *Engine) Start(req Request) error {
	ctx, err := e.begin(context.Background(), req.Topic)
	if err != nil {
		return err
	}
	go func() {
		if _, err := e.run(ctx, req); err != nil {
			log.Printf("[learning] session %q failed: %v", req.Topic, err)
		}
	}()
	return nil
}

// Learn runs a session and waits for it to finish.
func (e *Engine) Learn(ctx context.Context, req Request) (Result, error) {
	runCtx, err := e.begin(ctx, req.Topic)
	if err != nil {
		return Result{}, err
	}
	return e.run(runCtx, req)
}

// Stop interrupts the running session, if any. The session ends after the
// page in flight and is recorded as completed.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

func (e *Engine) begin(ctx context.Context, topic string) (context.Context, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("start learning: empty topic")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return nil, ErrAlreadyLearning
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.active = true
	e.topic = topic
	e.cancel = cancel
	e.metrics.SetLearning(true)
	return runCtx, nil
}

func (e *Engine) finish(res *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.active = false
	e.topic = ""
	e.cancel = nil
	e.last = res
	e.metrics.SetLearning(false)
}

func (e *Engine) run(ctx context.Context, req Request) (res Result, err error) {
	res = Result{Topic: req.Topic}
	defer func() {
		res.Finished = e.now()
		e.finish(&res)
	}()

	// Session bookkeeping must survive Stop, which cancels ctx.
	bg := context.WithoutCancel(ctx)

	res.SessionID, err = e.store.StartLearningSession(bg, req.Topic, e.now())
	if err != nil {
		return res, err
	}
	defer func() {
		if endErr := e.store.EndLearningSession(bg, res.SessionID, e.now(), res.Stored, 0); endErr != nil {
			log.Printf("[learning] end session %d: %v", res.SessionID, endErr)
			if err == nil {
				err = endErr
			}
		}
	}()

	all, err := e.store.ActiveSources(bg)
	if err != nil {
		return res, err
	}
	keywords, err := e.store.ActiveFilterKeywords(bg)
	if err != nil {
		return res, err
	}

	sources := RelevantSources(all, req.Topic)
	log.Printf("[learning] session %d: %q across %d sources", res.SessionID, req.Topic, len(sources))

	pages := 0
	for _, src := range sources {
		if ctx.Err() != nil {
			res.Stopped = true
			break
		}
		if pages >= e.maxPages {
			break
		}
		if req.SkipFresh && fresh(src, e.now()) {
			continue
		}

		pages++
		res.Sources++
		outcome := e.learnFrom(ctx, src, req.Topic, keywords)
		switch outcome {
		case "stored":
			res.Stored++
		case "blocked":
			res.Blocked++
		case "error":
			res.Failed++
		}
		e.metrics.ObserveKnowledge(outcome)

		if err := e.store.MarkSourceCrawled(bg, src.Domain, e.now()); err != nil {
			log.Printf("[learning] mark %s crawled: %v", src.Domain, err)
		}

		if e.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.delay):
			}
		}
	}
	if ctx.Err() != nil {
		res.Stopped = true
	}
	log.Printf("[learning] session %d done: stored=%d blocked=%d failed=%d", res.SessionID, res.Stored, res.Blocked, res.Failed)
	return res, nil
}

// learnFrom fetches one page and returns its outcome: stored, blocked,
// empty or error.
func (e *Engine) learnFrom(ctx context.Context, src memory.TrustedSource, topic string, keywords []string) string {
	pageURL := e.SourceURL(src, topic)
	content, err := e.fetch(ctx, src.Domain, pageURL)
	if err != nil {
		log.Printf("[learning] fetch %s: %v", pageURL, err)
		return "error"
	}
	if content == "" {
		return "empty"
	}
	if ok, kw := Validate(content, keywords); !ok {
		log.Printf("[learning] blocked %s: contains %q", pageURL, kw)
		return "blocked"
	}

	item := memory.KnowledgeItem{
		ContentHash:      memory.ContentHash(content),
		Topic:            topic,
		Content:          content,
		SourceURL:        pageURL,
		Confidence:       float64(src.TrustLevel) / 10,
		LearnedAt:        e.now(),
		ValidationStatus: memory.StatusPending,
	}
	if err := e.store.UpsertKnowledge(context.WithoutCancel(ctx), item); err != nil {
		log.Printf("[learning] store knowledge from %s: %v", pageURL, err)
		return "error"
	}
	log.Printf("[learning] learned from %s", pageURL)
	return "stored"
}

func (e *Engine) fetch(ctx context.Context, domain, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	start := time.Now()
	resp, err := e.client.Do(req)
	e.metrics.ObserveFetch(domain, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}
	text, err := ExtractText(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return text, nil
}

// SourceURL is the single page fetched from src for topic. Wikipedia gets
// the topic's article; every other source its front page.
func (e *Engine) SourceURL(src memory.TrustedSource, topic string) string {
	if strings.Contains(src.Domain, "wikipedia") {
		return e.scheme + "://" + src.Domain + "/wiki/" + url.PathEscape(strings.ReplaceAll(strings.TrimSpace(topic), " ", "_"))
	}
	return e.scheme + "://" + src.Domain
}

// RelevantSources keeps sources whose categories include topic (ignoring
// case) or "general", most trusted first.
func RelevantSources(sources []memory.TrustedSource, topic string) []memory.TrustedSource {
	topic = strings.ToLower(strings.TrimSpace(topic))
	var out []memory.TrustedSource
	for _, src := range sources {
		if !src.Active {
			continue
		}
		for _, c := range src.TopicCategories {
			c = strings.ToLower(c)
			if c == topic || c == "general" {
				out = append(out, src)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TrustLevel > out[j].TrustLevel
	})
	return out
}

func fresh(src memory.TrustedSource, now time.Time) bool {
	if src.LastCrawled == nil {
		return false
	}
	freq := time.Duration(src.CrawlFrequencyHours) * time.Hour
	return now.Sub(*src.LastCrawled) < freq
}
