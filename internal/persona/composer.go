// Package persona turns a message and the turns it reminded May of into a
// reply, using fixed template pools and a pluggable random source.
package persona

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/may/internal/memory"
	"github.com/stellarlinkco/may/internal/signals"
)

const (
	callbackChance = 0.4
	sparkChance    = 0.3
)

// Source yields uniform draws in [0, 1). *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Composer builds replies. Every random decision consumes exactly one draw
// from the source, in this order: callback (always drawn), opener (only for
// non-neutral sentiment), template, spark, and the spark choice when a
// spark is emitted.
type Composer struct {
	mu  sync.Mutex
	src Source
	now func() time.Time
}

func NewComposer(src Source) *Composer {
	return &Composer{src: src, now: time.Now}
}

// SetClock replaces the clock used to phrase how long ago a memory was.
func (c *Composer) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Compose returns the reply to message given relevant past turns, most
// relevant first. Only history[0] is ever referenced.
func (c *Composer) Compose(message string, history []memory.Turn) string {
	sentiment, topics := signals.Extract(message)

	c.mu.Lock()
	defer c.mu.Unlock()

	var parts []string
	if c.draw() < callbackChance && len(history) > 0 {
		parts = append(parts, callback(history[0], c.now()))
	}
	parts = append(parts, c.core(sentiment, topics))
	if c.draw() < sparkChance {
		parts = append(parts, c.pick(sparks))
	}

	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (c *Composer) core(sentiment signals.Sentiment, topics []string) string {
	pool := genericTemplates
	if len(topics) > 0 {
		if t, ok := topicTemplates[topics[0]]; ok {
			pool = t
		}
	}
	switch sentiment {
	case signals.Negative:
		opener := c.pick(supportiveOpeners)
		return opener + c.pick(pool)
	case signals.Positive:
		opener := c.pick(encouragingOpeners)
		return opener + c.pick(pool)
	default:
		return c.pick(pool)
	}
}

func (c *Composer) draw() float64 {
	v := c.src.Float64()
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func (c *Composer) pick(pool []string) string {
	i := int(c.draw() * float64(len(pool)))
	if i >= len(pool) {
		i = len(pool) - 1
	}
	return pool[i]
}

func callback(t memory.Turn, now time.Time) string {
	return fmt.Sprintf("This reminds me of when you mentioned %s %s.", t.Topic, ElapsedPhrase(now.Sub(t.Timestamp)))
}

// ElapsedPhrase describes an age in whole days: "earlier today",
// "yesterday", "N days ago" below a week, "recently" after that.
func ElapsedPhrase(elapsed time.Duration) string {
	days := int(elapsed / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	switch {
	case days == 0:
		return "earlier today"
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return "recently"
	}
}
