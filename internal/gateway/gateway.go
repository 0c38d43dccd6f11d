package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stellarlinkco/may/internal/bus"
	"github.com/stellarlinkco/may/internal/channel"
	"github.com/stellarlinkco/may/internal/config"
	"github.com/stellarlinkco/may/internal/cron"
	"github.com/stellarlinkco/may/internal/dashboard"
	"github.com/stellarlinkco/may/internal/learning"
	"github.com/stellarlinkco/may/internal/memory"
	"github.com/stellarlinkco/may/internal/metrics"
	"github.com/stellarlinkco/may/internal/persona"
	"github.com/stellarlinkco/may/internal/session"
)

// Options for creating a Gateway
type Options struct {
	SignalChan chan os.Signal // for testing signal handling
	// Random drives reply composition; nil seeds math/rand from the clock.
	Random persona.Source
	// CronStorePath defaults to cron/jobs.json next to the memory database.
	CronStorePath string
}

// Gateway wires the shared session, learning engine, scheduler, chat
// channels and dashboard into one long-running process.
type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      *memory.Store
	session    *session.Session
	learner    *learning.Engine
	cron       *cron.Service
	channels   *channel.ChannelManager
	dashboard  *dashboard.Server
	metrics    *metrics.Metrics
	signalChan chan os.Signal

	shutdownOnce sync.Once
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	ctx := context.Background()
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}
	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	dbPath := strings.TrimSpace(cfg.Memory.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "may_memory.db")
	}
	store, err := memory.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	g.store = store

	if err := g.seed(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	g.metrics = metrics.New(reg)

	src := opts.Random
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	g.session, err = session.New(ctx, store, persona.NewComposer(src), session.Options{
		RetrievalLimit: cfg.Memory.RetrievalLimit,
		Metrics:        g.metrics,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}

	g.learner = learning.NewEngine(store, cfg.Learning, g.metrics)

	cronPath := opts.CronStorePath
	if cronPath == "" {
		cronPath = filepath.Join(filepath.Dir(dbPath), "cron", "jobs.json")
	}
	g.cron = cron.NewService(cronPath)
	g.cron.OnJob = g.runLearningJob

	chMgr, err := channel.NewChannelManagerWithGateway(cfg.Channels, cfg.Gateway, g.bus)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	if cfg.Dashboard.Enabled {
		g.dashboard, err = dashboard.New(cfg.Dashboard, dashboard.Options{
			Store:    store,
			Learner:  g.learner,
			Chat:     g.session,
			Gatherer: reg,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create dashboard: %w", err)
		}
	}
	return g, nil
}

func (g *Gateway) seed(ctx context.Context) error {
	if err := g.store.SeedTrustedSources(ctx); err != nil {
		return fmt.Errorf("seed trusted sources: %w", err)
	}
	if err := g.store.SeedContentFilters(ctx); err != nil {
		return fmt.Errorf("seed content filters: %w", err)
	}
	return nil
}

// runLearningJob is the scheduler callback: one learning session on the
// job's topic, skipping sources that are still fresh.
func (g *Gateway) runLearningJob(ctx context.Context, job cron.CronJob) (string, error) {
	topic := strings.TrimSpace(job.Payload.Topic)
	if topic == "" {
		return "", fmt.Errorf("job %s has no topic", job.Name)
	}
	res, err := g.learner.Learn(ctx, learning.Request{Topic: topic, SkipFresh: true})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("topic=%s sources=%d stored=%d blocked=%d failed=%d",
		res.Topic, res.Sources, res.Stored, res.Blocked, res.Failed), nil
}

// ensureLearningJobs keeps one recurring job per configured schedule. A
// schedule with a cron expression becomes a cron job named "learn:<topic>:cron";
// otherwise it repeats every Every as "learn:<topic>".
func (g *Gateway) ensureLearningJobs() error {
	var errs []error
	for _, sc := range g.cfg.Learning.Schedules {
		topic := strings.TrimSpace(sc.Topic)
		if topic == "" {
			log.Printf("[gateway] skipping learning schedule %+v", sc)
			continue
		}
		name := "learn:" + strings.ToLower(topic)
		var sched cron.Schedule
		var when string
		if expr := strings.TrimSpace(sc.Cron); expr != "" {
			name += ":cron"
			sched = cron.Schedule{Kind: cron.KindCron, Expr: expr}
			when = "on " + expr
		} else {
			every := sc.EveryDuration()
			if every <= 0 {
				log.Printf("[gateway] skipping learning schedule %+v", sc)
				continue
			}
			sched = cron.Schedule{Kind: cron.KindEvery, EveryMs: every.Milliseconds()}
			when = "every " + every.String()
		}
		_, changed, err := g.cron.EnsureJob(name, sched, cron.Payload{Topic: topic})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if changed {
			log.Printf("[gateway] scheduled learning about %q %s", topic, when)
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if g.cfg.Learning.Enabled {
		if err := g.cron.Start(ctx); err != nil {
			log.Printf("[gateway] cron start warning: %v", err)
		}
		if err := g.ensureLearningJobs(); err != nil {
			log.Printf("[gateway] learning schedule warning: %v", err)
		}
	}

	if g.dashboard != nil {
		if err := g.dashboard.Start(ctx); err != nil {
			log.Printf("[gateway] dashboard start warning: %v", err)
		}
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			reply := g.handle(ctx, msg)
			if reply == "" {
				continue
			}
			out := bus.OutboundMessage{
				Channel:   msg.Channel,
				ChatID:    msg.ChatID,
				Content:   reply,
				Timestamp: time.Now(),
			}
			select {
			case g.bus.Outbound <- out:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops every component and closes the store. It is safe to call
// more than once.
func (g *Gateway) Shutdown() error {
	g.shutdownOnce.Do(func() {
		if g.learner.Stop() {
			waitIdle(g.learner, 5*time.Second)
		}
		g.cron.Stop()
		if g.dashboard != nil {
			if err := g.dashboard.Stop(); err != nil {
				log.Printf("[gateway] %v", err)
			}
		}
		_ = g.channels.StopAll()
		if err := g.store.Close(); err != nil {
			log.Printf("[gateway] close memory store warning: %v", err)
		}
		log.Printf("[gateway] shutdown complete")
	})
	return nil
}

func waitIdle(l *learning.Engine, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for l.Active() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
