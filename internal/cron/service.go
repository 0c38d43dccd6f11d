package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Service runs scheduled learning jobs and persists them as JSON.
// "cron" jobs are driven by robfig/cron; "every" and "at" jobs by a
// one-second tick loop.
type Service struct {
	storePath string
	mu        sync.Mutex
	jobs      []CronJob
	OnJob     func(ctx context.Context, job CronJob) (string, error)
	cron      *rcron.Cron
	entryMap  map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx    context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	now       func() time.Time
}

func NewService(storePath string) *Service {
	s := &Service{
		storePath: storePath,
		entryMap:  make(map[string]rcron.EntryID),
		runCtx:    context.Background(),
		now:       time.Now,
	}
	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load jobs: %v", err)
	}
	return s
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithSeconds())
	for i := range s.jobs {
		if s.jobs[i].Enabled && s.jobs[i].Schedule.Kind == KindCron {
			s.registerJob(&s.jobs[i])
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", count)

	go s.tickLoop(runCtx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// registerJob must be called with s.mu held.
func (s *Service) registerJob(job *CronJob) {
	jobCopy := *job
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.executeJob(jobCopy)
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", job.Name, job.Schedule.Expr, err)
		return
	}
	s.entryMap[job.ID] = id
}

// unregisterJob must be called with s.mu held.
func (s *Service) unregisterJob(id string) {
	if entryID, ok := s.entryMap[id]; ok && s.cron != nil {
		s.cron.Remove(entryID)
	}
	delete(s.entryMap, id)
}

func (s *Service) executeJob(job CronJob) {
	if s.OnJob == nil {
		log.Printf("[cron] no OnJob handler set, skipping %s", job.Name)
		return
	}
	log.Printf("[cron] executing job %s (%s) topic=%q", job.Name, job.ID, job.Payload.Topic)

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	result, err := s.OnJob(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		now := s.now().UnixMilli()
		st := &s.jobs[i].State
		st.LastRunAtMs = now
		if err != nil {
			st.LastStatus = "error"
			st.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", job.Name, err)
		} else {
			st.LastStatus = "ok"
			st.LastError = ""
			log.Printf("[cron] job %s result: %s", job.Name, truncate(result, 100))
		}
		st.NextRunAtMs = s.jobs[i].nextRun(now)

		if s.jobs[i].DeleteAfterRun {
			s.unregisterJob(job.ID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		}
		break
	}

	if err := s.save(); err != nil {
		log.Printf("[cron] save jobs: %v", err)
	}
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, job := range s.dueJobs() {
				if ctx.Err() != nil {
					return
				}
				s.executeJob(job)
			}
		case <-ctx.Done():
			return
		}
	}
}

// dueJobs returns the every/at jobs whose next run has passed. At jobs are
// disabled as they are picked so they fire once.
func (s *Service) dueJobs() []CronJob {
	now := s.now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []CronJob
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled || job.Schedule.Kind == KindCron {
			continue
		}
		if job.State.NextRunAtMs <= 0 || now < job.State.NextRunAtMs {
			continue
		}
		if job.Schedule.Kind == KindAt {
			job.Enabled = false
		} else {
			// Pushed forward now so a slow run is not picked again by the next tick.
			job.State.NextRunAtMs = now + job.Schedule.EveryMs
		}
		due = append(due, *job)
	}
	return due
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}
	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := NewCronJob(name, schedule, payload)
	s.jobs = append(s.jobs, job)
	if job.Schedule.Kind == KindCron && s.cron != nil {
		s.registerJob(&s.jobs[len(s.jobs)-1])
	}
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	return &job, nil
}

// EnsureJob makes sure a job called name exists with the given schedule and
// payload. An existing job with a different schedule or topic is updated in
// place and keeps its run history. It reports whether anything changed.
func (s *Service) EnsureJob(name string, schedule Schedule, payload Payload) (*CronJob, bool, error) {
	if err := validateSchedule(schedule); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	idx := -1
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		job, err := s.AddJob(name, schedule, payload)
		return job, err == nil, err
	}
	defer s.mu.Unlock()

	job := &s.jobs[idx]
	if job.Schedule == schedule && job.Payload == payload {
		out := *job
		return &out, false, nil
	}

	s.unregisterJob(job.ID)
	job.Schedule = schedule
	job.Payload = payload
	job.State.NextRunAtMs = job.nextRun(s.now().UnixMilli())
	if job.Enabled && schedule.Kind == KindCron && s.cron != nil {
		s.registerJob(job)
	}
	if err := s.save(); err != nil {
		return nil, false, fmt.Errorf("save jobs: %w", err)
	}
	out := *job
	return &out, true, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregisterJob(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			_ = s.save()
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// NextCronRun reports when the cron runner will next fire job id. It is false
// for jobs the runner does not hold: every/at jobs, disabled jobs, or any job
// before Start.
func (s *Service) NextCronRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entryMap[id]
	if !ok || s.cron == nil {
		return time.Time{}, false
	}
	entry := s.cron.Entry(entryID)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Next, true
}

func (s *Service) EnableJob(id string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		job := &s.jobs[i]
		job.Enabled = enabled
		if job.Schedule.Kind == KindCron && s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[id]; !ok {
					s.registerJob(job)
				}
			} else {
				s.unregisterJob(id)
			}
		}
		if enabled && job.State.NextRunAtMs == 0 {
			job.State.NextRunAtMs = job.nextRun(s.now().UnixMilli())
		}
		_ = s.save()
		out := *job
		return &out, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

func validateSchedule(sc Schedule) error {
	switch sc.Kind {
	case KindCron:
		if _, err := rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor).Parse(sc.Expr); err != nil {
			return fmt.Errorf("parse cron expr %q: %w", sc.Expr, err)
		}
	case KindEvery:
		if sc.EveryMs <= 0 {
			return fmt.Errorf("every schedule needs a positive interval")
		}
	case KindAt:
		if sc.AtMs <= 0 {
			return fmt.Errorf("at schedule needs a run time")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", sc.Kind)
	}
	return nil
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &s.jobs); err != nil {
		return err
	}
	now := s.now().UnixMilli()
	for i := range s.jobs {
		if s.jobs[i].Enabled && s.jobs[i].State.NextRunAtMs == 0 {
			s.jobs[i].State.NextRunAtMs = s.jobs[i].nextRun(now)
		}
	}
	return nil
}

func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
