package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload is what a job asks May to do when it fires: learn about Topic.
type Payload struct {
	Topic string `json:"topic"`
}

type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	now := time.Now().UnixMilli()
	job := CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: now,
	}
	job.State.NextRunAtMs = job.nextRun(now)
	return job
}

// nextRun is the next tick-loop run time after now, or 0 for jobs the tick
// loop does not drive.
func (j *CronJob) nextRun(now int64) int64 {
	switch j.Schedule.Kind {
	case KindEvery:
		if j.Schedule.EveryMs <= 0 {
			return 0
		}
		if j.State.LastRunAtMs > 0 {
			return j.State.LastRunAtMs + j.Schedule.EveryMs
		}
		return now + j.Schedule.EveryMs
	case KindAt:
		if j.State.LastRunAtMs > 0 {
			return 0
		}
		return j.Schedule.AtMs
	}
	return 0
}
