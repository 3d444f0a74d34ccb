// Package devschedule periodically re-submits a fixed schedule into the
// executor loop on a cron expression, for soak-testing the step engine
// without a real external scheduler. It is development tooling, not part
// of the core engine, and is disabled unless explicitly started.
package devschedule

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/squall/internal/dag"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/executorloop"
	"github.com/oriys/squall/internal/logging"
	"github.com/robfig/cron/v3"
)

// Submitter is the subset of *executorloop.Loop a Runner needs.
type Submitter interface {
	Submit(ctx context.Context, sched domain.Schedule, triggers []domain.DagTrigger) (dag.StepOutcome, error)
}

var _ Submitter = (*executorloop.Loop)(nil)

// Runner drives one or more fixed schedules into a Submitter on a cron cadence.
type Runner struct {
	cron    *cron.Cron
	loop    Submitter
	entries map[string]cron.EntryID
	mu      sync.Mutex
}

// New creates a Runner targeting loop. It does not start anything until Start is called.
func New(loop Submitter) *Runner {
	return &Runner{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		loop:    loop,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins the cron scheduler goroutine. Call Add before or after Start.
func (r *Runner) Start() {
	r.cron.Start()
	logging.Op().Info("devschedule started")
}

// Stop halts the cron scheduler, waiting for any in-flight invocation to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Add registers sched to re-submit on cronExpr, replacing any existing entry for the same schedule ID.
func (r *Runner) Add(cronExpr string, sched domain.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entryID, ok := r.entries[sched.ID]; ok {
		r.cron.Remove(entryID)
		delete(r.entries, sched.ID)
	}

	entryID, err := r.cron.AddFunc(cronExpr, func() { r.submit(sched) })
	if err != nil {
		return err
	}
	r.entries[sched.ID] = entryID
	return nil
}

// Remove unregisters a schedule's cron entry.
func (r *Runner) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entryID, ok := r.entries[id]; ok {
		r.cron.Remove(entryID)
		delete(r.entries, id)
	}
}

func (r *Runner) submit(sched domain.Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := r.loop.Submit(ctx, sched, nil); err != nil {
		logging.Op().Error("devschedule submit failed", "schedule", sched.ID, "error", err)
		return
	}
	logging.Op().Debug("devschedule submit succeeded", "schedule", sched.ID)
}
