package executorloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/squall/internal/dag"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/funcreg"
	"github.com/oriys/squall/internal/logging"
	"github.com/oriys/squall/internal/observability"
	"github.com/oriys/squall/internal/triggercoord"
)

// pendingEntry accumulates a schedule's incoming triggers until the loop's
// flush goroutine steps it. A schedule becomes ready once Submit has
// registered its plan — a trigger that arrives before its schedule is
// simply buffered under its schedule ID until Submit catches up.
type pendingEntry struct {
	schedule    domain.Schedule
	triggers    []domain.DagTrigger
	hasSchedule bool
}

// Loop is the per-executor loop: one goroutine (Run) owns pending and steps
// every normal-mode schedule registered through Submit and Push. Causal-mode
// schedules passed to Submit, and every Call, are stepped on the caller's
// goroutine instead, so Engine.StepNormal/StepCausal can run concurrently
// with Run and with each other; the resolver's value cache and the function
// registry are not confined to one goroutine (both are internally
// synchronized). Submit and Push may be called from any goroutine; they
// only ever touch pending under mu.
type Loop struct {
	Engine *dag.Engine

	BatchWindow  time.Duration
	MaxBatchSize int

	mu      sync.Mutex
	pending map[string]*pendingEntry

	stop chan struct{}
	done chan struct{}
}

// New constructs a Loop bound to engine, batching normal-mode schedules
// within batchWindow up to maxBatchSize requests per flush.
func New(engine *dag.Engine, batchWindow time.Duration, maxBatchSize int) *Loop {
	return &Loop{
		Engine:       engine,
		BatchWindow:  batchWindow,
		MaxBatchSize: maxBatchSize,
		pending:      make(map[string]*pendingEntry),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Submit registers a schedule's plan with the loop. Causal-mode schedules
// step immediately and synchronously (causal batching is disallowed);
// normal-mode schedules are marked ready for the next flush.
func (l *Loop) Submit(ctx context.Context, sched domain.Schedule, triggers []domain.DagTrigger) (dag.StepOutcome, error) {
	if sched.Consistency == domain.Multi {
		return l.Engine.StepCausal(ctx, dag.StepInput{Schedule: sched, Triggers: triggers})
	}

	l.mu.Lock()
	entry, ok := l.pending[sched.ID]
	if !ok {
		entry = &pendingEntry{}
		l.pending[sched.ID] = entry
	}
	entry.schedule = sched
	entry.hasSchedule = true
	entry.triggers = append(entry.triggers, triggers...)
	l.mu.Unlock()

	return dag.StepOutcome{ScheduleID: sched.ID}, nil
}

// Push implements triggercoord.Server: it is the inbound side of the same
// RPC internal/triggercoord.Coordinator sends on, buffering the trigger
// under its schedule ID for the next flush (or until Submit arrives, if
// the trigger reordered ahead of its own schedule's registration).
func (l *Loop) Push(ctx context.Context, req *triggercoord.PushRequest) (*triggercoord.PushResponse, error) {
	trig := req.Trigger

	tctx := observability.InjectTraceContext(ctx, observability.TraceContext{TraceParent: trig.TraceParent, TraceState: trig.TraceState})
	logging.OpWithTrace(observability.GetTraceID(tctx), observability.GetSpanID(tctx)).Debug(
		"executorloop: trigger received", "schedule_id", trig.ID, "source", trig.Source, "target", trig.TargetFunction)

	l.mu.Lock()
	entry, ok := l.pending[trig.ID]
	if !ok {
		entry = &pendingEntry{}
		l.pending[trig.ID] = entry
	}
	entry.triggers = append(entry.triggers, trig)
	l.mu.Unlock()

	return &triggercoord.PushResponse{}, nil
}

// Call implements CallServer: a FunctionCall is invoked immediately,
// outside of any DAG and outside the batch accumulator, since it has no
// downstream connections to fan out to and no pending triggers to wait on.
func (l *Loop) Call(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	var args []any
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("executorloop: decode call arguments: %w", err)
		}
	}

	consistency := domain.Consistency(req.Consistency)
	if !consistency.IsValid() {
		consistency = domain.Normal
	}

	sched := domain.Schedule{
		// ID is unique per call so two concurrent ad-hoc invocations of the
		// same function don't collide in logs/traces; OutputKey pins the
		// sink write to a per-function key regardless of which invocation
		// produced it.
		ID:             uuid.NewString(),
		TargetFunction: req.Name,
		Arguments:      map[string][]any{req.Name: args},
		Dag:            domain.Dag{Functions: []domain.FunctionNode{{Name: req.Name}}},
		Consistency:    consistency,
		OutputKey:      req.Name + "-adhoc",
	}

	var outcomes []dag.StepOutcome
	var err error
	if consistency == domain.Multi {
		var o dag.StepOutcome
		o, err = l.Engine.StepCausal(ctx, dag.StepInput{Schedule: sched})
		if err != nil {
			return nil, fmt.Errorf("executorloop: causal call: %w", err)
		}
		outcomes = []dag.StepOutcome{o}
	} else {
		outcomes, err = l.Engine.StepNormal(ctx, []dag.StepInput{{Schedule: sched}})
		if err != nil {
			return nil, fmt.Errorf("executorloop: call: %w", err)
		}
	}

	if len(outcomes) == 0 || !outcomes[0].Success {
		cause := fmt.Errorf("call %q failed", req.Name)
		if len(outcomes) > 0 && outcomes[0].Err != nil {
			cause = outcomes[0].Err
		}
		code := domain.ExecutionError
		if errors.Is(cause, funcreg.ErrFunctionNotFound) {
			code = domain.FuncNotFound
		}
		be := domain.NewBoundaryError(code, cause)
		payload, _ := json.Marshal(be)
		return &CallResponse{Error: payload}, nil
	}
	return &CallResponse{}, nil
}

// Run is the loop's single writer goroutine: it wakes every BatchWindow,
// collects every ready (has-schedule) pending entry into one
// Engine.StepNormal batch (capped at MaxBatchSize), and removes stepped
// entries from the pending map. Call from its own goroutine; stop it with
// Close.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	interval := l.BatchWindow
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			l.flush(ctx)
		}
	}
}

func (l *Loop) flush(ctx context.Context) {
	batch := l.drainReady()
	if len(batch) == 0 {
		return
	}
	if _, err := l.Engine.StepNormal(ctx, batch); err != nil {
		logging.Op().Warn("executorloop: step batch failed", "size", len(batch), "error", err)
	}
}

func (l *Loop) drainReady() []dag.StepInput {
	l.mu.Lock()
	defer l.mu.Unlock()

	var batch []dag.StepInput
	maxSize := l.MaxBatchSize
	if maxSize <= 0 {
		maxSize = 32
	}
	for id, entry := range l.pending {
		if !entry.hasSchedule || !entry.allPredecessorsArrived() {
			continue
		}
		batch = append(batch, dag.StepInput{Schedule: entry.schedule, Triggers: entry.triggers})
		delete(l.pending, id)
		if len(batch) >= maxSize {
			break
		}
	}
	return batch
}

// allPredecessorsArrived reports whether this entry has collected a trigger
// from every distinct predecessor of its target function. A root node (no
// incoming connections) has nothing to wait on and is ready as soon as its
// schedule lands. A fan-in node — two or more Connections sharing a Sink —
// must see a trigger from each distinct Source before it holds a complete
// argument list; draining early would step the function with some
// predecessors' arguments still missing.
func (e *pendingEntry) allPredecessorsArrived() bool {
	needed := e.schedule.Dag.IncomingConnectionCount(e.schedule.TargetFunction)
	if needed == 0 {
		return true
	}

	seen := make(map[string]struct{}, needed)
	for _, t := range e.triggers {
		seen[t.Source] = struct{}{}
	}
	return len(seen) >= needed
}

// Close stops Run and waits for it to return.
func (l *Loop) Close() {
	close(l.stop)
	<-l.done
}
