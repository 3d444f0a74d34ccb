// Package dag implements the DAG step engine: given a schedule and its
// pending triggers, resolve references, invoke the target user function,
// and route its result onward — either to downstream DAG nodes via trigger
// fanout or to a terminal sink.
package dag

import (
	"context"
	"fmt"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/funcreg"
	"github.com/oriys/squall/internal/logging"
	"github.com/oriys/squall/internal/resolver"
	"github.com/oriys/squall/internal/runtimemetrics"
	"github.com/oriys/squall/internal/serializer"
	"github.com/oriys/squall/internal/sink"
	"github.com/oriys/squall/internal/triggercoord"
)

// StepInput is one schedule's pending work: the schedule plan plus every
// trigger that has arrived for it since the last step.
type StepInput struct {
	Schedule domain.Schedule
	Triggers []domain.DagTrigger
}

// StepOutcome summarizes what a step did, mainly for callers that batch
// multiple schedules through the executor loop and need to know whether a
// schedule is done (sink reached) or progressed to a downstream node.
type StepOutcome struct {
	ScheduleID string
	Success    bool
	IsSink     bool
	Err        error
}

// Engine wires the resolver, function registry, trigger pusher, and sink
// dispatcher into the step algorithms.
type Engine struct {
	Resolver  *resolver.Resolver
	Functions *funcreg.Registry
	Pusher    *triggercoord.Coordinator
	Sink      *sink.Dispatcher
}

// New constructs an Engine from its four collaborators.
func New(res *resolver.Resolver, functions *funcreg.Registry, pusher *triggercoord.Coordinator, sinkDispatcher *sink.Dispatcher) *Engine {
	return &Engine{Resolver: res, Functions: functions, Pusher: pusher, Sink: sinkDispatcher}
}

// invokeUserFunction calls fn with recover-based panic containment, so that
// a crashing user function never takes down the executor process — it is
// instead surfaced as an EXECUTION_ERROR to the step's caller. The recover
// is explicit because user functions here are in-process Go closures.
func invokeUserFunction(ctx context.Context, fn funcreg.UserFunction, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dag: user function panicked: %v", r)
		}
	}()
	return fn(ctx, args)
}

// boundaryErrorResult routes a terminal error the same way a successful
// result would be routed, reusing the sink's continuation/response_address/
// KVS-write precedence for error payloads: a boundary error is delivered
// through the same sink path as a successful result.
func boundaryErrorResult(sched domain.Schedule, code domain.ErrorCode, cause error) sink.Result {
	return sink.Result{Schedule: sched, Value: domain.NewBoundaryError(code, cause), Success: true}
}
