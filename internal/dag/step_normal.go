package dag

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/funcreg"
	"github.com/oriys/squall/internal/logging"
	"github.com/oriys/squall/internal/observability"
	"github.com/oriys/squall/internal/runtimemetrics"
	"github.com/oriys/squall/internal/serializer"
	"github.com/oriys/squall/internal/sink"
	"golang.org/x/sync/errgroup"
)

// StepNormal advances a batch of pending normal-mode schedules by one hop.
// Requests targeting the same function are grouped; a group
// whose node declares SupportsBatch and has more than one pending request
// is invoked once with column-transposed arguments, otherwise each request
// invokes the function individually. A reference-resolution timeout aborts
// the whole call (the caller's ctx decides how that's retried); any other
// per-request failure (missing function, invocation error) is routed as a
// boundary error through the same sink path a successful result takes.
func (e *Engine) StepNormal(ctx context.Context, batch []StepInput) ([]StepOutcome, error) {
	outcomes := make([]StepOutcome, 0, len(batch))
	var sinkResults []sink.Result

	groups, order := groupByTarget(batch)
	for _, target := range order {
		group := groups[target]

		fn, err := e.Functions.Lookup(ctx, target)
		if err != nil {
			for _, req := range group {
				sinkResults = append(sinkResults, boundaryErrorResult(req.Schedule, domain.FuncNotFound, err))
				outcomes = append(outcomes, StepOutcome{ScheduleID: req.Schedule.ID, Success: false, Err: err})
			}
			continue
		}

		node, _ := group[0].Schedule.Dag.Node(target)

		if node.SupportsBatch && len(group) > 1 {
			o, s, err := e.invokeBatch(ctx, fn, node, group)
			if err != nil {
				return append(outcomes, o...), err
			}
			outcomes = append(outcomes, o...)
			sinkResults = append(sinkResults, s...)
			continue
		}

		for _, req := range group {
			o, s, err := e.invokeSingle(ctx, fn, node, req)
			if err != nil {
				return append(outcomes, o), err
			}
			outcomes = append(outcomes, o)
			if s != nil {
				sinkResults = append(sinkResults, *s)
			}
		}
	}

	if len(sinkResults) > 0 {
		if err := e.Sink.DispatchNormalBatch(ctx, sinkResults); err != nil {
			logging.Op().Warn("dag: normal sink batch dispatch failed", "error", err)
		}
	}
	return outcomes, nil
}

// groupByTarget partitions batch by TargetFunction, preserving first-seen
// order so output is deterministic for a given input ordering.
func groupByTarget(batch []StepInput) (map[string][]StepInput, []string) {
	groups := make(map[string][]StepInput)
	var order []string
	for _, inp := range batch {
		target := inp.Schedule.TargetFunction
		if _, ok := groups[target]; !ok {
			order = append(order, target)
		}
		groups[target] = append(groups[target], inp)
	}
	return groups, order
}

// resolveAndSubstitute runs one request's arguments through reference
// extraction, resolution, and substitution.
func (e *Engine) resolveAndSubstitute(ctx context.Context, req StepInput) ([]any, error) {
	args := buildRequestArgs(req.Schedule, req.Triggers)
	refs := extractReferences(args)
	values, err := e.Resolver.ResolveNormal(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("dag: resolve references for %q: %w", req.Schedule.ID, err)
	}
	return substituteReferences(args, values), nil
}

func (e *Engine) invokeSingle(ctx context.Context, fn funcreg.UserFunction, node domain.FunctionNode, req StepInput) (StepOutcome, *sink.Result, error) {
	args, err := e.resolveAndSubstitute(ctx, req)
	if err != nil {
		return StepOutcome{}, nil, err
	}

	lib := NewUserLibrary(e.Resolver.KVS, req.Schedule.ClientID, domain.Normal)
	callArgs := append([]any{lib}, args...)

	spanCtx, span := observability.StartSpan(ctx, "dag.step_normal",
		observability.AttrScheduleID.String(req.Schedule.ID),
		observability.AttrFunctionName.String(node.Name),
		observability.AttrConsistency.String(string(domain.Normal)),
	)
	start := time.Now()
	result, err := invokeUserFunction(spanCtx, fn, callArgs)
	elapsedMs := time.Since(start).Milliseconds()
	runtimemetrics.Global().RecordStep(node.Name, elapsedMs, err == nil)
	span.SetAttributes(observability.AttrDurationMs.Int64(elapsedMs))

	if err != nil {
		observability.SetSpanError(span, err)
		span.End()
		r := boundaryErrorResult(req.Schedule, domain.ExecutionError, err)
		return StepOutcome{ScheduleID: req.Schedule.ID, Success: false, Err: err}, &r, nil
	}
	observability.SetSpanOK(span)
	span.End()

	return e.routeResult(ctx, node, req.Schedule, result)
}

func (e *Engine) invokeBatch(ctx context.Context, fn funcreg.UserFunction, node domain.FunctionNode, group []StepInput) ([]StepOutcome, []sink.Result, error) {
	// Each request's reference resolution is independent of every other's,
	// so they run concurrently instead of serially ahead of the single
	// batched invocation.
	perRequestArgs := make([][]any, len(group))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range group {
		i, req := i, req
		g.Go(func() error {
			args, err := e.resolveAndSubstitute(gctx, req)
			if err != nil {
				return err
			}
			perRequestArgs[i] = args
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	colArgs := transpose(perRequestArgs)
	lib := NewUserLibrary(e.Resolver.KVS, group[0].Schedule.ClientID, domain.Normal)
	callArgs := append([]any{lib}, colArgs...)

	spanCtx, span := observability.StartSpan(ctx, "dag.step_normal_batch",
		observability.AttrFunctionName.String(node.Name),
		observability.AttrConsistency.String(string(domain.Normal)),
	)
	start := time.Now()
	result, err := invokeUserFunction(spanCtx, fn, callArgs)
	elapsedMs := time.Since(start).Milliseconds()
	runtimemetrics.Global().RecordStep(node.Name, elapsedMs, err == nil)
	span.SetAttributes(observability.AttrDurationMs.Int64(elapsedMs))
	if err != nil {
		observability.SetSpanError(span, err)
	} else {
		observability.SetSpanOK(span)
	}
	span.End()

	var outcomes []StepOutcome
	var sinkResults []sink.Result

	if err != nil {
		for _, req := range group {
			sinkResults = append(sinkResults, boundaryErrorResult(req.Schedule, domain.ExecutionError, err))
			outcomes = append(outcomes, StepOutcome{ScheduleID: req.Schedule.ID, Success: false, Err: err})
		}
		return outcomes, sinkResults, nil
	}

	results, ok := result.([]any)
	if !ok || len(results) != len(group) {
		malformed := fmt.Errorf("dag: batched function %q returned %d results for %d requests", node.Name, len(results), len(group))
		for _, req := range group {
			sinkResults = append(sinkResults, boundaryErrorResult(req.Schedule, domain.ExecutionError, malformed))
			outcomes = append(outcomes, StepOutcome{ScheduleID: req.Schedule.ID, Success: false, Err: malformed})
		}
		return outcomes, sinkResults, nil
	}

	for i, req := range group {
		o, s, err := e.routeResult(ctx, node, req.Schedule, results[i])
		if err != nil {
			return outcomes, sinkResults, err
		}
		outcomes = append(outcomes, o)
		if s != nil {
			sinkResults = append(sinkResults, *s)
		}
	}
	return outcomes, sinkResults, nil
}

// routeResult applies the MULTIEXEC controlled-abort check, then either
// fans a trigger out to every downstream node or hands the result off as a
// terminal sink.Result. Every outgoing trigger carries the caller's trace
// context so a downstream executor's logs correlate with this hop.
func (e *Engine) routeResult(ctx context.Context, node domain.FunctionNode, sched domain.Schedule, result any) (StepOutcome, *sink.Result, error) {
	if node.Type == domain.NodeMultiExec {
		serialized, err := serializer.Serialize(result)
		if err == nil && node.IsInvalidResult(serialized) {
			runtimemetrics.Global().RecordMultiExecAbort(node.Name)
			return StepOutcome{ScheduleID: sched.ID, Success: false}, nil, nil
		}
	}

	conns := sched.Dag.OutgoingConnections(node.Name)
	if len(conns) == 0 {
		r := sink.Result{Schedule: sched, Value: result, Success: true}
		return StepOutcome{ScheduleID: sched.ID, Success: true, IsSink: true}, &r, nil
	}

	flattened := serializer.FlattenTuple(result)
	tc := observability.ExtractTraceContext(ctx)
	for _, conn := range conns {
		trig := domain.DagTrigger{
			ID:             sched.ID,
			Source:         node.Name,
			TargetFunction: conn.Sink,
			Arguments:      flattened,
			TraceParent:    tc.TraceParent,
			TraceState:     tc.TraceState,
		}
		e.Pusher.Push(ctx, sched.Locations[conn.Sink], trig)
	}
	return StepOutcome{ScheduleID: sched.ID, Success: true, IsSink: false}, nil, nil
}
