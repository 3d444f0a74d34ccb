package executorloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/oriys/squall/internal/cache"
	"github.com/oriys/squall/internal/connpool"
	"github.com/oriys/squall/internal/dag"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/funcreg"
	"github.com/oriys/squall/internal/kvs/memkvs"
	"github.com/oriys/squall/internal/resolver"
	"github.com/oriys/squall/internal/sink"
	"github.com/oriys/squall/internal/triggercoord"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T, store *memkvs.Store, window time.Duration, maxBatch int) *Loop {
	t.Helper()
	res := resolver.New(store, cache.NewInMemoryCache())
	functions := funcreg.New(store, domain.Normal)
	pusher := triggercoord.New(time.Minute)
	t.Cleanup(func() { _ = pusher.Close() })
	conns := connpool.New(time.Minute)
	t.Cleanup(func() { _ = conns.Close() })
	dispatcher := sink.New(store, conns, sink.AddressBook{})
	engine := dag.New(res, functions, pusher, dispatcher)
	return New(engine, window, maxBatch)
}

func TestLoopFlushesBatchAfterWindow(t *testing.T) {
	store := memkvs.New()
	l := newTestLoop(t, store, 10*time.Millisecond, 32)
	l.Engine.Functions.Register("double", func(_ context.Context, args []any) (any, error) {
		n := args[0].(float64)
		return n * 2, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); l.Close() }()

	sched := domain.Schedule{
		ID:             "s1",
		TargetFunction: "double",
		Arguments:      map[string][]any{"double": {float64(21)}},
		Dag:            domain.Dag{Functions: []domain.FunctionNode{{Name: "double", Type: domain.NodeNormal}}},
	}
	_, err := l.Submit(ctx, sched, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		values, err := store.Get(context.Background(), []string{"s1"})
		return err == nil && values["s1"] != nil
	}, time.Second, 5*time.Millisecond)

	values, err := store.Get(context.Background(), []string{"s1"})
	require.NoError(t, err)
	require.Equal(t, float64(42), values["s1"].Reveal())
}

func TestLoopAccumulatesTriggersBeforeSchedule(t *testing.T) {
	store := memkvs.New()
	l := newTestLoop(t, store, 10*time.Millisecond, 32)
	l.Engine.Functions.Register("sum", func(_ context.Context, args []any) (any, error) {
		a := args[0].(float64)
		b := args[1].(float64)
		return a + b, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); l.Close() }()

	// The trigger arrives before Submit registers the schedule's plan.
	_, err := l.Push(ctx, &triggercoord.PushRequest{Trigger: domain.DagTrigger{
		ID:             "s2",
		TargetFunction: "sum",
		Arguments:      []any{float64(5)},
	}})
	require.NoError(t, err)

	sched := domain.Schedule{
		ID:             "s2",
		TargetFunction: "sum",
		Arguments:      map[string][]any{"sum": {float64(10)}},
		Dag:            domain.Dag{Functions: []domain.FunctionNode{{Name: "sum", Type: domain.NodeNormal}}},
	}
	_, err = l.Submit(ctx, sched, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		values, err := store.Get(context.Background(), []string{"s2"})
		return err == nil && values["s2"] != nil
	}, time.Second, 5*time.Millisecond)

	values, err := store.Get(context.Background(), []string{"s2"})
	require.NoError(t, err)
	require.Equal(t, float64(15), values["s2"].Reveal())
}

func TestLoopWaitsForAllPredecessorsOnFanIn(t *testing.T) {
	store := memkvs.New()
	l := newTestLoop(t, store, 10*time.Millisecond, 32)
	l.Engine.Functions.Register("join", func(_ context.Context, args []any) (any, error) {
		a := args[0].(float64)
		b := args[1].(float64)
		return a + b, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); l.Close() }()

	joinDag := domain.Dag{
		Functions: []domain.FunctionNode{{Name: "a", Type: domain.NodeNormal}, {Name: "b", Type: domain.NodeNormal}, {Name: "join", Type: domain.NodeNormal}},
		Connections: []domain.Connection{
			{Source: "a", Sink: "join"},
			{Source: "b", Sink: "join"},
		},
	}

	sched := domain.Schedule{
		ID:             "s3",
		TargetFunction: "join",
		Dag:            joinDag,
	}
	_, err := l.Submit(ctx, sched, nil)
	require.NoError(t, err)

	// Only one of the two predecessors has delivered its trigger: the sink
	// must not step until the other arrives.
	_, err = l.Push(ctx, &triggercoord.PushRequest{Trigger: domain.DagTrigger{
		ID:             "s3",
		Source:         "a",
		TargetFunction: "join",
		Arguments:      []any{float64(4)},
	}})
	require.NoError(t, err)

	require.Never(t, func() bool {
		values, err := store.Get(context.Background(), []string{"s3"})
		return err == nil && values["s3"] != nil
	}, 100*time.Millisecond, 10*time.Millisecond)

	_, err = l.Push(ctx, &triggercoord.PushRequest{Trigger: domain.DagTrigger{
		ID:             "s3",
		Source:         "b",
		TargetFunction: "join",
		Arguments:      []any{float64(6)},
	}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		values, err := store.Get(context.Background(), []string{"s3"})
		return err == nil && values["s3"] != nil
	}, time.Second, 5*time.Millisecond)

	values, err := store.Get(context.Background(), []string{"s3"})
	require.NoError(t, err)
	require.Equal(t, float64(10), values["s3"].Reveal())
}

func TestLoopCallInvokesImmediately(t *testing.T) {
	store := memkvs.New()
	l := newTestLoop(t, store, time.Hour, 32)
	l.Engine.Functions.Register("triple", func(_ context.Context, args []any) (any, error) {
		n := args[0].(float64)
		return n * 3, nil
	})

	args, err := json.Marshal([]any{float64(7)})
	require.NoError(t, err)

	resp, err := l.Call(context.Background(), &CallRequest{Name: "triple", Arguments: args})
	require.NoError(t, err)
	require.Empty(t, resp.Error)

	values, err := store.Get(context.Background(), []string{"triple-adhoc"})
	require.NoError(t, err)
	require.Equal(t, float64(21), values["triple-adhoc"].Reveal())
}

func TestLoopCallFuncNotFoundReturnsBoundaryError(t *testing.T) {
	store := memkvs.New()
	l := newTestLoop(t, store, time.Hour, 32)

	resp, err := l.Call(context.Background(), &CallRequest{Name: "missing"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Error)

	var be domain.BoundaryError
	require.NoError(t, json.Unmarshal(resp.Error, &be))
	require.Equal(t, domain.FuncNotFound, be.Code)
}
