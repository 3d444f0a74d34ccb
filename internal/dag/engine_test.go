package dag

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/oriys/squall/internal/cache"
	"github.com/oriys/squall/internal/connpool"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/funcreg"
	"github.com/oriys/squall/internal/kvs/memkvs"
	"github.com/oriys/squall/internal/lattice"
	"github.com/oriys/squall/internal/resolver"
	"github.com/oriys/squall/internal/sink"
	"github.com/oriys/squall/internal/triggercoord"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func newTestEngine(t *testing.T, kvsClient *memkvs.Store) *Engine {
	t.Helper()
	res := resolver.New(kvsClient, cache.NewInMemoryCache())
	functions := funcreg.New(kvsClient, domain.Normal)
	pusher := triggercoord.New(time.Minute)
	t.Cleanup(func() { _ = pusher.Close() })
	conns := connpool.New(time.Minute)
	t.Cleanup(func() { _ = conns.Close() })
	dispatcher := sink.New(kvsClient, conns, sink.AddressBook{})
	return New(res, functions, pusher, dispatcher)
}

func TestStepNormalPlainSinkWritesKVS(t *testing.T) {
	store := memkvs.New()
	e := newTestEngine(t, store)
	e.Functions.Register("double", func(_ context.Context, args []any) (any, error) {
		n := args[0].(float64)
		return n * 2, nil
	})

	sched := domain.Schedule{
		ID:             "s1",
		TargetFunction: "double",
		Arguments:      map[string][]any{"double": {float64(21)}},
		Dag:            domain.Dag{Functions: []domain.FunctionNode{{Name: "double", Type: domain.NodeNormal}}},
	}

	outcomes, err := e.StepNormal(context.Background(), []StepInput{{Schedule: sched}})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Success)
	require.True(t, outcomes[0].IsSink)

	values, err := store.Get(context.Background(), []string{"s1"})
	require.NoError(t, err)
	require.Equal(t, float64(42), values["s1"].Reveal())
}

func TestStepNormalResolvesReferenceBeforeInvoking(t *testing.T) {
	store := memkvs.New()
	store.Seed("x", &lattice.LWW{Value: json.RawMessage("5")})
	e := newTestEngine(t, store)
	e.Functions.Register("square", func(_ context.Context, args []any) (any, error) {
		n := args[0].(float64)
		return n * n, nil
	})

	sched := domain.Schedule{
		ID:             "s1",
		TargetFunction: "square",
		Arguments:      map[string][]any{"square": {domain.Reference{Key: "x"}}},
		Dag:            domain.Dag{Functions: []domain.FunctionNode{{Name: "square"}}},
	}

	outcomes, err := e.StepNormal(context.Background(), []StepInput{{Schedule: sched}})
	require.NoError(t, err)
	require.True(t, outcomes[0].Success)

	values, err := store.Get(context.Background(), []string{"s1"})
	require.NoError(t, err)
	require.Equal(t, float64(25), values["s1"].Reveal())
}

func TestStepNormalFuncNotFoundRoutesBoundaryError(t *testing.T) {
	store := memkvs.New()
	e := newTestEngine(t, store)

	sched := domain.Schedule{
		ID:             "s1",
		TargetFunction: "ghost",
		Dag:            domain.Dag{Functions: []domain.FunctionNode{{Name: "ghost"}}},
	}

	outcomes, err := e.StepNormal(context.Background(), []StepInput{{Schedule: sched}})
	require.NoError(t, err)
	require.False(t, outcomes[0].Success)

	values, err := store.Get(context.Background(), []string{"s1"})
	require.NoError(t, err)
	raw, err := json.Marshal(values["s1"].Reveal())
	require.NoError(t, err)
	var be domain.BoundaryError
	require.NoError(t, json.Unmarshal(raw, &be))
	require.Equal(t, domain.FuncNotFound, be.Code)
}

func TestStepNormalExecutionErrorRecoversFromPanic(t *testing.T) {
	store := memkvs.New()
	e := newTestEngine(t, store)
	e.Functions.Register("boom", func(_ context.Context, args []any) (any, error) {
		panic("kaboom")
	})

	sched := domain.Schedule{
		ID:             "s1",
		TargetFunction: "boom",
		Dag:            domain.Dag{Functions: []domain.FunctionNode{{Name: "boom"}}},
	}

	outcomes, err := e.StepNormal(context.Background(), []StepInput{{Schedule: sched}})
	require.NoError(t, err)
	require.False(t, outcomes[0].Success)

	values, err := store.Get(context.Background(), []string{"s1"})
	require.NoError(t, err)
	raw, _ := json.Marshal(values["s1"].Reveal())
	var be domain.BoundaryError
	require.NoError(t, json.Unmarshal(raw, &be))
	require.Equal(t, domain.ExecutionError, be.Code)
}

func TestStepNormalBatchesAndTransposes(t *testing.T) {
	store := memkvs.New()
	e := newTestEngine(t, store)
	e.Functions.Register("add_one", func(_ context.Context, args []any) (any, error) {
		col := args[0].([]any)
		out := make([]any, len(col))
		for i, v := range col {
			out[i] = v.(float64) + 1
		}
		return out, nil
	})

	dag := domain.Dag{Functions: []domain.FunctionNode{{Name: "add_one", SupportsBatch: true}}}
	batch := []StepInput{
		{Schedule: domain.Schedule{ID: "a", TargetFunction: "add_one", Arguments: map[string][]any{"add_one": {float64(1)}}, Dag: dag}},
		{Schedule: domain.Schedule{ID: "b", TargetFunction: "add_one", Arguments: map[string][]any{"add_one": {float64(2)}}, Dag: dag}},
		{Schedule: domain.Schedule{ID: "c", TargetFunction: "add_one", Arguments: map[string][]any{"add_one": {float64(3)}}, Dag: dag}},
	}

	outcomes, err := e.StepNormal(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	values, err := store.Get(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, float64(2), values["a"].Reveal())
	require.Equal(t, float64(3), values["b"].Reveal())
	require.Equal(t, float64(4), values["c"].Reveal())
}

func TestStepNormalMultiExecInvalidResultAborts(t *testing.T) {
	store := memkvs.New()
	e := newTestEngine(t, store)
	e.Functions.Register("cas", func(_ context.Context, args []any) (any, error) {
		return "ABORTED", nil
	})

	invalid, _ := json.Marshal("ABORTED")
	dag := domain.Dag{Functions: []domain.FunctionNode{{Name: "cas", Type: domain.NodeMultiExec, InvalidResults: [][]byte{invalid}}}}
	sched := domain.Schedule{ID: "s1", TargetFunction: "cas", Dag: dag}

	outcomes, err := e.StepNormal(context.Background(), []StepInput{{Schedule: sched}})
	require.NoError(t, err)
	require.False(t, outcomes[0].Success)

	_, err = store.Get(context.Background(), []string{"s1"})
	require.NoError(t, err)
}

type fakeTriggerServer struct {
	received chan domain.DagTrigger
}

func (f *fakeTriggerServer) Push(_ context.Context, req *triggercoord.PushRequest) (*triggercoord.PushResponse, error) {
	f.received <- req.Trigger
	return &triggercoord.PushResponse{}, nil
}

func startFakeTriggerServer(t *testing.T) (addr string, srv *fakeTriggerServer, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv = &fakeTriggerServer{received: make(chan domain.DagTrigger, 8)}
	s := grpc.NewServer()
	triggercoord.RegisterServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	return lis.Addr().String(), srv, s.Stop
}

func TestStepNormalFansOutTriggerToDownstreamNode(t *testing.T) {
	addr, srv, stop := startFakeTriggerServer(t)
	defer stop()

	store := memkvs.New()
	e := newTestEngine(t, store)
	e.Functions.Register("first", func(_ context.Context, args []any) (any, error) {
		return "hello", nil
	})

	dag := domain.Dag{
		Functions:   []domain.FunctionNode{{Name: "first"}, {Name: "second"}},
		Connections: []domain.Connection{{Source: "first", Sink: "second"}},
	}
	sched := domain.Schedule{
		ID:             "s1",
		TargetFunction: "first",
		Dag:            dag,
		Locations:      map[string]string{"second": addr},
	}

	outcomes, err := e.StepNormal(context.Background(), []StepInput{{Schedule: sched}})
	require.NoError(t, err)
	require.True(t, outcomes[0].Success)
	require.False(t, outcomes[0].IsSink)

	select {
	case trig := <-srv.received:
		require.Equal(t, "second", trig.TargetFunction)
		require.Equal(t, []any{"hello"}, trig.Arguments)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for downstream trigger")
	}
}

func TestStepCausalPinsIntervalOnFirstStep(t *testing.T) {
	store := memkvs.New()
	store.SeedCausal("x", &lattice.Wren{Ts: 7, Promise: ^uint64(0), Value: json.RawMessage("5")}, 7, ^uint64(0))
	e := newTestEngine(t, store)
	e.Functions.Register("square", func(_ context.Context, args []any) (any, error) {
		n := args[0].(float64)
		return n * n, nil
	})

	dag := domain.Dag{
		Functions:   []domain.FunctionNode{{Name: "square"}, {Name: "next"}},
		Connections: []domain.Connection{{Source: "square", Sink: "next"}},
	}
	sched := domain.Schedule{
		ID:             "s1",
		TargetFunction: "square",
		Arguments:      map[string][]any{"square": {domain.Reference{Key: "x"}}},
		Dag:            dag,
		Locations:      map[string]string{"next": "127.0.0.1:1"},
		ClientID:       "c1",
		Consistency:    domain.Multi,
	}

	outcome, err := e.StepCausal(context.Background(), StepInput{Schedule: sched})
	require.NoError(t, err)
	require.True(t, outcome.Success)
}
