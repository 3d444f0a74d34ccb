package sink

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/oriys/squall/internal/connpool"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs/memkvs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeDeliveryServer struct {
	received chan *DeliverRequest
}

func (f *fakeDeliveryServer) Deliver(_ context.Context, req *DeliverRequest) (*DeliverResponse, error) {
	f.received <- req
	return &DeliverResponse{}, nil
}

func startDeliveryServer(t *testing.T) (addr string, srv *fakeDeliveryServer, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv = &fakeDeliveryServer{received: make(chan *DeliverRequest, 8)}
	s := grpc.NewServer()
	RegisterServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	return lis.Addr().String(), srv, s.Stop
}

func TestDispatchNormalBatchWritesKVSForPlainSink(t *testing.T) {
	store := memkvs.New()
	d := New(store, connpool.New(time.Minute), AddressBook{})
	defer d.Conns.Close()

	results := []Result{
		{Schedule: domain.Schedule{ID: "s1"}, Value: "hello", Success: true},
		{Schedule: domain.Schedule{ID: "s2", OutputKey: "custom"}, Value: "world", Success: true},
		{Schedule: domain.Schedule{ID: "s3"}, Value: "skip-me", Success: false},
	}

	err := d.DispatchNormalBatch(context.Background(), results)
	require.NoError(t, err)

	values, err := store.Get(context.Background(), []string{"s1", "custom", "s3"})
	require.NoError(t, err)
	require.Equal(t, "hello", values["s1"].Reveal())
	require.Equal(t, "world", values["custom"].Reveal())
	require.NotContains(t, values, "s3")
}

func TestDispatchNormalBatchDeliversResponseAddress(t *testing.T) {
	addr, srv, stop := startDeliveryServer(t)
	defer stop()

	store := memkvs.New()
	d := New(store, connpool.New(time.Minute), AddressBook{})
	defer d.Conns.Close()

	sched := domain.Schedule{ID: "s1", ResponseAddr: addr}
	err := d.DispatchNormalBatch(context.Background(), []Result{{Schedule: sched, Value: 42, Success: true}})
	require.NoError(t, err)

	select {
	case req := <-srv.received:
		var got int
		require.NoError(t, json.Unmarshal(req.Result, &got))
		require.Equal(t, 42, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response delivery")
	}
}

func TestDispatchCausalPutsValueReadableByCausalGet(t *testing.T) {
	store := memkvs.New()
	d := New(store, connpool.New(time.Minute), AddressBook{})
	defer d.Conns.Close()
	d.CausalRetryInterval = time.Millisecond

	sched := domain.Schedule{ID: "causal-1", ClientID: "c1"}
	err := d.DispatchCausal(context.Background(), sched, "value")
	require.NoError(t, err)

	tuples, err := store.CausalGet(context.Background(), []string{"causal-1"}, 0, domain.UnboundedTHigh, domain.Multi, "c1")
	require.NoError(t, err)
	require.Equal(t, "value", tuples["causal-1"].Value)
}

func TestDispatchContinuationPrecedesResponseAddress(t *testing.T) {
	addr, srv, stop := startDeliveryServer(t)
	defer stop()

	store := memkvs.New()
	d := New(store, connpool.New(time.Minute), AddressBook{ContinuationAddr: addr})
	defer d.Conns.Close()

	sched := domain.Schedule{
		ID:           "s1",
		ResponseAddr: "127.0.0.1:1",
		Continuation: &domain.Continuation{Name: "resume"},
	}
	err := d.DispatchNormalBatch(context.Background(), []Result{{Schedule: sched, Value: "ok", Success: true}})
	require.NoError(t, err)

	select {
	case req := <-srv.received:
		require.Equal(t, "resume", req.ContinuationName)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for continuation delivery")
	}
}
