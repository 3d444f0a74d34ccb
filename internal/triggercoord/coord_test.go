package triggercoord

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/oriys/squall/internal/domain"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeServer struct {
	received chan domain.DagTrigger
}

func (f *fakeServer) Push(_ context.Context, req *PushRequest) (*PushResponse, error) {
	f.received <- req.Trigger
	return &PushResponse{}, nil
}

func startTestServer(t *testing.T) (addr string, srv *fakeServer, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv = &fakeServer{received: make(chan domain.DagTrigger, 8)}
	s := grpc.NewServer()
	RegisterServer(s, srv)
	go func() { _ = s.Serve(lis) }()

	return lis.Addr().String(), srv, s.Stop
}

func TestCoordinatorPushSyncDeliversTrigger(t *testing.T) {
	addr, srv, stop := startTestServer(t)
	defer stop()

	c := New(time.Minute)
	defer c.Close()

	trigger := domain.DagTrigger{ID: "sched-1", Source: "a", TargetFunction: "b", TLow: 1, THigh: 2}
	err := c.PushSync(context.Background(), addr, trigger)
	require.NoError(t, err)

	select {
	case got := <-srv.received:
		require.Equal(t, trigger, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trigger delivery")
	}
}

func TestCoordinatorPushDoesNotBlockOnUnreachableAddr(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		c.Push(context.Background(), "127.0.0.1:1", domain.DagTrigger{ID: "x"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked past its fire-and-forget contract")
	}
}
