package connpool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func listen(t *testing.T) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := grpc.NewServer()
	go func() { _ = s.Serve(lis) }()
	return lis.Addr().String(), s.Stop
}

func TestPoolReusesConnectionForSameAddr(t *testing.T) {
	addr, stop := listen(t)
	defer stop()

	p := New(time.Minute)
	defer p.Close()

	c1, err := p.Get(addr)
	require.NoError(t, err)
	c2, err := p.Get(addr)
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestPoolEvictsIdleConnections(t *testing.T) {
	addr, stop := listen(t)
	defer stop()

	p := New(20 * time.Millisecond)
	defer p.Close()

	_, err := p.Get(addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, ok := p.entries[addr]
		return !ok
	}, time.Second, 10*time.Millisecond)
}
