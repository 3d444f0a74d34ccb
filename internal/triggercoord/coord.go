package triggercoord

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/squall/internal/connpool"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/logging"
)

// Coordinator is the trigger coordinator's pusher cache: a destination-
// address-keyed connpool.Pool of warm gRPC connections, read-through
// (open-on-miss). A connection stays open until it sits idle past the
// pool's idle TTL or Close is called.
type Coordinator struct {
	pool *connpool.Pool
}

// New starts a Coordinator whose pusher cache evicts idle connections
// after idleTTL.
func New(idleTTL time.Duration) *Coordinator {
	return &Coordinator{pool: connpool.New(idleTTL)}
}

// Push sends trigger to addr fire-and-forget: it returns immediately and
// logs (rather than propagating) any send failure.
func (c *Coordinator) Push(ctx context.Context, addr string, trigger domain.DagTrigger) {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.send(sendCtx, addr, trigger); err != nil {
			logging.Op().Warn("triggercoord: push failed", "addr", addr, "schedule_id", trigger.ID, "target", trigger.TargetFunction, "error", err)
		}
	}()
}

// PushSync sends trigger to addr and waits for the result; used by callers
// (and tests) that need to observe the outcome instead of fire-and-forget.
func (c *Coordinator) PushSync(ctx context.Context, addr string, trigger domain.DagTrigger) error {
	return c.send(ctx, addr, trigger)
}

func (c *Coordinator) send(ctx context.Context, addr string, trigger domain.DagTrigger) error {
	conn, err := c.pool.Get(addr)
	if err != nil {
		return err
	}

	req := &PushRequest{Trigger: trigger}
	resp := new(PushResponse)
	if err := conn.Invoke(ctx, "/"+serviceName+"/Push", req, resp); err != nil {
		return fmt.Errorf("triggercoord: invoke %q: %w", addr, err)
	}
	return nil
}

// Close closes every cached connection and stops the eviction loop.
func (c *Coordinator) Close() error {
	return c.pool.Close()
}
