package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/squall/internal/connpool"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/kvs"
	"github.com/oriys/squall/internal/lattice"
	"github.com/oriys/squall/internal/logging"
	"github.com/oriys/squall/internal/serializer"
)

// Result is one terminal-node outcome the dispatcher routes: Success is
// false for a MULTIEXEC controlled abort, in which case Dispatch emits
// nothing — a controlled abort carries no error object.
type Result struct {
	Schedule domain.Schedule
	Value    any
	Success  bool
}

// Dispatcher implements the sink-routing precedence: continuation,
// response_address, or KVS write.
type Dispatcher struct {
	KVS    kvs.Client
	Conns  *connpool.Pool
	Addrs  AddressBook

	// CausalRetryInterval paces the unbounded causal_put retry loop.
	CausalRetryInterval time.Duration
	// CausalUnboundedRetry keeps retrying causal_put forever on failure,
	// the default; when false, CausalRetryTimeout bounds the loop.
	CausalUnboundedRetry bool
	CausalRetryTimeout   time.Duration
}

// AddressBook resolves the fixed address the sink dials for continuation
// deliveries; response deliveries instead dial Schedule.ResponseAddr
// directly, since that address is request-scoped.
type AddressBook struct {
	ContinuationAddr string
}

// New constructs a Dispatcher with a 20ms causal retry cadence and
// unbounded retry enabled, matching config.DefaultConfig's Causal section.
func New(kvsClient kvs.Client, conns *connpool.Pool, addrs AddressBook) *Dispatcher {
	return &Dispatcher{
		KVS:                  kvsClient,
		Conns:                conns,
		Addrs:                addrs,
		CausalRetryInterval:  20 * time.Millisecond,
		CausalUnboundedRetry: true,
		CausalRetryTimeout:   30 * time.Second,
	}
}

// DispatchNormalBatch routes every successful result in a normal-mode step
// batch: continuation and response_address sinks are delivered
// individually, and everything left over is folded into a single
// multi-key KVS put.
func (d *Dispatcher) DispatchNormalBatch(ctx context.Context, results []Result) error {
	puts := make(map[string]lattice.Lattice)

	for _, r := range results {
		if !r.Success {
			continue
		}
		switch {
		case r.Schedule.Continuation != nil && r.Schedule.Continuation.Name != "":
			if err := d.deliverContinuation(ctx, r.Schedule, r.Value); err != nil {
				logging.Op().Warn("sink: continuation delivery failed", "schedule_id", r.Schedule.ID, "error", err)
			}
		case r.Schedule.ResponseAddr != "":
			if err := d.deliverResponse(ctx, r.Schedule, r.Value); err != nil {
				logging.Op().Warn("sink: response delivery failed", "schedule_id", r.Schedule.ID, "error", err)
			}
		default:
			l, err := serializer.ToLattice(r.Value, uint64(time.Now().UnixNano()))
			if err != nil {
				logging.Op().Warn("sink: lattice-wrap failed", "schedule_id", r.Schedule.ID, "error", err)
				continue
			}
			puts[r.Schedule.SinkKey()] = l
		}
	}

	if len(puts) == 0 {
		return nil
	}
	statuses, err := d.KVS.Put(ctx, puts)
	if err != nil {
		return fmt.Errorf("sink: normal put: %w", err)
	}
	for key, ok := range statuses {
		if !ok {
			// Logged, not retried — the next step's reads will retry and
			// may observe success.
			logging.Op().Warn("sink: normal put reported failure", "key", key)
		}
	}
	return nil
}

// DispatchCausal routes one causal-mode step's terminal result: an
// unconditional causal_put with unbounded retry, then — if set — a
// response_address delivery.
func (d *Dispatcher) DispatchCausal(ctx context.Context, sched domain.Schedule, value any) error {
	l, err := serializer.ToCausalLattice(value, uint64(time.Now().UnixNano()), lattice.UnboundedPromise)
	if err != nil {
		return fmt.Errorf("sink: lattice-wrap: %w", err)
	}

	if err := d.causalPutWithRetry(ctx, sched.SinkKey(), l, sched.ClientID); err != nil {
		return err
	}

	if sched.ResponseAddr != "" {
		return d.deliverResponse(ctx, sched, value)
	}
	return nil
}

func (d *Dispatcher) causalPutWithRetry(ctx context.Context, key string, l lattice.Lattice, clientID string) error {
	deadline := time.Time{}
	if !d.CausalUnboundedRetry && d.CausalRetryTimeout > 0 {
		deadline = time.Now().Add(d.CausalRetryTimeout)
	}

	for {
		ok, err := d.KVS.CausalPut(ctx, key, l, clientID)
		if err != nil {
			return fmt.Errorf("sink: causal_put %q: %w", key, err)
		}
		if ok {
			return nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("sink: causal_put %q: exceeded retry timeout", key)
		}

		interval := d.CausalRetryInterval
		if interval <= 0 {
			interval = 20 * time.Millisecond
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("sink: causal_put %q: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) deliverContinuation(ctx context.Context, sched domain.Schedule, value any) error {
	payload, err := serializer.Serialize(value)
	if err != nil {
		return fmt.Errorf("sink: serialize continuation result: %w", err)
	}
	req := &DeliverRequest{
		ScheduleID:       sched.ID,
		Result:           payload,
		ContinuationName: sched.Continuation.Name,
		ContinuationID:   sched.Continuation.ID,
	}
	return d.invoke(ctx, d.Addrs.ContinuationAddr, req)
}

func (d *Dispatcher) deliverResponse(ctx context.Context, sched domain.Schedule, value any) error {
	payload, err := serializer.Serialize(value)
	if err != nil {
		return fmt.Errorf("sink: serialize response result: %w", err)
	}
	req := &DeliverRequest{ScheduleID: sched.ID, Result: payload}
	return d.invoke(ctx, sched.ResponseAddr, req)
}

func (d *Dispatcher) invoke(ctx context.Context, addr string, req *DeliverRequest) error {
	if addr == "" {
		return fmt.Errorf("sink: empty delivery address")
	}
	conn, err := d.Conns.Get(addr)
	if err != nil {
		return err
	}
	resp := new(DeliverResponse)
	if err := conn.Invoke(ctx, "/"+serviceName+"/Deliver", req, resp); err != nil {
		return fmt.Errorf("sink: invoke %q: %w", addr, err)
	}
	return nil
}
