// Package connpool is a destination-address-keyed cache of warm
// google.golang.org/grpc client connections: the same "open on first use,
// keep alive between invocations, evict after IdleTTL" lifecycle a warm-VM
// pool would use, with a dial target standing in for a pool key.
// internal/triggercoord uses one instance for trigger pushes; internal/sink
// uses a second for continuation/response deliveries — both are
// read-through connection caches, never closed except on eviction or
// process shutdown.
package connpool

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultIdleTTL mirrors pool.DefaultIdleTTL's warm-resource retention
// window, repurposed for idle connections instead of idle VMs.
const DefaultIdleTTL = 5 * time.Minute

type entry struct {
	mu       sync.Mutex
	conn     *grpc.ClientConn
	lastUsed time.Time
}

// Pool is a concurrency-safe cache of *grpc.ClientConn keyed by dial
// target.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	idleTTL time.Duration
	stop    chan struct{}
}

// New starts a Pool whose entries are evicted after idleTTL of disuse. A
// zero idleTTL uses DefaultIdleTTL.
func New(idleTTL time.Duration) *Pool {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	p := &Pool{
		entries: make(map[string]*entry),
		idleTTL: idleTTL,
		stop:    make(chan struct{}),
	}
	go p.evictLoop()
	return p
}

func (p *Pool) evictLoop() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for addr, e := range p.entries {
		e.mu.Lock()
		idle := now.Sub(e.lastUsed) > p.idleTTL
		e.mu.Unlock()
		if idle {
			_ = e.conn.Close()
			delete(p.entries, addr)
		}
	}
}

// Get returns the cached connection for addr, dialing one if absent.
func (p *Pool) Get(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	e, ok := p.entries[addr]
	p.mu.Unlock()
	if ok {
		e.mu.Lock()
		e.lastUsed = time.Now()
		conn := e.conn
		e.mu.Unlock()
		return conn, nil
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connpool: dial %q: %w", addr, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.entries[addr]; ok {
		_ = conn.Close()
		existing.mu.Lock()
		existing.lastUsed = time.Now()
		existing.mu.Unlock()
		return existing.conn, nil
	}
	p.entries[addr] = &entry{conn: conn, lastUsed: time.Now()}
	return conn, nil
}

// Close closes every cached connection and stops the eviction loop.
func (p *Pool) Close() error {
	close(p.stop)
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, e := range p.entries {
		_ = e.conn.Close()
		delete(p.entries, addr)
	}
	return nil
}
