// Package proxyserver implements the per-connection proxy handler
// state machine from spec.md §4.D: bind a pooled slot to a connection
// on its first request, inject the slot's bearer token on every
// request that connection sends, detect failed responses, and release
// the slot exactly once when the connection closes.
package proxyserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/nghyane/tokenproxy/internal/logging"
	"github.com/nghyane/tokenproxy/internal/tokenpool"
)

// connCtxKey is the type used to store *connState in a context.Context,
// set by http.Server.ConnContext and read back by the Director and
// ModifyResponse hooks on every request that connection carries.
type connCtxKey struct{}

// connState is the Go analog of the original's per-connection ProxyCtx:
// it holds the slot bound to one client connection for that
// connection's whole lifetime, plus bookkeeping released exactly once
// when the connection closes.
type connState struct {
	id          string
	pool        *tokenpool.Pool
	mu          sync.Mutex
	slot        *tokenpool.Slot
	requests    uint64
	connStart   time.Time
	releaseOnce sync.Once
}

func newConnState(pool *tokenpool.Pool) *connState {
	return &connState{
		id:        uuid.NewString(),
		pool:      pool,
		connStart: time.Now(),
	}
}

// bind acquires a slot for this connection on its first request and
// reuses it for every subsequent request on the same connection,
// mirroring the original's "acquire token on first request" rule.
func (c *connState) bind(ctx context.Context) (tokenpool.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests++

	if c.slot != nil {
		return *c.slot, nil
	}

	slot, err := c.pool.Acquire(ctx)
	if err != nil {
		return tokenpool.Slot{}, err
	}
	c.slot = &slot
	return slot, nil
}

// recordStatus observes one response as it arrives and marks the bound
// slot immediately (spec.md §4.E: "for every request... on error or
// response status >= 400: call pool.mark_error... on status exactly
// 401, also call pool.mark_needs_refresh"). It must not defer marking
// to release(): a keep-alive connection can send a 401 and then several
// 200s before it closes, and the mark has to survive those later
// successes instead of being overwritten by them.
func (c *connState) recordStatus(status int) {
	c.mu.Lock()
	slot := c.slot
	c.mu.Unlock()

	if slot == nil || status < 400 {
		return
	}
	c.pool.MarkError(slot.ID)
	if status == http.StatusUnauthorized {
		c.pool.MarkNeedsRefresh(slot.ID)
	}
}

// release returns the bound slot to the pool exactly once, regardless
// of how many times the connection's teardown path fires (ConnState
// can report StateClosed after a prior StateHijacked, etc.). Marking
// already happened per-response in recordStatus; release only retires
// the checkout.
func (c *connState) release() {
	c.releaseOnce.Do(func() {
		c.mu.Lock()
		slot := c.slot
		requests := c.requests
		c.mu.Unlock()

		if slot == nil {
			return
		}
		c.pool.Release(slot.ID)
		log.Infof("proxyserver: conn=%s released slot #%d after %d request(s), duration=%s",
			c.id, slot.ID, requests, time.Since(c.connStart))
	})
}

// connRegistry maps a live net.Conn to its connState so ConnState's
// StateClosed/StateHijacked callback, which only receives the net.Conn,
// can find and release the bound slot.
type connRegistry struct {
	mu sync.Mutex
	m  map[net.Conn]*connState
}

func newConnRegistry() *connRegistry {
	return &connRegistry{m: make(map[net.Conn]*connState)}
}

func (r *connRegistry) put(conn net.Conn, cs *connState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[conn] = cs
}

func (r *connRegistry) take(conn net.Conn) (*connState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.m[conn]
	delete(r.m, conn)
	return cs, ok
}

func connStateFromContext(ctx context.Context) (*connState, bool) {
	cs, ok := ctx.Value(connCtxKey{}).(*connState)
	return cs, ok
}

func withConnState(ctx context.Context, cs *connState) context.Context {
	return context.WithValue(ctx, connCtxKey{}, cs)
}
