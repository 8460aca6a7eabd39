// Package tokenpool implements the bounded, multi-producer/multi-consumer
// reservoir of upstream bearer tokens described in spec.md §3-§5: a
// fixed-size set of slots identified by a dense integer ID, checked out
// exclusively and FIFO, with per-slot metadata mutated in place by a
// background refresher.
package tokenpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nghyane/tokenproxy/internal/credential"
	log "github.com/nghyane/tokenproxy/internal/logging"
)

// Slot is the value returned by Acquire: a slot identity plus the token
// value captured at checkout time.
type Slot struct {
	ID    int
	Value string
}

// SeedToken pairs a freshly issued token value with the credential that
// will be used to reissue it.
type SeedToken struct {
	Value      string
	Credential credential.Credential
}

// Pool is the fixed-size token reservoir. It is created once from a
// non-empty list of seed tokens and never resized at runtime.
type Pool struct {
	available chan int
	metas     []*Meta

	inUse   atomic.Int64
	waiting atomic.Int64

	// refreshNotify is an edge-triggered, coalescing wakeup for the
	// refresher: MarkNeedsRefresh does a non-blocking send, the
	// refresher does a blocking receive. A full channel (capacity 1)
	// means a wakeup is already pending, so further marks are dropped —
	// the refresher drains every marked slot on each wake regardless.
	refreshNotify chan struct{}
}

// New builds a pool from initial tokens. len(seed) becomes the fixed
// pool size N; seed must be non-empty (spec.md §8: "Acquirer returns
// zero tokens at startup: TokenPool::new is never called").
func New(seed []SeedToken) (*Pool, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("tokenpool: cannot create a pool with zero tokens")
	}

	n := len(seed)
	p := &Pool{
		available:     make(chan int, n),
		metas:         make([]*Meta, n),
		refreshNotify: make(chan struct{}, 1),
	}

	for id, tok := range seed {
		p.metas[id] = newMeta(tok.Value, tok.Credential)
		p.available <- id
	}

	log.Infof("tokenpool: created pool with %d slots", n)
	return p, nil
}

// Acquire blocks until a slot is available, FIFO with respect to other
// waiters, and returns it. It is total in the sense spec.md describes —
// it never returns an error except when ctx is cancelled before a slot
// becomes available, which models the caller's task being dropped before
// it owns a slot.
func (p *Pool) Acquire(ctx context.Context) (Slot, error) {
	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	select {
	case id := <-p.available:
		p.inUse.Add(1)
		meta := p.metas[id]
		meta.RecordUse()
		return Slot{ID: id, Value: meta.Value()}, nil
	case <-ctx.Done():
		return Slot{}, ctx.Err()
	}
}

// Release returns a slot to the pool. It is non-blocking: capacity equals
// the slot count and a send only ever follows a prior receive of the same
// ID, so the channel can never be full. Releasing an ID that was not
// checked out (a bug in the caller) is logged rather than panicking only
// when every slot is already back in the FIFO; otherwise such an ID is
// enqueued a second time and the misuse is not detected.
func (p *Pool) Release(id int) {
	if id < 0 || id >= len(p.metas) {
		log.Warnf("tokenpool: release of out-of-range slot #%d", id)
		return
	}
	p.inUse.Add(-1)
	select {
	case p.available <- id:
	default:
		log.Warnf("tokenpool: slot #%d already released", id)
		p.inUse.Add(1)
	}
}

// MarkError records that a checkout of this slot observed an upstream
// error. It does not by itself trigger a refresh.
func (p *Pool) MarkError(id int) {
	if m := p.metaOrNil(id); m != nil {
		m.RecordError()
	}
}

// MarkNeedsRefresh flags the slot for immediate re-issue and wakes the
// refresher. Safe to call repeatedly; the wakeup coalesces.
func (p *Pool) MarkNeedsRefresh(id int) {
	m := p.metaOrNil(id)
	if m == nil {
		return
	}
	m.MarkNeedsRefresh()
	select {
	case p.refreshNotify <- struct{}{}:
	default:
	}
	log.Infof("tokenpool: slot #%d marked for refresh", id)
}

// UpdateToken writes a freshly re-issued value into a slot. Silently a
// no-op for an unknown ID, matching spec.md's total-operation contract.
func (p *Pool) UpdateToken(id int, value string) {
	if m := p.metaOrNil(id); m != nil {
		m.Update(value)
		log.Infof("tokenpool: slot #%d refreshed", id)
	}
}

// GetCredential returns the credential used to reissue a slot, or false
// if the ID is unknown.
func (p *Pool) GetCredential(id int) (credential.Credential, bool) {
	m := p.metaOrNil(id)
	if m == nil {
		return credential.Credential{}, false
	}
	return m.Credential(), true
}

// GetTokensNeedingRefresh returns every slot ID currently flagged.
func (p *Pool) GetTokensNeedingRefresh() []int {
	var ids []int
	for id, m := range p.metas {
		if m.NeedsRefresh() {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetExpiredTokens returns every slot ID whose value is older than ttl.
func (p *Pool) GetExpiredTokens(ttl time.Duration) []int {
	var ids []int
	for id, m := range p.metas {
		if m.IsExpired(ttl) {
			ids = append(ids, id)
		}
	}
	return ids
}

// SlotStats exposes the per-slot use/error counters and last-used time
// for the health/diagnostics surface (see original_source/token_pool.rs
// get_token_stats).
func (p *Pool) SlotStats(id int) (useCount, errorCount uint64, lastUsedUnix int64, ok bool) {
	m := p.metaOrNil(id)
	if m == nil {
		return 0, 0, 0, false
	}
	u, e, l := m.Stats()
	return u, e, l, true
}

// RefreshNotify returns the channel the refresher selects on for the
// "explicit invalidation" wake edge.
func (p *Pool) RefreshNotify() <-chan struct{} {
	return p.refreshNotify
}

// Total returns the fixed slot count N.
func (p *Pool) Total() int { return len(p.metas) }

// InUse returns the number of slots currently checked out.
func (p *Pool) InUse() int64 { return p.inUse.Load() }

// Available returns the number of slots currently sitting in the FIFO.
func (p *Pool) Available() int { return len(p.available) }

// Waiting returns the number of callers currently blocked in Acquire.
func (p *Pool) Waiting() int64 { return p.waiting.Load() }

func (p *Pool) metaOrNil(id int) *Meta {
	if id < 0 || id >= len(p.metas) {
		return nil
	}
	return p.metas[id]
}
