package tokenpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nghyane/tokenproxy/internal/credential"
)

// Meta is the per-slot mutable record described in spec.md §3: a bearer
// value, the instant it was issued, the credential used to reissue it,
// and a handful of advisory counters. value/acquiredAt are guarded by a
// short-held mutex so a reader never observes a torn string; counters and
// the refresh flag use relaxed atomics since they are advisory only.
type Meta struct {
	mu         sync.RWMutex
	value      string
	acquiredAt time.Time

	credential credential.Credential

	useCount     atomic.Uint64
	errorCount   atomic.Uint64
	lastUsedUnix atomic.Int64
	needsRefresh atomic.Bool
}

func newMeta(value string, cred credential.Credential) *Meta {
	return &Meta{
		value:      value,
		acquiredAt: time.Now(),
		credential: cred,
	}
}

// Value returns the current token value without tearing a concurrent update.
func (m *Meta) Value() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value
}

// Credential returns the credential used to reissue this slot.
func (m *Meta) Credential() credential.Credential {
	return m.credential
}

// IsExpired reports whether the value is older than ttl.
func (m *Meta) IsExpired(ttl time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.acquiredAt) > ttl
}

// NeedsRefresh reports whether the slot was marked for refresh (typically
// after a 401 from the upstream) and has not yet been re-issued.
func (m *Meta) NeedsRefresh() bool {
	return m.needsRefresh.Load()
}

// MarkNeedsRefresh sets the refresh flag. Cleared only by Update.
func (m *Meta) MarkNeedsRefresh() {
	m.needsRefresh.Store(true)
}

// Update atomically replaces the value, resets acquiredAt, and clears
// needsRefresh. This is the only way the flag is cleared, and it is
// cleared only after a successful re-issue (spec.md invariant 5).
func (m *Meta) Update(newValue string) {
	m.mu.Lock()
	m.value = newValue
	m.acquiredAt = time.Now()
	m.mu.Unlock()
	m.needsRefresh.Store(false)
}

// RecordUse increments the use counter and stamps lastUsed. Called once
// per successful checkout, not once per proxied request.
func (m *Meta) RecordUse() {
	m.useCount.Add(1)
	m.lastUsedUnix.Store(time.Now().Unix())
}

// RecordError increments the error counter. Called on any upstream
// response status >= 400 observed through a slot bound to this meta.
func (m *Meta) RecordError() {
	m.errorCount.Add(1)
}

// Stats returns (useCount, errorCount, lastUsedUnix) for diagnostics.
func (m *Meta) Stats() (uint64, uint64, int64) {
	return m.useCount.Load(), m.errorCount.Load(), m.lastUsedUnix.Load()
}
