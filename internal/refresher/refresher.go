// Package refresher runs the background loop that keeps the token pool's
// slots alive: it re-issues a token either on a periodic TTL sweep or
// immediately when a slot is marked for refresh (spec.md §4.C).
package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/nghyane/tokenproxy/internal/config"
	"github.com/nghyane/tokenproxy/internal/credential"
	log "github.com/nghyane/tokenproxy/internal/logging"
	"github.com/nghyane/tokenproxy/internal/tokenpool"
	"golang.org/x/sync/singleflight"
)

// Acquirer refreshes a single credential into a fresh token. This is the
// subset of acquirer.Acquirer the refresher depends on, kept as an
// interface so tests can supply a fake instead of an HTTP server.
type Acquirer interface {
	Refresh(ctx context.Context, cred credential.Credential) (string, error)
}

// refreshTimeout bounds a single slot's refresh call (spec.md §4.C,
// matching the original implementation's 30-second timeout).
const refreshTimeout = 30 * time.Second

// Refresher owns the background loop. A single instance should be
// started per process; the pool and acquirer it wraps are shared with
// the rest of the service.
type Refresher struct {
	pool          *tokenpool.Pool
	acquirer      Acquirer
	ttl           time.Duration
	checkInterval time.Duration
	sf            singleflight.Group
}

// New builds a Refresher. ttl and checkInterval may be read live from a
// config.LiveTTL by the caller on each tick (see Run).
func New(pool *tokenpool.Pool, acquirer Acquirer, ttl, checkInterval time.Duration) *Refresher {
	return &Refresher{
		pool:          pool,
		acquirer:      acquirer,
		ttl:           ttl,
		checkInterval: checkInterval,
	}
}

// Run blocks until ctx is cancelled, alternating between a periodic TTL
// sweep and immediate wake-ups from the pool's refresh-notify channel
// (spec.md §4.C). live, if non-nil, is consulted on every ticker firing
// so a config reload changes TTL/cadence without a process restart.
func (r *Refresher) Run(ctx context.Context, live *config.LiveTTL) {
	log.Infof("refresher: starting (ttl=%s, check_interval=%s)", r.ttl, r.checkInterval)

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	notify := r.pool.RefreshNotify()

	for {
		select {
		case <-ctx.Done():
			log.Infof("refresher: stopping")
			return
		case <-ticker.C:
			ttl := r.ttl
			if live != nil {
				cur := live.Get()
				ttl = cur.TTL()
				if next := cur.CheckInterval(); next != r.checkInterval {
					r.checkInterval = next
					ticker.Reset(next)
				}
			}
			r.refreshExpired(ctx, ttl)
		case <-notify:
			r.refreshMarked(ctx)
		}
	}
}

func (r *Refresher) refreshExpired(ctx context.Context, ttl time.Duration) {
	expired := r.pool.GetExpiredTokens(ttl)
	if len(expired) == 0 {
		return
	}
	log.Infof("refresher: %d token(s) past TTL, refreshing", len(expired))
	for _, id := range expired {
		r.refreshSlot(ctx, id)
	}
}

func (r *Refresher) refreshMarked(ctx context.Context) {
	marked := r.pool.GetTokensNeedingRefresh()
	if len(marked) == 0 {
		return
	}
	log.Infof("refresher: %d token(s) marked for refresh", len(marked))
	for _, id := range marked {
		r.refreshSlot(ctx, id)
	}
}

// refreshSlot refreshes one slot, deduplicating concurrent refresh
// attempts for the same slot ID through singleflight: a slot can be
// marked needs-refresh by a failing request at the same moment the
// periodic sweep picks it up as expired, and both paths must not issue
// two competing logins for one slot.
func (r *Refresher) refreshSlot(ctx context.Context, id int) {
	key := fmt.Sprintf("slot-%d", id)

	_, err, shared := r.sf.Do(key, func() (any, error) {
		cred, ok := r.pool.GetCredential(id)
		if !ok {
			return nil, fmt.Errorf("no credential registered for slot #%d", id)
		}

		refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()

		token, err := r.acquirer.Refresh(refreshCtx, cred)
		if err != nil {
			return nil, err
		}
		r.pool.UpdateToken(id, token)
		return token, nil
	})

	if err != nil {
		log.WithError(err).Errorf("refresher: failed to refresh slot #%d", id)
		r.pool.MarkError(id)
		return
	}
	if shared {
		log.Debugf("refresher: slot #%d refresh deduplicated with an in-flight call", id)
		return
	}
	log.Infof("refresher: slot #%d refreshed successfully", id)
}
