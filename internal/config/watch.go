package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/nghyane/tokenproxy/internal/logging"
)

// LiveTTL is the subset of Config that is safe to hot-reload: the pool
// size is fixed for the process lifetime (spec.md §3 "never added or
// removed at runtime"), but the TTL and refresh check interval the
// refresher reads every tick can change without disturbing any slot.
type LiveTTL struct {
	mu           sync.RWMutex
	ttlSeconds   int
	checkSeconds int
}

// NewLiveTTL snapshots the initial values from a loaded Config.
func NewLiveTTL(cfg *Config) *LiveTTL {
	return &LiveTTL{
		ttlSeconds:   cfg.Token.TTLSeconds,
		checkSeconds: cfg.Token.RefreshCheckSeconds,
	}
}

func (l *LiveTTL) Get() TokenConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return TokenConfig{TTLSeconds: l.ttlSeconds, RefreshCheckSeconds: l.checkSeconds}
}

func (l *LiveTTL) set(ttlSeconds, checkSeconds int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttlSeconds = ttlSeconds
	l.checkSeconds = checkSeconds
}

// Watch starts an fsnotify watcher on path and republishes
// token.ttl-seconds/refresh-check-seconds into live whenever the file is
// rewritten. It never touches pool-size, credential, or listen addresses
// — those require a process restart, same as the teacher's config
// reload story for anything that would change established listeners.
// The returned stop func closes the watcher; Watch runs its loop in a
// background goroutine and never blocks the caller.
func Watch(path string, live *LiveTTL) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(path)
				if err != nil {
					log.WithError(err).Warn("config: reload failed, keeping previous values")
					continue
				}
				live.set(reloaded.Token.TTLSeconds, reloaded.Token.RefreshCheckSeconds)
				log.Infof("config: reloaded token.ttl-seconds=%d refresh-check-seconds=%d",
					reloaded.Token.TTLSeconds, reloaded.Token.RefreshCheckSeconds)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
