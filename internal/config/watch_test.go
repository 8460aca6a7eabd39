package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path string, ttlSeconds, checkSeconds int) {
	t.Helper()
	body := `
listen-addr: ":8080"
upstream:
  host: 127.0.0.1
  port: 8848
credential:
  username: u
  password: p
token:
  pool-size: 2
  ttl-seconds: ` + itoa(ttlSeconds) + `
  refresh-check-seconds: ` + itoa(checkSeconds) + `
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func TestWatch_ReloadsTTLOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, 100, 10)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	live := NewLiveTTL(cfg)

	stop, err := Watch(path, live)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer stop()

	writeConfig(t, path, 200, 20)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tc := live.Get(); tc.TTLSeconds == 200 && tc.RefreshCheckSeconds == 20 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("live TTL never picked up the rewritten file, last seen %+v", live.Get())
}

func TestWatch_InvalidPathReturnsError(t *testing.T) {
	live := NewLiveTTL(Default())
	_, err := Watch(filepath.Join(t.TempDir(), "does-not-exist.yaml"), live)
	if err == nil {
		t.Fatal("expected Watch to fail adding a nonexistent path")
	}
}

func TestLiveTTL_GetReturnsSnapshotUnderConcurrentSet(t *testing.T) {
	live := NewLiveTTL(Default())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			live.set(i, i)
		}
	}()
	for i := 0; i < 100; i++ {
		_ = live.Get()
	}
	<-done
}
