package proxyserver

import (
	"context"
	"net"
	"net/http"
	"time"

	log "github.com/nghyane/tokenproxy/internal/logging"
	"github.com/nghyane/tokenproxy/internal/tokenpool"
)

// Server wraps the raw forward-proxy listener. Unlike the health/admin
// surface, this listener cannot be a gin engine: its only job is to
// sit in front of httputil.ReverseProxy and track connection lifetime
// for slot binding, so it stays on net/http directly.
type Server struct {
	httpServer *http.Server
	registry   *connRegistry
	pool       *tokenpool.Pool
}

// New builds a Server listening on addr, forwarding every request to
// upstreamBaseURL with a token injected from pool.
func New(addr, upstreamBaseURL string, pool *tokenpool.Pool) (*Server, error) {
	handler, err := NewHandler(pool, upstreamBaseURL)
	if err != nil {
		return nil, err
	}

	registry := newConnRegistry()

	s := &Server{registry: registry, pool: pool}
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     handler,
		ConnContext: s.connContext,
		ConnState:   s.connState,
	}
	return s, nil
}

// connContext is the Go analog of ProxyHttp::new_ctx: it creates one
// connState per accepted connection and both stores it in the
// registry (for ConnState to find later) and in the request context
// (for the Director/ModifyResponse hooks to read).
func (s *Server) connContext(ctx context.Context, conn net.Conn) context.Context {
	cs := newConnState(s.pool)
	s.registry.put(conn, cs)
	return withConnState(ctx, cs)
}

// connState releases the bound slot exactly once when the connection
// leaves the pool, whether via a normal close or a hijack (spec.md
// §4.D "release on connection close exactly once").
func (s *Server) connState(conn net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}
	cs, ok := s.registry.take(conn)
	if !ok {
		return
	}
	cs.release()
}

// Run starts the listener and blocks until ctx is cancelled, at which
// point it drains in-flight requests with a bounded grace period
// before returning.
func (s *Server) Run(ctx context.Context) error {
	log.Infof("proxyserver: listening on %s", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Infof("proxyserver: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
