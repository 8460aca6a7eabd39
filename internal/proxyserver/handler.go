package proxyserver

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	log "github.com/nghyane/tokenproxy/internal/logging"
	"github.com/nghyane/tokenproxy/internal/resilience"
	"github.com/nghyane/tokenproxy/internal/tokenpool"
)

// Handler is the Go analog of the original's TokenPoolProxy: one
// http.Handler that forwards every request to a single fixed upstream,
// injecting the Authorization header from whichever slot is bound to
// the request's connection (spec.md §4.D).
type Handler struct {
	pool     *tokenpool.Pool
	upstream *url.URL
	proxy    *httputil.ReverseProxy
}

// NewHandler builds a Handler that forwards to upstreamBaseURL (e.g.
// "http://127.0.0.1:8848" or "https://127.0.0.1:8848").
func NewHandler(pool *tokenpool.Pool, upstreamBaseURL string) (*Handler, error) {
	upstream, err := url.Parse(upstreamBaseURL)
	if err != nil {
		return nil, err
	}

	h := &Handler{pool: pool, upstream: upstream}

	h.proxy = &httputil.ReverseProxy{
		Transport:      resilience.SharedTransport(),
		Director:       h.director,
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.errorHandler,
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}

// director binds (or reuses) the connection's slot and rewrites the
// request onto the fixed upstream with a fresh Authorization header —
// the Go equivalent of upstream_peer + upstream_request_filter.
func (h *Handler) director(r *http.Request) {
	r.URL.Scheme = h.upstream.Scheme
	r.URL.Host = h.upstream.Host
	r.Host = h.upstream.Host

	cs, ok := connStateFromContext(r.Context())
	if !ok {
		log.Errorf("proxyserver: request arrived with no bound connection state")
		return
	}

	slot, err := cs.bind(r.Context())
	if err != nil {
		log.WithError(err).Warnf("proxyserver: failed to acquire a pool slot")
		return
	}

	r.Header.Set("Authorization", "Bearer "+slot.Value)
	log.Debugf("proxyserver: conn=%s slot=#%d request=%d %s %s", cs.id, slot.ID, cs.requests, r.Method, r.URL.Path)
}

// modifyResponse observes the upstream's status and marks the bound
// slot immediately if it indicates an error, matching the original's
// "check if this was an error response" step at the point it happens
// rather than deferring it to connection teardown.
func (h *Handler) modifyResponse(resp *http.Response) error {
	if cs, ok := connStateFromContext(resp.Request.Context()); ok {
		cs.recordStatus(resp.StatusCode)
	}
	return nil
}

// errorHandler runs when the round trip itself fails (dial error,
// timeout, upstream reset) rather than returning a response. The
// connection's slot is still marked errored; a synthesized response is
// returned to the client verbatim, never papered over (spec.md §4.D,
// §9 Non-goals: "no retry of proxied requests with a different token").
func (h *Handler) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	log.WithError(err).Warnf("proxyserver: upstream round trip failed")
	if cs, ok := connStateFromContext(r.Context()); ok {
		cs.recordStatus(http.StatusBadGateway)
	}
	w.WriteHeader(http.StatusBadGateway)
}
