// Package transport provides shared HTTP transport configuration for the
// token pool proxy. It exists as its own package, as in the teacher, so
// both the acquirer (login/refresh calls) and the forwarding path in
// internal/proxyserver can import the same settings without a cycle
// between them and internal/resilience.
package transport

import "time"

// Config holds the HTTP transport settings shared by every outbound
// client the proxy builds: the acquirer's login client and the shared
// transport used to forward proxied requests to the upstream.
//
// This is the single source of truth for transport configuration.
var Config = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	// HTTP/2 specific settings
	H2ReadIdleTimeout            time.Duration
	H2PingTimeout                time.Duration
	H2StrictMaxConcurrentStreams bool
	H2AllowHTTP                  bool
}{
	// Connection pool settings. Every outbound dial this proxy ever makes
	// lands on the one configured upstream host, so there is no fleet of
	// hosts to spread a larger global pool across: the per-host cap is
	// the only cap that matters, and the global cap is set equal to it
	// rather than inherited from a multi-host gateway's sizing.
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 100,
	MaxConnsPerHost:     0, // 0 = no limit, let HTTP/2 multiplex

	// Timeout settings. ResponseHeaderTimeout is deliberately generous:
	// the upstream data service can take a while to answer large queries
	// and the proxy must not time out ahead of it (spec.md §7: transient
	// upstream errors are passed through, never synthesized). It is not
	// the multi-minute ceiling a long-lived LLM completion stream would
	// need, since this proxy forwards plain request/response calls, not
	// streamed generations.
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 120 * time.Second,
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,

	// HTTP/2 settings. Kept at the teacher's generic values: they guard
	// against a silently wedged multiplexed connection to the one
	// upstream host, a concern that doesn't change with the number of
	// hosts behind the transport.
	H2ReadIdleTimeout:            30 * time.Second,
	H2PingTimeout:                15 * time.Second,
	H2StrictMaxConcurrentStreams: false,
	H2AllowHTTP:                  false,
}
