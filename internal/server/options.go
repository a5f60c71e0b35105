package server

import (
	"crypto/tls"
	"time"
)

// Option configures a Server at construction time, the functional-options
// substitute for the source's constructor keyword arguments (spec.md §4.F's
// configuration table).
type Option func(*Server)

// WithPort binds the listener to port. Unset or zero binds an ephemeral
// port, matching spec.md §4.F.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithUDSPath binds a Unix-domain socket at path instead of TCP. The
// reported port is 0.
func WithUDSPath(path string) Option {
	return func(s *Server) { s.udsPath = path }
}

// WithTLSConfig wraps every accepted socket in TLS using cfg. Certificate
// material is supplied by the caller — out of scope per spec.md §1.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithVerbose enables per-request/reply logging.
func WithVerbose(v bool) Option {
	return func(s *Server) { s.verbose = v }
}

// WithReplicaSetName includes name in the server's reported URI.
func WithReplicaSetName(name string) Option {
	return func(s *Server) { s.replicaSetName = name }
}

// WithRequestTimeout sets the default timeout for Receives/Got.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithReplyTimeout bounds how long a queued request may sit unanswered.
// When the bound is exceeded the server logs the violation and records a
// TimeoutError that LastReplyTimeout returns; no other call reports it and
// the test is not failed automatically.
func WithReplyTimeout(d time.Duration) Option {
	return func(s *Server) { s.replyTimeout = d }
}

// WithAutoIsMaster installs the built-in isMaster/hello autoresponder.
// Passing true replies with a default handshake document (ismaster: true,
// size limits, the wire version range, ok: 1); passing a bson.D uses it as
// the reply body.
func WithAutoIsMaster(v any) Option {
	return func(s *Server) { s.autoIsMaster = v }
}

// WithWireVersionRange patches minWireVersion/maxWireVersion into the
// built-in isMaster reply.
func WithWireVersionRange(min, max int32) Option {
	return func(s *Server) { s.minWireVersion, s.maxWireVersion = min, max }
}
