// Package server implements the public mockupdb server contract of
// spec.md §4.F: a scriptable stand-in for mongod/mongos that accepts wire
// connections, dispatches requests through an autoresponder table, and
// exposes a request queue tests can assert against.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mockupdb/mockupdb/internal/matcher"
	"github.com/mockupdb/mockupdb/internal/mockerr"
	"github.com/mockupdb/mockupdb/internal/message"
	"github.com/mockupdb/mockupdb/internal/queue"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultRequestTimeout = 10 * time.Second

type responder struct {
	matcher *matcher.Matcher
	docs    []bson.D
	fn      func(*message.Request) bool
	cancel  func()
}

// Server is a mock mongod/mongos. Construct with New and opts, then call
// Run to start accepting connections.
type Server struct {
	port           int
	udsPath        string
	tlsConfig      *tls.Config
	verbose        bool
	replicaSetName string
	requestTimeout time.Duration
	replyTimeout   time.Duration
	autoIsMaster   any
	minWireVersion int32
	maxWireVersion int32

	log *zap.Logger

	mu                sync.Mutex
	listener          net.Listener
	boundPort         int
	stopped           bool
	conns             map[uuid.UUID]*conn
	autoresponders    []*responder
	subscribers       []func(*message.Request)
	pending           map[int32]chan struct{}
	lastTimeout       error
	lastResponderErr  error

	requestCount int64

	group  *errgroup.Group
	cancel context.CancelFunc
	q      *queue.Queue
}

// New builds a Server configured by opts. Call Run to start it.
func New(opts ...Option) *Server {
	s := &Server{
		requestTimeout: defaultRequestTimeout,
		maxWireVersion: 21,
		conns:          make(map[uuid.UUID]*conn),
		pending:        make(map[int32]chan struct{}),
		q:              queue.New(),
		log:            zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			s.log = l
		}
	}
	if s.autoIsMaster != nil {
		s.registerAutoIsMaster()
	}
	return s
}

// Run binds the configured listener and starts the accept loop. If port is
// unspecified, an ephemeral port is bound.
func (s *Server) Run() error {
	var ln net.Listener
	var err error

	if s.udsPath != "" {
		ln, err = net.Listen("unix", s.udsPath)
	} else {
		addr := fmt.Sprintf(":%d", s.port)
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("mockupdb: listen: %w", err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	s.mu.Lock()
	s.listener = ln
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.boundPort = tcpAddr.Port
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	s.group = group

	group.Go(func() error {
		return s.acceptLoop(ctx, ln)
	})

	s.log.Info("mockupdb listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isStopped() {
				return nil
			}
			return err
		}

		c := &conn{id: uuid.New(), nc: nc, srv: s}
		s.mu.Lock()
		s.conns[c.id] = c
		s.mu.Unlock()

		s.group.Go(func() error {
			defer func() {
				s.mu.Lock()
				delete(s.conns, c.id)
				s.mu.Unlock()
			}()
			c.serve(ctx)
			return nil
		})
	}
}

// Stop closes the listener and every live connection, then waits (up to 10s)
// for the accept loop and connection workers to exit. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan error, 1)
	go func() {
		if s.group != nil {
			done <- s.group.Wait()
		} else {
			done <- nil
		}
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("mockupdb: stop timed out waiting for workers")
	}
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// RequestCount returns the number of requests dispatched since Run, per
// spec.md §4.E's "increment the server request counter" step.
func (s *Server) RequestCount() int64 {
	return atomic.LoadInt64(&s.requestCount)
}

// Port returns the bound port, or 0 if bound to a Unix-domain socket.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort
}

// URI composes the mongodb:// connection string for this server, per
// spec.md §4.F/§6.
func (s *Server) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.udsPath != "" {
		return fmt.Sprintf("mongodb://%s", strings.ReplaceAll(s.udsPath, "/", "%2F"))
	}

	uri := fmt.Sprintf("mongodb://localhost:%d", s.boundPort)
	var params []string
	if s.replicaSetName != "" {
		params = append(params, "replicaSet="+s.replicaSetName)
	}
	if s.tlsConfig != nil {
		params = append(params, "ssl=true")
	}
	if len(params) > 0 {
		uri += "/?" + strings.Join(params, "&")
	}
	return uri
}

// Subscribe installs fn to be invoked with every incoming request before
// autoresponder dispatch. Returns a function that removes it.
func (s *Server) Subscribe(fn func(*message.Request)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
	idx := len(s.subscribers) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers[idx] = nil
	}
}

// Autoresponds registers a responder for requests matching requestSpec.
// requestSpec and replySpec follow the polymorphism of
// message.ResolveRequestSpec/ResolveReplySpec; replySpec's first element
// may instead be a func(*message.Request) bool callable, invoked directly
// rather than used as a literal reply.
//
// Immediately after registration, if the queue's current head matches and
// the new responder handles it, it is dequeued and answered here — closing
// the race spec.md §4.F calls out between a request arriving and a test
// registering its responder.
func (s *Server) Autoresponds(requestSpec any, replySpec ...any) (func(), error) {
	if err := s.takeResponderError(); err != nil {
		return nil, err
	}

	proto, err := toRequestSpec(requestSpec)
	if err != nil {
		return nil, err
	}

	r := &responder{matcher: matcher.New(proto)}
	if len(replySpec) == 1 {
		if fn, ok := replySpec[0].(func(*message.Request) bool); ok {
			r.fn = fn
		}
	}
	if r.fn == nil {
		docs, err := message.ResolveReplySpec(replySpec...)
		if err != nil {
			return nil, err
		}
		r.docs = docs
	}

	s.mu.Lock()
	s.autoresponders = append(s.autoresponders, r)
	cancelled := false
	r.cancel = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		for i, ar := range s.autoresponders {
			if ar == r {
				s.autoresponders = append(s.autoresponders[:i], s.autoresponders[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if head, err := s.q.Peek(immediateCtx()); err == nil && r.matcher.Matches(head) {
		if r.fn != nil {
			if r.fn(head) {
				s.q.Get(immediateCtx())
			}
		} else if _, err := s.q.Get(immediateCtx()); err == nil {
			s.answer(r, head)
		}
	}

	return r.cancel, nil
}

func toRequestSpec(spec any) (*message.Request, error) {
	if spec == nil {
		return message.ResolveRequestSpec()
	}
	return message.ResolveRequestSpec(spec)
}

// Receives pops the next queued request, blocking up to timeout (or the
// server's default request timeout if timeout is zero). Returns
// UnexpectedRequestError if spec is non-nil and doesn't match, TimeoutError
// on deadline, or nil/ErrServerStopped if the server stopped while waiting.
func (s *Server) Receives(timeout time.Duration, spec ...any) (*message.Request, error) {
	if err := s.takeResponderError(); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = s.requestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := s.q.Get(ctx)
	if err != nil {
		if s.isStopped() {
			return nil, nil
		}
		return nil, &mockerr.TimeoutError{Description: "receives()"}
	}

	if len(spec) > 0 {
		proto, perr := message.ResolveRequestSpec(spec...)
		if perr != nil {
			return nil, perr
		}
		if !matcher.New(proto).Matches(req) {
			return nil, &mockerr.UnexpectedRequestError{Prototype: proto, Actual: req}
		}
	}
	return req, nil
}

// Got peeks the queue head, returning whether it matches spec. It does not
// remove the request.
func (s *Server) Got(spec ...any) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	head, err := s.q.Peek(ctx)
	if err != nil {
		return false
	}
	if len(spec) == 0 {
		return true
	}
	proto, perr := message.ResolveRequestSpec(spec...)
	if perr != nil {
		return false
	}
	return matcher.New(proto).Matches(head)
}

// Replies pops the head request and replies to it with the given spec.
func (s *Server) Replies(specs ...any) error {
	req, err := s.Receives(0)
	if err != nil {
		return err
	}
	if req == nil {
		return mockerr.ErrServerStopped
	}
	return req.Reply(specs...)
}

// Ok is Replies(true).
func (s *Server) Ok() error { return s.Replies(true) }

// Fail pops the head request and fails it.
func (s *Server) Fail(errSpec any, extra ...bson.D) error {
	req, err := s.Receives(0)
	if err != nil {
		return err
	}
	if req == nil {
		return mockerr.ErrServerStopped
	}
	return req.Fail(errSpec, extra...)
}

// CommandErr pops the head request and sends a command-error reply.
func (s *Server) CommandErr(code int32, errmsg string) error {
	req, err := s.Receives(0)
	if err != nil {
		return err
	}
	if req == nil {
		return mockerr.ErrServerStopped
	}
	return req.CommandErr(code, errmsg)
}

// Hangup pops the head request and closes its connection.
func (s *Server) Hangup() error {
	req, err := s.Receives(0)
	if err != nil {
		return err
	}
	if req == nil {
		return mockerr.ErrServerStopped
	}
	return req.Hangup()
}

// Iterate calls fn with every request popped by Receives until fn returns
// false or the server stops, implementing spec.md §4.F's "yields
// receives() forever until stop". Errors other than a stopped server
// (timeouts, unexpected requests under a spec-less Receives can't occur
// here) abort the loop and are returned.
func (s *Server) Iterate(fn func(*message.Request) bool) error {
	for {
		req, err := s.Receives(0)
		if err != nil {
			return err
		}
		if req == nil {
			return nil
		}
		if !fn(req) {
			return nil
		}
	}
}

// LastReplyTimeout returns the most recent reply_timeout violation
// observed, or nil. It is cleared by reading it.
func (s *Server) LastReplyTimeout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastTimeout
	s.lastTimeout = nil
	return err
}

// dispatch runs the autoresponder table LIFO over req, per spec.md §4.E,
// falling through to the shared queue if nothing handles it.
func (s *Server) dispatch(req *message.Request) {
	atomic.AddInt64(&s.requestCount, 1)

	if s.dispatchToAutoresponder(req) {
		return
	}
	s.enqueue(req)
}

// dispatchToAutoresponder runs the subscriber and autoresponder table under
// s.mu, reporting whether some responder claimed req. The lock is released
// via defer so a panicking responder callable (recovered higher up in
// conn.runDispatch) cannot leave the server permanently locked.
func (s *Server) dispatchToAutoresponder(req *message.Request) (handled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscribers {
		if sub != nil {
			sub(req)
		}
	}

	for i := len(s.autoresponders) - 1; i >= 0; i-- {
		r := s.autoresponders[i]
		if !r.matcher.Matches(req) {
			continue
		}
		if r.fn != nil {
			if r.fn(req) {
				return true
			}
			continue
		}
		s.answer(r, req)
		return true
	}
	return false
}

// answer sends a literal-reply responder's reply. dispatchToAutoresponder
// calls it with s.mu held; Autoresponds calls it after releasing s.mu.
func (s *Server) answer(r *responder, req *message.Request) {
	if err := req.Reply(docsToArgs(r.docs)...); err != nil {
		s.log.Error("autoresponder reply failed", zap.Error(err))
	}
}

func docsToArgs(docs []bson.D) []any {
	args := make([]any, len(docs))
	for i, d := range docs {
		args[i] = d
	}
	return args
}

func (s *Server) enqueue(req *message.Request) {
	s.q.Put(req)
	if s.replyTimeout <= 0 {
		return
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.pending[req.RequestID] = done
	s.mu.Unlock()

	go func() {
		timer := time.NewTimer(s.replyTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			s.mu.Lock()
			delete(s.pending, req.RequestID)
			s.lastTimeout = &mockerr.TimeoutError{Description: fmt.Sprintf("reply to request %d", req.RequestID)}
			s.mu.Unlock()
			s.log.Error("reply_timeout exceeded", zap.Int32("requestID", req.RequestID))
		}
	}()
}

// noteReplied signals that responseTo has been answered, satisfying any
// pending reply_timeout watcher started by enqueue.
func (s *Server) noteReplied(responseTo int32) {
	s.mu.Lock()
	done, ok := s.pending[responseTo]
	if ok {
		delete(s.pending, responseTo)
	}
	s.mu.Unlock()
	if ok {
		close(done)
	}
}

// noteResponderError records a panic recovered from a responder running on
// connID, surfaced to the test from the next Receives/Autoresponds call
// instead of being silently swallowed, per spec.md §7. Only the most recent
// error is kept, and Got does not report it.
func (s *Server) noteResponderError(connID uuid.UUID, err *mockerr.UserResponderError) {
	s.mu.Lock()
	s.lastResponderErr = err
	s.mu.Unlock()
	s.log.Error("panic in responder", zap.Error(err), zap.Stringer("conn", connID))
}

// takeResponderError returns and clears any pending responder error.
func (s *Server) takeResponderError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastResponderErr
	s.lastResponderErr = nil
	return err
}

// LogRequest implements message.Logger.
func (s *Server) LogRequest(r *message.Request) {
	if s.verbose {
		s.log.Info("received", zap.Stringer("request", stringerFunc(r.String)))
	}
}

// LogReply implements message.Logger.
func (s *Server) LogReply(r *message.Request, docs []bson.D) {
	if s.verbose {
		s.log.Info("replied", zap.Int32("responseTo", r.RequestID), zap.Int("docs", len(docs)))
	}
}

type stringerFunc func() string

func (f stringerFunc) String() string { return f() }

// immediateCtx returns a context for a non-blocking queue check: long
// enough to observe an already-queued head, short enough not to stall
// Autoresponds when the queue is empty. The timer frees itself on fire.
func immediateCtx() context.Context {
	ctx, _ := context.WithTimeout(context.Background(), time.Millisecond)
	return ctx
}
