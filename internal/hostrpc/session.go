// Package hostrpc exposes projects and entrypoint subscriptions to a host
// process over JSON-RPC 2.0, framed on stdio or carried over a websocket.
package hostrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fortio.org/safecast"
	"github.com/google/uuid"

	"routekit/internal/engine"
	"routekit/internal/metrics"
	"routekit/internal/project"
	"routekit/internal/routes"
	"routekit/internal/subscribe"
	"routekit/internal/trace"
	"routekit/internal/watch"
	"routekit/internal/wire"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("hostrpc exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("hostrpc exit without shutdown")
)

// Method names.
const (
	MethodProjectOpen        = "project/open"
	MethodProjectClose       = "project/close"
	MethodSubscribe          = "entrypoints/subscribe"
	MethodUpdate             = "entrypoints/update"
	MethodCancel             = "subscription/cancel"
	MethodResolveEndpoint    = "endpoint/resolve"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	methodLabelUnknownMethod = "unknown"
)

// Sender writes one outgoing message. It must be safe for concurrent use.
type Sender func(msg any) error

// SessionOptions configure the projects a session opens.
type SessionOptions struct {
	Logger *slog.Logger
	Watch  watch.Options
	// Tracer receives request and subscription spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Session is the state of one host connection: the projects it opened and
// the subscriptions it holds. Requests are handled one at a time; update
// notifications are sent from subscription goroutines.
type Session struct {
	log  *slog.Logger
	opts SessionOptions
	send Sender

	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.Mutex
	projects          map[string]*project.Project
	subs              map[string]*subEntry
	shutdownRequested bool
}

type subEntry struct {
	ref     string
	project string
	sub     *subscribe.Subscription[wire.Entrypoints]

	mu     sync.Mutex
	pinned func()
}

// NewSession creates a session that replies through send.
func NewSession(send Sender, opts SessionOptions) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	base := context.Background()
	if opts.Tracer != nil {
		base = trace.WithTracer(base, opts.Tracer)
	}
	ctx, cancel := context.WithCancel(base)
	return &Session{
		log:      log,
		opts:     opts,
		send:     send,
		ctx:      ctx,
		cancel:   cancel,
		projects: make(map[string]*project.Project),
		subs:     make(map[string]*subEntry),
	}
}

// Handle processes one incoming message. It returns ErrExit or
// ErrExitWithoutShutdown on "exit" and transport errors from sending.
func (s *Session) Handle(msg *Message) error {
	if msg.Method == "" {
		return nil
	}
	if msg.Method == MethodExit {
		s.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.shutdownRequested {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	}

	span, _ := trace.Start(s.ctx, trace.ScopeSession, msg.Method)
	result, err := s.dispatch(msg)
	var rpcErr *Error
	if err != nil && !errors.As(err, &rpcErr) {
		rpcErr = &Error{Code: CodeInternal, Message: err.Error()}
	}
	label, outcome := msg.Method, "ok"
	if rpcErr != nil {
		outcome = "error"
		if rpcErr.Code == CodeMethodNotFound {
			label = methodLabelUnknownMethod
		}
	}
	metrics.RPCRequests.WithLabelValues(label, outcome).Inc()
	span.End(outcome)

	switch {
	case len(msg.ID) == 0:
		if rpcErr != nil {
			s.log.Warn("notification failed", "method", msg.Method, "err", rpcErr)
		}
	case rpcErr != nil:
		return s.sendError(msg.ID, rpcErr)
	default:
		if err := s.sendResult(msg.ID, result); err != nil {
			return err
		}
	}
	if r, ok := result.(subscribeResult); ok && rpcErr == nil {
		s.startUpdates(r.Subscription)
	}
	return nil
}

func (s *Session) dispatch(msg *Message) (any, error) {
	s.mu.Lock()
	down := s.shutdownRequested
	s.mu.Unlock()
	if down {
		return nil, &Error{Code: CodeShutdown, Message: "session is shutting down"}
	}

	switch msg.Method {
	case MethodProjectOpen:
		var params openParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, err
		}
		return s.openProject(params)
	case MethodProjectClose:
		var params projectParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, err
		}
		return nil, s.closeProject(params.Project)
	case MethodSubscribe:
		var params projectParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, err
		}
		return s.subscribe(params.Project)
	case MethodCancel:
		var params subscriptionParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, err
		}
		return nil, s.cancelSubscription(params.Subscription)
	case MethodResolveEndpoint:
		var params resolveParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, err
		}
		return s.resolveEndpoint(params)
	case MethodShutdown:
		s.teardown()
		s.mu.Lock()
		s.shutdownRequested = true
		s.mu.Unlock()
		return nil, nil
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found"}
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return &Error{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

func (s *Session) openProject(params openParams) (openResult, error) {
	blob, err := nextConfigBlob(params.NextConfig)
	if err != nil {
		return openResult{}, &Error{Code: CodeInvalidParams, Message: "invalid nextConfig: " + err.Error()}
	}
	limit, err := memoryLimit(params.MemoryLimit)
	if err != nil {
		return openResult{}, initializationError(err)
	}
	p, err := project.Open(project.Config{
		RootPath:    params.RootPath,
		ProjectPath: params.ProjectPath,
		Watch:       params.Watch,
		NextConfig:  blob,
		MemoryLimit: limit,
	}, project.Options{Logger: s.log, Watch: s.opts.Watch})
	if err != nil {
		return openResult{}, initializationError(err)
	}

	ref := uuid.NewString()
	s.mu.Lock()
	s.projects[ref] = p
	s.mu.Unlock()
	s.log.Info("project opened", "ref", ref, "path", p.Path())
	return openResult{Project: ref}, nil
}

// memoryLimit converts the host's ceiling. Absent stays nil; a present
// ceiling must be positive.
func memoryLimit(v *int64) (*uint64, error) {
	if v == nil {
		return nil, nil
	}
	if *v <= 0 {
		return nil, &project.InitializationError{Field: "memoryLimit", Reason: "must be positive"}
	}
	limit, err := safecast.Conv[uint64](*v)
	if err != nil {
		return nil, &project.InitializationError{Field: "memoryLimit", Reason: err.Error()}
	}
	return &limit, nil
}

// initializationError maps an InitializationError to its JSON-RPC form and
// passes other errors through.
func initializationError(err error) error {
	var initErr *project.InitializationError
	if !errors.As(err, &initErr) {
		return err
	}
	return &Error{
		Code:    CodeInitialization,
		Message: initErr.Error(),
		Data:    initializationData{Field: initErr.Field, Reason: initErr.Reason},
	}
}

func (s *Session) project(ref string) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[ref]
	if !ok {
		return nil, &Error{Code: CodeUnknownProject, Message: fmt.Sprintf("unknown project %q", ref)}
	}
	return p, nil
}

func (s *Session) closeProject(ref string) error {
	s.mu.Lock()
	p, ok := s.projects[ref]
	if !ok {
		s.mu.Unlock()
		return &Error{Code: CodeUnknownProject, Message: fmt.Sprintf("unknown project %q", ref)}
	}
	delete(s.projects, ref)
	var owned []*subEntry
	for id, e := range s.subs {
		if e.project == ref {
			owned = append(owned, e)
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()

	for _, e := range owned {
		e.stop()
	}
	return p.Close()
}

func (s *Session) subscribe(projectRef string) (subscribeResult, error) {
	p, err := s.project(projectRef)
	if err != nil {
		return subscribeResult{}, err
	}
	e := &subEntry{ref: uuid.NewString(), project: projectRef}
	sub, err := subscribe.EntrypointsWith(s.ctx, p, e.pin(subscribe.EntrypointsTransform(p.Engine().Registry())), subscribe.Options{
		Name:   e.ref,
		Logger: s.log,
	})
	if err != nil {
		return subscribeResult{}, err
	}
	e.sub = sub
	s.mu.Lock()
	s.subs[e.ref] = e
	s.mu.Unlock()
	return subscribeResult{Subscription: e.ref}, nil
}

// pin keeps the references of the latest payload until the host cancels,
// so ids stay resolvable after a one-shot subscription has terminated.
func (e *subEntry) pin(inner subscribe.Transform[*routes.Entrypoints, wire.Entrypoints]) subscribe.Transform[*routes.Entrypoints, wire.Entrypoints] {
	return func(st engine.Settled[*routes.Entrypoints]) (wire.Entrypoints, func(), error) {
		payload, release, err := inner(st)
		if err != nil {
			return payload, release, err
		}
		e.mu.Lock()
		prev := e.pinned
		e.pinned = release
		e.mu.Unlock()
		if prev != nil {
			prev()
		}
		return payload, nil, nil
	}
}

func (e *subEntry) unpin() {
	e.mu.Lock()
	release := e.pinned
	e.pinned = nil
	e.mu.Unlock()
	if release != nil {
		release()
	}
}

// stop cancels the subscription, waits for it to wind down and drops the
// pinned references.
func (e *subEntry) stop() {
	e.sub.Cancel()
	e.sub.Wait()
	e.unpin()
}

func (s *Session) cancelSubscription(ref string) error {
	s.mu.Lock()
	e, ok := s.subs[ref]
	delete(s.subs, ref)
	s.mu.Unlock()
	if !ok {
		return &Error{Code: CodeUnknownSubscription, Message: fmt.Sprintf("unknown subscription %q", ref)}
	}
	e.stop()
	return nil
}

func (s *Session) resolveEndpoint(params resolveParams) (routes.Descriptor, error) {
	p, err := s.project(params.Project)
	if err != nil {
		return routes.Descriptor{}, err
	}
	d, err := p.ResolveEndpoint(s.ctx, params.Endpoint)
	if errors.Is(err, project.ErrUnknownEndpoint) {
		return routes.Descriptor{}, &Error{Code: CodeUnknownEndpoint, Message: err.Error()}
	}
	return d, err
}

// startUpdates begins forwarding updates of a freshly subscribed entry. It
// runs after the subscribe response was sent so the host sees the
// subscription id before its first update; until then the subscription
// blocks on its first delivery.
func (s *Session) startUpdates(ref string) {
	s.mu.Lock()
	e, ok := s.subs[ref]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.sub.OnUpdate(func(u subscribe.Update[wire.Entrypoints]) {
		err := s.notify(MethodUpdate, UpdateParams{Subscription: ref, Update: subscribe.WireUpdate(u)})
		if err != nil {
			s.log.Warn("failed to send update", "subscription", ref, "err", err)
		}
	})
}

// teardown cancels every subscription and closes every project.
func (s *Session) teardown() {
	s.mu.Lock()
	subs := s.subs
	projects := s.projects
	s.subs = make(map[string]*subEntry)
	s.projects = make(map[string]*project.Project)
	s.mu.Unlock()

	for _, e := range subs {
		e.stop()
	}
	for ref, p := range projects {
		if err := p.Close(); err != nil {
			s.log.Warn("failed to close project", "ref", ref, "err", err)
		}
	}
}

// Close releases everything the session holds. Safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	s.teardown()
}

func (s *Session) sendResult(id json.RawMessage, result any) error {
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func (s *Session) sendError(id json.RawMessage, rpcErr *Error) error {
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   rpcErr,
	})
}

func (s *Session) notify(method string, params any) error {
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}
