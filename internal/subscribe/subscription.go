// Package subscribe delivers strongly consistent query results to a host as
// an ordered stream of updates, re-evaluating on invalidation until
// cancelled.
package subscribe

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"routekit/internal/engine"
	"routekit/internal/metrics"
	"routekit/internal/observ"
	"routekit/internal/trace"
)

// Source is the query a subscription follows.
type Source[T any] interface {
	Evaluate(ctx context.Context) (T, error)
	StronglyConsistent(ctx context.Context) (engine.Settled[T], error)
	OnInvalidate(fn func()) (cancel func())
}

// Transform turns a settled value into a host payload. The returned release
// func frees resources the payload references; it runs once the payload is
// superseded by a newer delivery or the subscription terminates.
type Transform[T, P any] func(s engine.Settled[T]) (payload P, release func(), err error)

// Update is one delivery. Exactly one of Payload and Err is meaningful.
type Update[P any] struct {
	Seq         uint64
	Payload     P
	Err         error // *TransientEvaluationError or *FatalTransformError
	Fingerprint engine.Digest
}

// Options configure a subscription.
type Options struct {
	// Watch keeps the subscription alive across invalidations. Without it the
	// subscription terminates after its first delivery.
	Watch  bool
	Name   string
	Logger *slog.Logger
	// OnTerminate runs once after the loop exits and payload resources are
	// released.
	OnTerminate func()
}

// Subscription follows one query. Create it with Subscribe.
type Subscription[P any] struct {
	log         *slog.Logger
	watch       bool
	onTerminate func()

	updates chan Update[P]
	signal  chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	state     atomic.Int32
	seq       uint64

	done        chan struct{}
	adapterOnce sync.Once
	adapterDone chan struct{}
	// callbackMu is held by the adapter from its cancellation check until
	// fn returns.
	callbackMu sync.Mutex
	inCallback atomic.Bool
}

// Subscribe starts following src. Updates are available from Updates or
// through OnUpdate. Invalidation interest is registered before the first
// evaluation so no change is missed.
func Subscribe[T, P any](ctx context.Context, src Source[T], transform Transform[T, P], opts Options) *Subscription[P] {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Name != "" {
		log = log.With("subscription", opts.Name)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[P]{
		log:         log,
		watch:       opts.Watch,
		onTerminate: opts.OnTerminate,
		updates:     make(chan Update[P]),
		signal:      make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	stop := func() {}
	if opts.Watch {
		stop = src.OnInvalidate(s.notify)
	}
	metrics.ActiveSubscriptions.Inc()
	go run(s, src, transform, stop)
	return s
}

// notify coalesces invalidations into at most one pending signal.
func (s *Subscription[P]) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Updates returns the ordered delivery channel. It is closed once the
// subscription has terminated and released its resources.
func (s *Subscription[P]) Updates() <-chan Update[P] { return s.updates }

// OnUpdate drains Updates on a single goroutine, calling fn for each update
// in order. No call to fn begins after Cancel returns; a call already running
// may finish. Use either OnUpdate or Updates, not both; only the first
// OnUpdate call has effect.
func (s *Subscription[P]) OnUpdate(fn func(Update[P])) {
	s.adapterOnce.Do(func() {
		s.adapterDone = make(chan struct{})
		go func() {
			defer close(s.adapterDone)
			for u := range s.updates {
				s.dispatch(fn, u)
			}
		}()
	})
}

func (s *Subscription[P]) dispatch(fn func(Update[P]), u Update[P]) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	if s.cancelled.Load() {
		return
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	fn(u)
}

// Cancel stops the subscription. In-flight settling is interrupted through
// the context. Cancel only waits for an adapter that is between its
// cancellation check and the start of a callback, so it is safe to call more
// than once and from within an OnUpdate callback.
func (s *Subscription[P]) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
	if s.inCallback.Load() {
		return
	}
	// Wait out a dispatch that passed its check but has not started fn.
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
}

// Wait blocks until the subscription has terminated, released its resources
// and, when OnUpdate is used, finished its last callback. Do not call Wait
// from an OnUpdate callback.
func (s *Subscription[P]) Wait() {
	<-s.done
	s.adapterOnce.Do(func() {})
	if s.adapterDone != nil {
		<-s.adapterDone
	}
}

// Done is closed when the loop has exited and resources are released.
func (s *Subscription[P]) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Subscription[P]) State() State { return State(s.state.Load()) }

func (s *Subscription[P]) setState(st State) {
	s.state.Store(int32(st))
}

// run is the subscription loop. It is the only sender on s.updates.
func run[T, P any](s *Subscription[P], src Source[T], transform Transform[T, P], stopInvalidate func()) {
	var (
		release  func()
		last     engine.Digest
		haveLast bool
	)
	defer func() {
		stopInvalidate()
		if release != nil {
			release()
		}
		s.setState(StateTerminated)
		if s.onTerminate != nil {
			s.onTerminate()
		}
		metrics.ActiveSubscriptions.Dec()
		s.log.Debug("subscription terminated")
		close(s.updates)
		close(s.done)
	}()

	for first := true; ; first = false {
		if !first {
			s.setState(StateIdle)
			select {
			case <-s.ctx.Done():
				return
			case <-s.signal:
				trace.Point(s.ctx, trace.ScopeSubscription, "invalidated", "")
			}
		}

		span, ctx := trace.Start(s.ctx, trace.ScopeSubscription, "tick")
		timer := observ.NewTimer()

		s.setState(StateEvaluating)
		phase := timer.Begin("evaluate")
		// A failed evaluation may be stale; settling decides what is reported.
		if _, err := src.Evaluate(ctx); err != nil {
			s.log.Debug("evaluation returned error, settling", "err", err)
		}
		timer.End(phase, "")

		s.setState(StateSettling)
		phase = timer.Begin("settle")
		settled, err := src.StronglyConsistent(ctx)
		timer.End(phase, strconv.Itoa(settled.Iterations)+" iterations")
		if s.ctx.Err() != nil {
			span.End("cancelled")
			return
		}

		if err != nil {
			s.log.Warn("evaluation failed", "err", err)
			haveLast = false
			s.setState(StateDelivering)
			metrics.Deliveries.WithLabelValues("transient").Inc()
			ok := s.deliver(Update[P]{Err: &TransientEvaluationError{Err: err}, Fingerprint: settled.Fingerprint})
			span.End("transient")
			if !ok || !s.watch {
				return
			}
			continue
		}

		if haveLast && settled.Fingerprint == last {
			metrics.SkippedDeliveries.Inc()
			span.End("unchanged")
			continue
		}

		s.setState(StateDelivering)
		var (
			payload P
			rel     func()
		)
		err = timer.Time("transform", func() (err error) {
			payload, rel, err = transform(settled)
			return err
		})
		if err != nil {
			s.log.Error("transform failed", "err", err)
			metrics.Deliveries.WithLabelValues("fatal").Inc()
			s.deliver(Update[P]{Err: &FatalTransformError{Err: err}, Fingerprint: settled.Fingerprint})
			span.End("fatal")
			return
		}

		ok := s.deliver(Update[P]{Payload: payload, Fingerprint: settled.Fingerprint})
		if !ok {
			if rel != nil {
				rel()
			}
			span.End("cancelled")
			return
		}
		metrics.Deliveries.WithLabelValues("payload").Inc()
		if release != nil {
			release()
		}
		release = rel
		last, haveLast = settled.Fingerprint, true

		s.log.Debug("delivered",
			"seq", s.seq,
			"iterations", settled.Iterations,
			"diagnostics", len(settled.Diagnostics),
			"timings", timer.Report().TotalMS,
		)
		span.WithExtra("seq", strconv.FormatUint(s.seq, 10)).End("delivered")
		if !s.watch {
			return
		}
	}
}

// deliver hands u to the consumer. It reports false if the subscription was
// cancelled first.
func (s *Subscription[P]) deliver(u Update[P]) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.seq++
	u.Seq = s.seq
	select {
	case s.updates <- u:
		return true
	case <-s.ctx.Done():
		return false
	}
}
