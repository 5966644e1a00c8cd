package subscribe

import (
	"context"
	"errors"

	"routekit/internal/engine"
	"routekit/internal/project"
	"routekit/internal/routes"
	"routekit/internal/wire"
)

// Entrypoints subscribes to the project's classification. Each payload holds
// registry references to its endpoints until it is superseded or the
// subscription ends. Watch mode follows the project configuration and keeps
// the project's file watcher running while the subscription is live.
func Entrypoints(ctx context.Context, p *project.Project, opts Options) (*Subscription[wire.Entrypoints], error) {
	return EntrypointsWith(ctx, p, EntrypointsTransform(p.Engine().Registry()), opts)
}

// EntrypointsWith is Entrypoints with a caller supplied transform, for hosts
// that manage payload references themselves.
func EntrypointsWith(ctx context.Context, p *project.Project, transform Transform[*routes.Entrypoints, wire.Entrypoints], opts Options) (*Subscription[wire.Entrypoints], error) {
	opts.Watch = p.Config().Watch
	if opts.Name == "" {
		opts.Name = "entrypoints"
	}
	if opts.Logger == nil {
		opts.Logger = p.Logger()
	}
	release, err := p.AcquireWatch()
	if err != nil {
		return nil, err
	}
	onTerminate := opts.OnTerminate
	opts.OnTerminate = func() {
		release()
		if onTerminate != nil {
			onTerminate()
		}
	}
	return Subscribe(ctx, p.Entrypoints(), transform, opts), nil
}

// EntrypointsTransform converts settled classifications into wire payloads,
// acquiring one registry reference per endpoint occurrence.
func EntrypointsTransform(reg *engine.Registry) Transform[*routes.Entrypoints, wire.Entrypoints] {
	return func(s engine.Settled[*routes.Entrypoints]) (wire.Entrypoints, func(), error) {
		var held []uint64
		acquire := func(ep routes.Endpoint) uint64 {
			id := reg.Acquire(ep)
			held = append(held, id)
			return id
		}
		releaseAll := func() {
			for _, id := range held {
				reg.Release(id)
			}
		}
		payload, err := wire.NewEntrypoints(s.Value, s.Diagnostics, acquire)
		if err != nil {
			releaseAll()
			return wire.Entrypoints{}, nil, err
		}
		return payload, releaseAll, nil
	}
}

// ErrorPayload maps a delivery error to its host form.
func ErrorPayload(err error) wire.ErrorPayload {
	var fatal *FatalTransformError
	if errors.As(err, &fatal) {
		return wire.ErrorPayload{Kind: wire.ErrorFatal, Message: fatal.Err.Error()}
	}
	var transient *TransientEvaluationError
	if errors.As(err, &transient) {
		return wire.ErrorPayload{Kind: wire.ErrorTransient, Message: transient.Err.Error()}
	}
	return wire.ErrorPayload{Kind: wire.ErrorTransient, Message: err.Error()}
}

// WireUpdate converts an update into its streamed form.
func WireUpdate(u Update[wire.Entrypoints]) wire.Update {
	out := wire.Update{Seq: u.Seq}
	if u.Err != nil {
		ep := ErrorPayload(u.Err)
		out.Error = &ep
		return out
	}
	payload := u.Payload
	out.Payload = &payload
	return out
}
