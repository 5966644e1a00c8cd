// Package trace records span events for project sessions, subscription
// iterations, strongly consistent reads and cell recomputation.
//
// Tracers travel through the context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span, ctx := trace.Start(ctx, trace.ScopeQuery, "settle")
//	defer span.End("")
//
// Verbosity is controlled by Level; each Level admits scopes up to a bound
// (summary: session and subscription, detail: plus query, debug: all).
package trace
