// Package routes classifies a project's route sources into typed entrypoints.
package routes

import (
	"fmt"
	"sort"
)

// Kind is the variant of a Route.
type Kind uint8

const (
	KindPage Kind = iota + 1
	KindPageAPI
	KindAppPage
	KindAppRoute
	KindConflict
)

// WireName returns the host-facing name of k.
func (k Kind) WireName() (string, error) {
	switch k {
	case KindPage:
		return "page", nil
	case KindPageAPI:
		return "page-api", nil
	case KindAppPage:
		return "app-page", nil
	case KindAppRoute:
		return "app-route", nil
	case KindConflict:
		return "conflict", nil
	default:
		return "", fmt.Errorf("unknown route kind %d", k)
	}
}

func (k Kind) String() string {
	if s, err := k.WireName(); err == nil {
		return s
	}
	return "unknown"
}

// Route is one classified pathname. Only the endpoints of its Kind are set:
// Page has HTML and Data, PageAPI and AppRoute have Endpoint, AppPage has
// HTML and RSC, Conflict has none.
type Route struct {
	Kind     Kind
	HTML     *Endpoint
	Data     *Endpoint
	RSC      *Endpoint
	Endpoint *Endpoint
	// Sources lists the project-relative files that produced the route.
	Sources []string
}

// Endpoints returns the set endpoints of r in a fixed order.
func (r Route) Endpoints() []*Endpoint {
	out := make([]*Endpoint, 0, 2)
	for _, ep := range []*Endpoint{r.Endpoint, r.HTML, r.RSC, r.Data} {
		if ep != nil {
			out = append(out, ep)
		}
	}
	return out
}

// Runtime is the execution environment of middleware.
type Runtime uint8

const (
	RuntimeEdge Runtime = iota + 1
	RuntimeNodejs
)

// WireName returns the host-facing name of r.
func (r Runtime) WireName() (string, error) {
	switch r {
	case RuntimeEdge:
		return "edge", nil
	case RuntimeNodejs:
		return "nodejs", nil
	default:
		return "", fmt.Errorf("unknown middleware runtime %d", r)
	}
}

func (r Runtime) String() string {
	if s, err := r.WireName(); err == nil {
		return s
	}
	return "unknown"
}

// MiddlewareConfig is the statically extracted `export const config`.
type MiddlewareConfig struct {
	Runtime Runtime
	Matcher []string // nil when no matcher was declared
}

// Middleware is the project's single middleware entrypoint.
type Middleware struct {
	Endpoint Endpoint
	Config   MiddlewareConfig
}

// Entrypoints is one atomic classification of the project.
type Entrypoints struct {
	Routes     map[string]Route
	Middleware *Middleware
}

// Pathnames returns the route keys in sorted order.
func (e *Entrypoints) Pathnames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.Routes))
	for p := range e.Routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Endpoints returns every endpoint of the snapshot, routes in pathname order
// followed by middleware.
func (e *Entrypoints) Endpoints() []*Endpoint {
	if e == nil {
		return nil
	}
	var out []*Endpoint
	for _, p := range e.Pathnames() {
		out = append(out, e.Routes[p].Endpoints()...)
	}
	if e.Middleware != nil {
		ep := e.Middleware.Endpoint
		out = append(out, &ep)
	}
	return out
}
