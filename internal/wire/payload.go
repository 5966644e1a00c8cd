// Package wire defines the host-facing payloads and their encodings.
package wire

import (
	"fmt"
	"sort"

	"routekit/internal/diag"
	"routekit/internal/routes"
)

// Route is one entry of Entrypoints.Routes. Only the endpoints of its type
// are present.
type Route struct {
	Pathname     string  `json:"pathname" msgpack:"pathname"`
	Type         string  `json:"type" msgpack:"type"`
	Endpoint     *uint64 `json:"endpoint,omitempty" msgpack:"endpoint,omitempty"`
	HTMLEndpoint *uint64 `json:"htmlEndpoint,omitempty" msgpack:"htmlEndpoint,omitempty"`
	RSCEndpoint  *uint64 `json:"rscEndpoint,omitempty" msgpack:"rscEndpoint,omitempty"`
	DataEndpoint *uint64 `json:"dataEndpoint,omitempty" msgpack:"dataEndpoint,omitempty"`
}

// Middleware is the serialized middleware. Matcher is null when none was
// declared.
type Middleware struct {
	Endpoint uint64   `json:"endpoint" msgpack:"endpoint"`
	Runtime  string   `json:"runtime" msgpack:"runtime"`
	Matcher  []string `json:"matcher" msgpack:"matcher"`
}

// Entrypoints is the payload of one successful delivery.
type Entrypoints struct {
	Routes      []Route      `json:"routes" msgpack:"routes"`
	Middleware  *Middleware  `json:"middleware" msgpack:"middleware"`
	Diagnostics []diag.Plain `json:"diagnostics" msgpack:"diagnostics"`
}

// ErrorKind values.
const (
	ErrorTransient = "transient"
	ErrorFatal     = "fatal"
)

// ErrorPayload is the payload of a failed delivery.
type ErrorPayload struct {
	Kind    string `json:"kind" msgpack:"kind"`
	Message string `json:"message" msgpack:"message"`
}

// Update is the streamed form of a delivery.
type Update struct {
	Seq     uint64        `json:"seq" msgpack:"seq"`
	Payload *Entrypoints  `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty" msgpack:"error,omitempty"`
}

// NewEntrypoints converts a settled classification. acquire maps each
// endpoint to its registry id. Routes are sorted by pathname. An unknown
// route kind or runtime is an error.
func NewEntrypoints(e *routes.Entrypoints, diags []diag.Diagnostic, acquire func(routes.Endpoint) uint64) (Entrypoints, error) {
	out := Entrypoints{
		Routes:      []Route{},
		Diagnostics: diag.Flatten(diags),
	}
	if e == nil {
		return out, nil
	}
	id := func(ep *routes.Endpoint) *uint64 {
		if ep == nil {
			return nil
		}
		v := acquire(*ep)
		return &v
	}

	pathnames := e.Pathnames()
	out.Routes = make([]Route, 0, len(pathnames))
	for _, pathname := range pathnames {
		r := e.Routes[pathname]
		typ, err := r.Kind.WireName()
		if err != nil {
			return Entrypoints{}, fmt.Errorf("route %s: %w", pathname, err)
		}
		out.Routes = append(out.Routes, Route{
			Pathname:     pathname,
			Type:         typ,
			Endpoint:     id(r.Endpoint),
			HTMLEndpoint: id(r.HTML),
			RSCEndpoint:  id(r.RSC),
			DataEndpoint: id(r.Data),
		})
	}

	if mw := e.Middleware; mw != nil {
		runtime, err := mw.Config.Runtime.WireName()
		if err != nil {
			return Entrypoints{}, fmt.Errorf("middleware %s: %w", mw.Endpoint.Source, err)
		}
		var matcher []string
		if mw.Config.Matcher != nil {
			matcher = append([]string{}, mw.Config.Matcher...)
		}
		out.Middleware = &Middleware{
			Endpoint: acquire(mw.Endpoint),
			Runtime:  runtime,
			Matcher:  matcher,
		}
	}
	return out, nil
}

// EndpointIDs returns every id referenced by e, sorted.
func (e Entrypoints) EndpointIDs() []uint64 {
	var ids []uint64
	for _, r := range e.Routes {
		for _, p := range []*uint64{r.Endpoint, r.HTMLEndpoint, r.RSCEndpoint, r.DataEndpoint} {
			if p != nil {
				ids = append(ids, *p)
			}
		}
	}
	if e.Middleware != nil {
		ids = append(ids, e.Middleware.Endpoint)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
