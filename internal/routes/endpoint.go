package routes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"routekit/internal/engine"
)

// EndpointKind tells what an endpoint produces.
type EndpointKind uint8

const (
	EndpointHTML EndpointKind = iota + 1
	EndpointData
	EndpointRSC
	EndpointAPI
	EndpointAppRoute
	EndpointMiddleware
)

func (k EndpointKind) String() string {
	switch k {
	case EndpointHTML:
		return "html"
	case EndpointData:
		return "data"
	case EndpointRSC:
		return "rsc"
	case EndpointAPI:
		return "api"
	case EndpointAppRoute:
		return "app-route"
	case EndpointMiddleware:
		return "middleware"
	default:
		return "unknown"
	}
}

// Endpoint is an opaque handle to something the build can produce. Hosts see
// it only as a registry id.
type Endpoint struct {
	Kind     EndpointKind
	Pathname string
	// Source is the project-relative, slash-separated source file.
	Source string
	// OriginalName is the app page name ("/page", "/blog/page") for app
	// endpoints; empty otherwise.
	OriginalName string
}

// HandleKey identifies the endpoint in the engine registry.
func (e Endpoint) HandleKey() string {
	return e.Kind.String() + ":" + e.Pathname + "@" + e.Source
}

// Descriptor is what resolving an endpoint id yields.
type Descriptor struct {
	Kind         string `json:"kind" msgpack:"kind"`
	Pathname     string `json:"pathname" msgpack:"pathname"`
	Source       string `json:"source" msgpack:"source"`
	OriginalName string `json:"originalName,omitempty" msgpack:"originalName,omitempty"`
	Size         int    `json:"size" msgpack:"size"`
	Digest       string `json:"digest" msgpack:"digest"`
}

// describe reads the endpoint source through c so the descriptor tracks it.
func describe(c *engine.Ctx, projectPath string, ep Endpoint) (Descriptor, error) {
	data, err := c.ReadFile(filepath.Join(projectPath, filepath.FromSlash(ep.Source)))
	if err != nil {
		return Descriptor{}, fmt.Errorf("endpoint %s: %w", ep.HandleKey(), err)
	}
	sum := sha256.Sum256(data)
	return Descriptor{
		Kind:         ep.Kind.String(),
		Pathname:     ep.Pathname,
		Source:       ep.Source,
		OriginalName: ep.OriginalName,
		Size:         len(data),
		Digest:       hex.EncodeToString(sum[:]),
	}, nil
}
