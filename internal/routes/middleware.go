package routes

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"routekit/internal/diag"
	"routekit/internal/engine"
)

// resolveMiddleware finds middleware.<ext> at the project root or in src/.
// More than one source is rejected: nil is returned and a
// MIDDLEWARE_CARDINALITY diagnostic lists the files.
func resolveMiddleware(c *engine.Ctx, projectPath string, exts []string) (*Middleware, error) {
	var sources []string
	for _, prefix := range []string{"", "src"} {
		entries, err := c.ReadDir(filepath.Join(projectPath, prefix))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, ent := range entries {
			if ent.IsDir {
				continue
			}
			if base, _, ok := splitExt(ent.Name, exts); ok && base == "middleware" {
				sources = append(sources, path.Join(prefix, ent.Name))
			}
		}
	}

	switch len(sources) {
	case 0:
		return nil, nil
	case 1:
	default:
		sort.Strings(sources)
		diag.Build(c, diag.CategoryEntrypoints, diag.NameMiddlewareCardinality).
			With("files", strings.Join(sources, ", ")).
			Emit()
		return nil, nil
	}

	source := sources[0]
	data, err := c.ReadFile(filepath.Join(projectPath, filepath.FromSlash(source)))
	if err != nil {
		return nil, err
	}
	return &Middleware{
		Endpoint: Endpoint{Kind: EndpointMiddleware, Pathname: "/", Source: source},
		Config:   middlewareConfig(c, source, string(data)),
	}, nil
}

func middlewareConfig(r diag.Reporter, source, src string) MiddlewareConfig {
	cfg := MiddlewareConfig{Runtime: RuntimeEdge}
	raw, ok := scanConfig(src)
	if !ok {
		return cfg
	}
	if raw.HasMatcher {
		cfg.Matcher = raw.Matcher
	}
	if raw.HasRuntime {
		switch raw.Runtime {
		case "edge", "experimental-edge":
			cfg.Runtime = RuntimeEdge
		case "nodejs":
			cfg.Runtime = RuntimeNodejs
		default:
			diag.Build(r, diag.CategoryEntrypoints, diag.NameInvalidRuntime).
				With("file", source).
				With("runtime", raw.Runtime).
				Emit()
		}
	}
	return cfg
}
