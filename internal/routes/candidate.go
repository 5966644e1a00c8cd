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

// candidate is one source claiming a pathname before conflicts are resolved.
type candidate struct {
	Pathname string
	Route    Route
	Source   string
}

// locateDir picks <project>/<name> or, failing that, <project>/src/<name>.
// Both listings are read through c so creating either directory later
// invalidates the caller.
func locateDir(c *engine.Ctx, projectPath, name string) (abs string, rel string, ok bool, err error) {
	for _, prefix := range []string{"", "src"} {
		parent := filepath.Join(projectPath, prefix)
		entries, err := c.ReadDir(parent)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", false, err
		}
		for _, ent := range entries {
			if ent.IsDir && ent.Name == name {
				return filepath.Join(parent, name), path.Join(prefix, name), true, nil
			}
		}
	}
	return "", "", false, nil
}

// walkFiles lists files under dir depth-first in name order, calling skipDir
// for each subdirectory's relative path segments.
func walkFiles(c *engine.Ctx, dir string, skipDir func(segments []string) bool) ([][]string, error) {
	var out [][]string
	var walk func(abs string, segments []string) error
	walk = func(abs string, segments []string) error {
		if err := c.Context().Err(); err != nil {
			return err
		}
		entries, err := c.ReadDir(abs)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			next := append(append([]string(nil), segments...), ent.Name)
			if ent.IsDir {
				if skipDir != nil && skipDir(next) {
					continue
				}
				if err := walk(filepath.Join(abs, ent.Name), next); err != nil {
					return err
				}
				continue
			}
			out = append(out, next)
		}
		return nil
	}
	if err := walk(dir, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// merge folds candidates into routes. Any pathname claimed more than once
// becomes a Conflict and is reported.
func merge(r diag.Reporter, cands []candidate) map[string]Route {
	byPath := make(map[string][]candidate, len(cands))
	for _, cand := range cands {
		byPath[cand.Pathname] = append(byPath[cand.Pathname], cand)
	}
	routes := make(map[string]Route, len(byPath))
	for pathname, group := range byPath {
		if len(group) == 1 {
			route := group[0].Route
			route.Sources = []string{group[0].Source}
			routes[pathname] = route
			continue
		}
		sources := make([]string, 0, len(group))
		for _, cand := range group {
			sources = append(sources, cand.Source)
		}
		sort.Strings(sources)
		routes[pathname] = Route{Kind: KindConflict, Sources: sources}
		diag.Build(r, diag.CategoryEntrypoints, diag.NameRouteConflict).
			With("pathname", pathname).
			With("sources", strings.Join(sources, ", ")).
			Emit()
	}
	return routes
}
