package routes

import (
	"path"
	"sort"
	"strings"

	"routekit/internal/diag"
	"routekit/internal/engine"
)

var dynamicMetadataNames = map[string]struct{}{
	"opengraph-image": {},
	"twitter-image":   {},
	"icon":            {},
	"apple-icon":      {},
}

// scriptExts are extensions that make a metadata file dynamic.
var scriptExts = []string{"js", "jsx", "ts", "tsx", "mjs", "cjs", "mts", "cts"}

// appCandidates classifies the app directory. rel is the directory relative
// to the project ("app" or "src/app").
func appCandidates(c *engine.Ctx, dir, rel string, exts []string) ([]candidate, error) {
	files, err := walkFiles(c, dir, func(segments []string) bool {
		return isPrivateFolder(segments[len(segments)-1])
	})
	if err != nil {
		return nil, err
	}

	type dirEntry struct {
		page, route string
		metadata    []string
	}
	dirs := make(map[string]*dirEntry)
	var order []string
	entryFor := func(key string) *dirEntry {
		d, ok := dirs[key]
		if !ok {
			d = &dirEntry{}
			dirs[key] = d
			order = append(order, key)
		}
		return d
	}

	var out []candidate
	for _, segments := range files {
		name := segments[len(segments)-1]
		dirSegs := segments[:len(segments)-1]
		source := path.Join(append([]string{rel}, segments...)...)
		dirKey := path.Join(dirSegs...)

		if base, _, ok := splitExt(name, scriptExts); ok {
			if _, meta := dynamicMetadataNames[base]; meta {
				d := entryFor(dirKey)
				d.metadata = append(d.metadata, source)
				continue
			}
		}
		base, _, ok := splitExt(name, exts)
		if !ok {
			continue
		}
		switch {
		case base == "page":
			entryFor(dirKey).page = source
		case base == "route":
			entryFor(dirKey).route = source
		case base == "not-found" && len(dirSegs) == 0:
			pathname := "/_not-found"
			out = append(out, candidate{
				Pathname: pathname,
				Route:    appPageRoute(pathname, source),
				Source:   source,
			})
		}
	}

	for _, key := range order {
		d := dirs[key]
		var segs []string
		if key != "" {
			segs = strings.Split(key, "/")
		}
		pathname := appPathname(segs)
		if d.page != "" {
			out = append(out, candidate{Pathname: pathname, Route: appPageRoute(pathname, d.page), Source: d.page})
		}
		if d.route != "" {
			out = append(out, candidate{
				Pathname: pathname,
				Route: Route{
					Kind: KindAppRoute,
					Endpoint: &Endpoint{
						Kind:         EndpointAppRoute,
						Pathname:     pathname,
						Source:       d.route,
						OriginalName: strings.TrimSuffix(pathname, "/") + "/route",
					},
				},
				Source: d.route,
			})
		}
		if len(d.metadata) > 0 {
			sort.Strings(d.metadata)
			diag.Build(c, diag.CategoryUnsupported, diag.NameUnsupportedDynamicMetadata).
				With("dir", path.Join(rel, key)).
				With("files", strings.Join(d.metadata, ", ")).
				Emit()
		}
	}
	return out, nil
}

func appPageRoute(pathname, source string) Route {
	original := appOriginalName(pathname)
	return Route{
		Kind: KindAppPage,
		HTML: &Endpoint{Kind: EndpointHTML, Pathname: pathname, Source: source, OriginalName: original},
		RSC:  &Endpoint{Kind: EndpointRSC, Pathname: pathname, Source: source, OriginalName: original},
	}
}

// appPathname drops route groups and parallel slots.
func appPathname(segments []string) string {
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if isRouteGroup(seg) || isParallelSlot(seg) {
			continue
		}
		kept = append(kept, seg)
	}
	return joinPathname(kept)
}
