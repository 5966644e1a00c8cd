package routes

import (
	"path"

	"routekit/internal/engine"
)

// pagesCandidates classifies the pages directory. rel is the directory
// relative to the project ("pages" or "src/pages").
func pagesCandidates(c *engine.Ctx, dir, rel string, exts []string) ([]candidate, error) {
	files, err := walkFiles(c, dir, nil)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, segments := range files {
		name := segments[len(segments)-1]
		base, _, ok := splitExt(name, exts)
		if !ok {
			continue
		}
		// _app, _document, _error and friends are framework files.
		if len(segments) == 1 && isPrivateFolder(base) {
			continue
		}
		routeSegs := append([]string(nil), segments[:len(segments)-1]...)
		if base != "index" {
			routeSegs = append(routeSegs, base)
		}
		pathname := joinPathname(routeSegs)
		source := path.Join(append([]string{rel}, segments...)...)

		var route Route
		if segments[0] == "api" {
			route = Route{
				Kind:     KindPageAPI,
				Endpoint: &Endpoint{Kind: EndpointAPI, Pathname: pathname, Source: source},
			}
		} else {
			route = Route{
				Kind: KindPage,
				HTML: &Endpoint{Kind: EndpointHTML, Pathname: pathname, Source: source},
				Data: &Endpoint{Kind: EndpointData, Pathname: pathname, Source: source},
			}
		}
		out = append(out, candidate{Pathname: pathname, Route: route, Source: source})
	}
	return out, nil
}
