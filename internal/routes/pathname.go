package routes

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// joinPathname builds a normalized "/a/b" pathname from segments.
func joinPathname(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	p := path.Clean("/" + strings.Join(segments, "/"))
	return norm.NFC.String(p)
}

// appOriginalName maps an app page pathname to its page entry name.
func appOriginalName(pathname string) string {
	switch pathname {
	case "/":
		return "/page"
	case "/_not-found":
		return "/_not-found"
	default:
		return pathname + "/page"
	}
}

// isRouteGroup reports "(marketing)"-style segments.
func isRouteGroup(seg string) bool {
	return len(seg) > 2 && strings.HasPrefix(seg, "(") && strings.HasSuffix(seg, ")")
}

// isParallelSlot reports "@modal"-style segments.
func isParallelSlot(seg string) bool {
	return len(seg) > 1 && strings.HasPrefix(seg, "@")
}

// isPrivateFolder reports "_components"-style segments.
func isPrivateFolder(seg string) bool {
	return strings.HasPrefix(seg, "_")
}

// splitExt strips the longest configured page extension from name.
func splitExt(name string, exts []string) (base string, ext string, ok bool) {
	for _, e := range exts {
		suffix := "." + e
		if len(name) > len(suffix) && strings.HasSuffix(name, suffix) && len(e) > len(ext) {
			base, ext, ok = strings.TrimSuffix(name, suffix), e, true
		}
	}
	if ok && strings.HasSuffix(base, ".d") && (ext == "ts" || ext == "tsx") {
		return "", "", false
	}
	return base, ext, ok
}
