package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanConfig(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		found   bool
		matcher []string
		runtime string
	}{
		{
			name:    "string matcher",
			src:     `export const config = { matcher: '/middleware' }`,
			found:   true,
			matcher: []string{"/middleware"},
		},
		{
			name:    "array with comments and trailing comma",
			src:     "export const config = {\n  // only about\n  matcher: [\"/about\", '/a/:path*',],\n  runtime: `nodejs`, /* done */\n}",
			found:   true,
			matcher: []string{"/about", "/a/:path*"},
			runtime: "nodejs",
		},
		{
			name:    "typed export with object matchers",
			src:     `export const config: MiddlewareConfig = { matcher: [{ source: '/x', has: [{ type: 'header' }] }] }`,
			found:   true,
			matcher: []string{"/x"},
		},
		{
			name:  "non literal values are ignored",
			src:   `export const config = { matcher: paths(), ...rest, runtime: RT }`,
			found: true,
		},
		{
			name: "no config",
			src:  `export default function middleware() {}`,
		},
		{
			name: "unterminated",
			src:  `export const config = { matcher: [ '/a'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, found := scanConfig(tt.src)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.matcher, cfg.Matcher)
			assert.Equal(t, tt.runtime, cfg.Runtime)
		})
	}
}

func TestSplitExt(t *testing.T) {
	exts := []string{"tsx", "ts", "page.tsx"}
	base, ext, ok := splitExt("index.page.tsx", exts)
	assert.True(t, ok)
	assert.Equal(t, "index", base)
	assert.Equal(t, "page.tsx", ext)

	_, _, ok = splitExt("types.d.ts", exts)
	assert.False(t, ok)
	_, _, ok = splitExt("style.css", exts)
	assert.False(t, ok)
}
