package routes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routekit/internal/diag"
	"routekit/internal/engine"
)

type fixture struct {
	root string
	eng  *engine.Engine
	res  *Resolver
}

func newFixture(t *testing.T, files map[string]string, exts ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	eng, err := engine.New(engine.Options{RootPath: root})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return &fixture{
		root: root,
		eng:  eng,
		res:  NewResolver(eng, Options{ProjectPath: eng.Root(), PageExtensions: exts}),
	}
}

func (f *fixture) settle(t *testing.T) engine.Settled[*Entrypoints] {
	t.Helper()
	s, err := f.res.Entrypoints().StronglyConsistent(context.Background())
	require.NoError(t, err)
	return s
}

func findDiag(items []diag.Diagnostic, name string) []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, d := range items {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

func TestPagesIndexAndAPI(t *testing.T) {
	f := newFixture(t, map[string]string{
		"pages/index.tsx":      "export default function Home() {}",
		"pages/api/hello.ts":   "export default function handler() {}",
		"pages/_app.tsx":       "",
		"pages/_document.tsx":  "",
		"pages/blog/index.js":  "",
		"pages/blog/[slug].js": "",
		"pages/readme.md":      "",
	})
	s := f.settle(t)

	assert.Equal(t, []string{"/", "/api/hello", "/blog", "/blog/[slug]"}, s.Value.Pathnames())

	home := s.Value.Routes["/"]
	assert.Equal(t, KindPage, home.Kind)
	require.NotNil(t, home.HTML)
	require.NotNil(t, home.Data)
	assert.Nil(t, home.Endpoint)
	assert.Equal(t, "pages/index.tsx", home.HTML.Source)

	api := s.Value.Routes["/api/hello"]
	assert.Equal(t, KindPageAPI, api.Kind)
	require.NotNil(t, api.Endpoint)
	assert.Nil(t, api.HTML)
	assert.Nil(t, s.Value.Middleware)
	assert.Empty(t, findDiag(s.Diagnostics, diag.NameRouteConflict))
}

func TestAppPageConflictsWithPagesIndex(t *testing.T) {
	f := newFixture(t, map[string]string{
		"app/page.tsx":    "",
		"pages/index.tsx": "",
	})
	s := f.settle(t)

	route := s.Value.Routes["/"]
	assert.Equal(t, KindConflict, route.Kind)
	assert.Empty(t, route.Endpoints())
	assert.Equal(t, []string{"app/page.tsx", "pages/index.tsx"}, route.Sources)

	conflicts := findDiag(s.Diagnostics, diag.NameRouteConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "/", conflicts[0].Payload["pathname"])
	assert.Equal(t, "app/page.tsx, pages/index.tsx", conflicts[0].Payload["sources"])
}

func TestMiddlewareConfigIsEchoed(t *testing.T) {
	f := newFixture(t, map[string]string{
		"middleware.ts": `
export const config = {
  matcher: ['/about'],
  runtime: 'nodejs',
}
export default function middleware() {}
`,
		"pages/about.tsx": "",
	})
	s := f.settle(t)

	mw := s.Value.Middleware
	require.NotNil(t, mw)
	assert.Equal(t, []string{"/about"}, mw.Config.Matcher)
	assert.Equal(t, RuntimeNodejs, mw.Config.Runtime)
	assert.Equal(t, "middleware.ts", mw.Endpoint.Source)
}

func TestMiddlewareDefaultsAndInvalidRuntime(t *testing.T) {
	f := newFixture(t, map[string]string{
		"src/middleware.js": `export const config = { matcher: '/middleware', runtime: "deno" }`,
	})
	s := f.settle(t)

	mw := s.Value.Middleware
	require.NotNil(t, mw)
	assert.Equal(t, []string{"/middleware"}, mw.Config.Matcher)
	assert.Equal(t, RuntimeEdge, mw.Config.Runtime)
	invalid := findDiag(s.Diagnostics, diag.NameInvalidRuntime)
	require.Len(t, invalid, 1)
	assert.Equal(t, "deno", invalid[0].Payload["runtime"])
}

func TestMiddlewareWithoutConfig(t *testing.T) {
	f := newFixture(t, map[string]string{"middleware.ts": "export default () => {}"})
	s := f.settle(t)
	require.NotNil(t, s.Value.Middleware)
	assert.Nil(t, s.Value.Middleware.Config.Matcher)
	assert.Equal(t, RuntimeEdge, s.Value.Middleware.Config.Runtime)
}

func TestMultipleMiddlewareRejected(t *testing.T) {
	f := newFixture(t, map[string]string{
		"middleware.ts":     "",
		"src/middleware.ts": "",
	})
	s := f.settle(t)
	assert.Nil(t, s.Value.Middleware)
	card := findDiag(s.Diagnostics, diag.NameMiddlewareCardinality)
	require.Len(t, card, 1)
	assert.Equal(t, "middleware.ts, src/middleware.ts", card[0].Payload["files"])
}

func TestAppConventions(t *testing.T) {
	f := newFixture(t, map[string]string{
		"src/app/page.tsx":                   "",
		"src/app/(marketing)/about/page.tsx": "",
		"src/app/@modal/login/page.tsx":      "",
		"src/app/_components/page.tsx":       "",
		"src/app/api/items/route.ts":         "",
		"src/app/dup/page.tsx":               "",
		"src/app/dup/route.ts":               "",
		"src/app/not-found.tsx":              "",
		"src/app/layout.tsx":                 "",
	})
	s := f.settle(t)

	assert.Equal(t, []string{"/", "/_not-found", "/about", "/api/items", "/dup", "/login"}, s.Value.Pathnames())

	root := s.Value.Routes["/"]
	require.Equal(t, KindAppPage, root.Kind)
	assert.Equal(t, "/page", root.HTML.OriginalName)
	assert.Equal(t, "/page", root.RSC.OriginalName)
	assert.Equal(t, "/about/page", s.Value.Routes["/about"].HTML.OriginalName)
	assert.Equal(t, "/_not-found", s.Value.Routes["/_not-found"].HTML.OriginalName)

	assert.Equal(t, KindAppRoute, s.Value.Routes["/api/items"].Kind)
	assert.Equal(t, KindConflict, s.Value.Routes["/dup"].Kind)
}

func TestDynamicMetadataIsUnsupported(t *testing.T) {
	f := newFixture(t, map[string]string{
		"app/page.tsx":              "",
		"app/opengraph-image.tsx":   "",
		"app/icon.png":              "",
		"app/blog/twitter-image.js": "",
	})
	s := f.settle(t)
	unsupported := findDiag(s.Diagnostics, diag.NameUnsupportedDynamicMetadata)
	require.Len(t, unsupported, 2)
	assert.Equal(t, diag.CategoryUnsupported, unsupported[0].Category)
	assert.NotContains(t, s.Value.Pathnames(), "/opengraph-image")
}

func TestFeatureTelemetry(t *testing.T) {
	f := newFixture(t, map[string]string{
		"pages/index.tsx": `import Image from 'next/image'
import Script from "next/script"`,
		"pages/about.tsx": `import Image from 'next/image'
const D = dynamic(() => import('./x'))`,
	})
	s := f.settle(t)
	usage := findDiag(s.Diagnostics, diag.NameFeatureUsage)
	require.Len(t, usage, 2)
	assert.Equal(t, diag.CategoryFeatureTelemetry, usage[0].Category)
	assert.Equal(t, map[string]string{"next/image": "2"}, usage[0].Payload)
	assert.Equal(t, map[string]string{"next/script": "1"}, usage[1].Payload)
}

func TestCustomPageExtensions(t *testing.T) {
	f := newFixture(t, map[string]string{
		"pages/index.page.tsx": "",
		"pages/helper.tsx":     "",
	}, "page.tsx")
	s := f.settle(t)
	assert.Equal(t, []string{"/"}, s.Value.Pathnames())
}

func TestPathnamesAreNFC(t *testing.T) {
	// "e" followed by a combining acute accent.
	f := newFixture(t, map[string]string{"pages/cafe\u0301.tsx": ""})
	s := f.settle(t)
	assert.Equal(t, []string{"/caf\u00e9"}, s.Value.Pathnames())
}

func TestReclassifiesAfterInvalidation(t *testing.T) {
	f := newFixture(t, map[string]string{"pages/index.tsx": ""})
	first := f.settle(t)
	assert.Equal(t, []string{"/"}, first.Value.Pathnames())

	added := filepath.Join(f.root, "pages", "new.tsx")
	require.NoError(t, os.WriteFile(added, nil, 0o644))
	f.eng.Invalidate(added)

	second := f.settle(t)
	assert.Equal(t, []string{"/", "/new"}, second.Value.Pathnames())
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
}

func TestEndpointDescriptor(t *testing.T) {
	f := newFixture(t, map[string]string{"pages/api/x.ts": "abc"})
	s := f.settle(t)
	ep := s.Value.Routes["/api/x"].Endpoint
	require.NotNil(t, ep)

	d, err := f.res.Endpoint(*ep).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "api", d.Kind)
	assert.Equal(t, 3, d.Size)
	assert.Len(t, d.Digest, 64)
}

func TestWireNamesRejectUnknownValues(t *testing.T) {
	_, err := Kind(0).WireName()
	assert.Error(t, err)
	_, err = Runtime(9).WireName()
	assert.Error(t, err)
	name, err := KindPageAPI.WireName()
	require.NoError(t, err)
	assert.Equal(t, "page-api", name)
}
