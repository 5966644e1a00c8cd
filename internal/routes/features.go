package routes

import (
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"routekit/internal/diag"
	"routekit/internal/engine"
)

// TrackedFeatures are the modules whose imports are reported as feature usage.
var TrackedFeatures = []string{
	"next/image",
	"next/script",
	"next/dynamic",
	"next/font/google",
	"next/font/local",
	"@next/font",
}

var importPattern = regexp.MustCompile(
	`(?:\bfrom\s*|\bimport\s*\(?\s*|\brequire\s*\(\s*)['"]([^'"]+)['"]`)

// countFeatures counts imports of tracked modules in src.
func countFeatures(src string) map[string]int {
	tracked := make(map[string]struct{}, len(TrackedFeatures))
	for _, f := range TrackedFeatures {
		tracked[f] = struct{}{}
	}
	counts := make(map[string]int)
	for _, m := range importPattern.FindAllStringSubmatch(src, -1) {
		if _, ok := tracked[m[1]]; ok {
			counts[m[1]]++
		}
	}
	return counts
}

// featureUsage scans every source in parallel, one memoized cell per file,
// and emits one NEXT_BUILD_FEATURE_USAGE diagnostic per used feature with
// the total count.
func (r *Resolver) featureUsage(c *engine.Ctx, sources []string) error {
	counts := make([]map[string]int, len(sources))
	g, gctx := errgroup.WithContext(c.Context())
	g.SetLimit(max(1, min(runtime.GOMAXPROCS(0), len(sources))))
	for i, source := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := engine.Read(c, r.fileFeatures(source))
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := make(map[string]int)
	for _, n := range counts {
		for feature, k := range n {
			total[feature] += k
		}
	}
	features := make([]string, 0, len(total))
	for f := range total {
		features = append(features, f)
	}
	sort.Strings(features)
	for _, f := range features {
		diag.Build(c, diag.CategoryFeatureTelemetry, diag.NameFeatureUsage).
			With(f, strconv.Itoa(total[f])).
			Emit()
	}
	return nil
}

func (r *Resolver) fileFeatures(source string) *engine.Query[map[string]int] {
	return engine.NewQuery(r.eng, "features:"+source, func(c *engine.Ctx) (map[string]int, error) {
		data, err := c.ReadFile(filepath.Join(r.opts.ProjectPath, filepath.FromSlash(source)))
		if err != nil {
			return nil, err
		}
		return countFeatures(string(data)), nil
	})
}
