package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fortio.org/safecast"
	"github.com/spf13/cobra"

	"routekit/internal/project"
)

const (
	envMemoryLimit = "ROUTEKIT_MEMORY_LIMIT"
	envWatch       = "ROUTEKIT_WATCH"
)

// projectFlags are the flags shared by commands that open a project.
type projectFlags struct {
	root        string
	watch       bool
	memoryLimit int64
	nextConfig  string
}

func (f *projectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.root, "root", "", "root directory bounding every read (default: manifest root or project dir)")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "keep streaming snapshots as files change")
	cmd.Flags().Int64Var(&f.memoryLimit, "memory-limit", 0, "bytes of file content to cache (default 256MiB)")
	cmd.Flags().StringVar(&f.nextConfig, "next-config", "", "path to a JSON file with the serialized next.config")
}

// resolveProjectConfig layers, from lowest to highest precedence: the nearest
// routekit.toml, the environment, then flags set on cmd.
func resolveProjectConfig(cmd *cobra.Command, dir string, f *projectFlags) (project.Config, error) {
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return project.Config{}, fmt.Errorf("resolve %s: %w", dir, err)
	}
	cfg := project.Config{RootPath: absDir, ProjectPath: absDir}
	var pageExtensions []string

	manifestPath, ok, err := project.FindManifest(absDir)
	if err != nil {
		return project.Config{}, err
	}
	if ok {
		m, err := project.LoadManifest(manifestPath)
		if err != nil {
			return project.Config{}, err
		}
		cfg.RootPath, cfg.ProjectPath = m.Root, m.Path
		if m.WatchSet {
			cfg.Watch = m.Watch
		}
		if m.MemoryLimitSet {
			limit := m.MemoryLimit
			cfg.MemoryLimit = &limit
		}
		pageExtensions = m.PageExtensions
	}

	if v := strings.TrimSpace(os.Getenv(envMemoryLimit)); v != "" {
		limit, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return project.Config{}, fmt.Errorf("%s: %w", envMemoryLimit, err)
		}
		cfg.MemoryLimit = &limit
	}
	if v := strings.TrimSpace(os.Getenv(envWatch)); v != "" {
		watch, err := strconv.ParseBool(v)
		if err != nil {
			return project.Config{}, fmt.Errorf("%s: %w", envWatch, err)
		}
		cfg.Watch = watch
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.RootPath, err = filepath.Abs(f.root)
		if err != nil {
			return project.Config{}, err
		}
	}
	if flags.Changed("watch") {
		cfg.Watch = f.watch
	}
	if flags.Changed("memory-limit") {
		// Negative values clamp to zero, which Open rejects.
		limit, err := safecast.Conv[uint64](max(f.memoryLimit, 0))
		if err != nil {
			return project.Config{}, fmt.Errorf("--memory-limit: %w", err)
		}
		cfg.MemoryLimit = &limit
	}

	switch {
	case f.nextConfig != "":
		data, err := os.ReadFile(f.nextConfig)
		if err != nil {
			return project.Config{}, fmt.Errorf("--next-config: %w", err)
		}
		cfg.NextConfig = string(data)
	case len(pageExtensions) > 0:
		data, err := json.Marshal(project.NextConfig{PageExtensions: pageExtensions})
		if err != nil {
			return project.Config{}, err
		}
		cfg.NextConfig = string(data)
	}
	return cfg, nil
}
