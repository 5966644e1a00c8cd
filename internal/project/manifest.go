package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"
)

// Manifest is the parsed routekit.toml.
type Manifest struct {
	// Dir is the directory holding the manifest; relative paths resolve
	// against it.
	Dir            string
	Root           string
	Path           string
	Watch          bool
	WatchSet       bool
	MemoryLimit    uint64
	// MemoryLimitSet reports an explicit memory_limit. Non-positive values
	// load as 0 so Open rejects them.
	MemoryLimitSet bool
	PageExtensions []string
}

// ErrProjectSectionMissing indicates that [project] is missing.
var ErrProjectSectionMissing = errors.New("missing [project]")

type manifestFile struct {
	Project struct {
		Root        string `toml:"root"`
		Path        string `toml:"path"`
		Watch       bool   `toml:"watch"`
		MemoryLimit int64  `toml:"memory_limit"`
	} `toml:"project"`
	Next struct {
		PageExtensions []string `toml:"page_extensions"`
	} `toml:"next"`
}

// LoadManifest parses a routekit.toml. Root and Path resolve relative to the
// manifest directory; Root defaults to that directory and Path to Root.
func LoadManifest(path string) (Manifest, error) {
	var f manifestFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("project") {
		return Manifest{}, fmt.Errorf("%s: %w", path, ErrProjectSectionMissing)
	}
	memoryLimit, err := safecast.Conv[uint64](max(f.Project.MemoryLimit, 0))
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: [project].memory_limit: %w", path, err)
	}

	dir := filepath.Dir(path)
	m := Manifest{
		Dir:            dir,
		Watch:          f.Project.Watch,
		WatchSet:       meta.IsDefined("project", "watch"),
		MemoryLimit:    memoryLimit,
		MemoryLimitSet: meta.IsDefined("project", "memory_limit"),
		PageExtensions: f.Next.PageExtensions,
	}
	m.Root, err = resolveDir(dir, f.Project.Root)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: [project].root: %w", path, err)
	}
	m.Path = m.Root
	if strings.TrimSpace(f.Project.Path) != "" {
		m.Path, err = resolveDir(dir, f.Project.Path)
		if err != nil {
			return Manifest{}, fmt.Errorf("%s: [project].path: %w", path, err)
		}
	}
	return m, nil
}

// resolveDir resolves a manifest-relative directory.
func resolveDir(base, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return base, nil
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return filepath.Join(base, filepath.FromSlash(p)), nil
}
