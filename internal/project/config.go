package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config describes a project to open. It is not modified after Open.
type Config struct {
	// RootPath bounds every file the project may read.
	RootPath string
	// ProjectPath is the Next.js project directory; it must lie within RootPath.
	ProjectPath string
	// Watch enables file watching while subscriptions are active.
	Watch bool
	// NextConfig is the serialized next.config as JSON. Empty means "{}".
	NextConfig string
	// MemoryLimit caps cached file contents in bytes; nil means the default.
	MemoryLimit *uint64
}

// NextConfig is the subset of next.config routekit reads.
type NextConfig struct {
	PageExtensions []string `json:"pageExtensions"`
}

// InitializationError reports an invalid project configuration.
type InitializationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InitializationError) Error() string {
	msg := "invalid project config: " + e.Field + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InitializationError) Unwrap() error { return e.Err }

// validate checks cfg and returns the absolute root and project paths and
// the decoded next config.
func (cfg Config) validate() (root, proj string, next NextConfig, err error) {
	if strings.TrimSpace(cfg.RootPath) == "" {
		return "", "", next, &InitializationError{Field: "rootPath", Reason: "required"}
	}
	if strings.TrimSpace(cfg.ProjectPath) == "" {
		return "", "", next, &InitializationError{Field: "projectPath", Reason: "required"}
	}
	root, err = filepath.Abs(cfg.RootPath)
	if err != nil {
		return "", "", next, &InitializationError{Field: "rootPath", Reason: "cannot resolve", Err: err}
	}
	proj, err = filepath.Abs(cfg.ProjectPath)
	if err != nil {
		return "", "", next, &InitializationError{Field: "projectPath", Reason: "cannot resolve", Err: err}
	}
	if !pathWithin(root, proj) {
		return "", "", next, &InitializationError{
			Field:  "projectPath",
			Reason: fmt.Sprintf("%s is not inside root %s", proj, root),
		}
	}
	info, statErr := os.Stat(proj)
	if statErr != nil {
		return "", "", next, &InitializationError{Field: "projectPath", Reason: "not accessible", Err: statErr}
	}
	if !info.IsDir() {
		return "", "", next, &InitializationError{Field: "projectPath", Reason: "not a directory"}
	}
	if cfg.MemoryLimit != nil && *cfg.MemoryLimit == 0 {
		return "", "", next, &InitializationError{Field: "memoryLimit", Reason: "must be positive"}
	}
	blob := strings.TrimSpace(cfg.NextConfig)
	if blob == "" {
		blob = "{}"
	}
	if err := json.Unmarshal([]byte(blob), &next); err != nil {
		return "", "", next, &InitializationError{Field: "nextConfig", Reason: "invalid JSON", Err: err}
	}
	for _, ext := range next.PageExtensions {
		if strings.TrimSpace(strings.TrimPrefix(ext, ".")) == "" {
			return "", "", next, &InitializationError{Field: "nextConfig", Reason: "empty page extension"}
		}
	}
	return root, proj, next, nil
}
