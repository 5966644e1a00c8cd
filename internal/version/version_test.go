package version

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestCurrentTrimsAndDefaults(t *testing.T) {
	orig, origCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = orig, origCommit })

	Version, GitCommit = "  ", " abc123 "
	info := Current()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "abc123", info.GitCommit)
}

func TestColoredWithoutColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	assert.Equal(t, "1.2.3-rc1", Colored("1.2.3-rc1"))
	assert.Equal(t, "dev", Colored("dev"))
}
