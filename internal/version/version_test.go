package version

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withVars(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	oldVersion, oldCommit, oldTime := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, buildTime
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = oldVersion, oldCommit, oldTime
	})
}

func TestLinkerVariables(t *testing.T) {
	withVars(t, "v1.2.3", "0123456789abcdef", "2025-03-04T05:06:07Z")

	assert.Equal(t, "v1.2.3", GetVersion())
	assert.Equal(t, "0123456789abcdef", GetGitCommit())
	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())
	assert.True(t, IsRelease())

	info := GetBuildInfo()
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), info.BuildTime)

	detailed := GetDetailedVersion()
	assert.Contains(t, detailed, "Version: v1.2.3")
	assert.Contains(t, detailed, "Commit: 0123456789abcdef")
	assert.Contains(t, detailed, "Built: 2025-03-04T05:06:07Z")
}

func TestDevBuild(t *testing.T) {
	withVars(t, "dev", "unknown", "unknown")

	v := GetVersion()
	assert.True(t, v == "dev" || strings.HasPrefix(v, "dev-") || strings.HasPrefix(v, "v"), v)
	assert.True(t, GetBuildInfo().BuildTime.IsZero())
	assert.NotContains(t, GetDetailedVersion(), "Built:")
}

func TestParseISOTime(t *testing.T) {
	tests := []struct {
		in   string
		zero bool
	}{
		{"2025-01-02T03:04:05Z", false},
		{"2025-01-02T03:04:05", false},
		{"2025-01-02 03:04:05", false},
		{"yesterday", true},
		{"unknown", true},
		{"", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.zero, parseISOTime(tt.in).IsZero(), tt.in)
	}
}

func TestToolchain(t *testing.T) {
	_, err := Toolchain(context.Background(), "gcc")
	assert.Error(t, err)

	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}
	out, err := Toolchain(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "go version "), out)
}
