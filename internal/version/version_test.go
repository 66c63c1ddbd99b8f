package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noBuildInfo() (*debug.BuildInfo, bool) { return nil, false }

func TestResolveFromLdflags(t *testing.T) {
	Version, Commit, BuildTime = "v1.2.3", "0123456789abcdef", "2026-01-02T03:04:05Z"
	t.Cleanup(func() { Version, Commit, BuildTime = "", "", "" })

	info := resolve(noBuildInfo)
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "v1.2.3 (0123456789ab)", info.String())
}

func TestResolveFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Main:      debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-10-01T00:00:00Z"},
		},
	}
	info := resolve(func() (*debug.BuildInfo, bool) { return bi, true })
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "2026-10-01T00:00:00Z", info.Version, "build time stands in for a devel version")
	assert.Equal(t, "go1.26.0", info.GoVersion)
}

func TestResolveFallsBackToTimestamp(t *testing.T) {
	info := resolve(noBuildInfo)
	assert.Len(t, info.Version, len("20060102T150405Z"))
	assert.Equal(t, info.Version, info.String())
}
