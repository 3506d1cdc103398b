package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setVersion(t *testing.T, v string) {
	t.Helper()
	original := Version
	Version = v
	t.Cleanup(func() { Version = original })
}

func TestInfo(t *testing.T) {
	info := Info()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotZero(t, info.BuildTime)
	assert.Contains(t, info.String(), "tachyon")
	assert.Contains(t, info.String(), "Go Version:")
}

func TestBuildInfoString(t *testing.T) {
	info := BuildInfo{
		Version:   "v1.0.0",
		BuildDate: "2024-01-01T00:00:00Z",
		GitCommit: "abc123def456",
		GoVersion: "go1.24.4",
		BuildTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Arrow:     "v18.3.1",
	}

	str := info.String()
	assert.Contains(t, str, "Version: v1.0.0\n")
	assert.Contains(t, str, "Build Date: 2024-01-01T00:00:00Z")
	assert.Contains(t, str, "Git Commit: abc123d\n")
	assert.Contains(t, str, "Go Version: go1.24.4")
	assert.Contains(t, str, "Arrow: v18.3.1")

	dirty := BuildInfo{Version: "v1.0.0", GitCommit: "abc-dirty", Dirty: true}
	assert.Contains(t, dirty.String(), "Version: v1.0.0 (dirty)")
	assert.NotContains(t, dirty.String(), "Build Date")
}

func TestUserAgent(t *testing.T) {
	setVersion(t, "v1.2.0")
	assert.Equal(t, "tachyon/v1.2.0", UserAgent())

	v, ok := ParseUserAgent(UserAgent())
	require.True(t, ok)
	assert.Equal(t, "v1.2.0", v)

	_, ok = ParseUserAgent("curl/8.0")
	assert.False(t, ok)
	_, ok = ParseUserAgent("tachyon/")
	assert.False(t, ok)
}

func TestIsRelease(t *testing.T) {
	tests := []struct {
		version  string
		expected bool
	}{
		{"v1.0.0", true},
		{"2.3.4", true},
		{"v1.0.0-rc.1", false},
		{"dev", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			setVersion(t, tt.version)
			assert.Equal(t, tt.expected, IsRelease())
		})
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		name     string
		mine     string
		other    string
		expected bool
	}{
		{"same", "v1.2.0", "v1.2.0", true},
		{"same major", "v1.2.0", "v1.9.3-beta", true},
		{"different major", "v1.2.0", "v2.0.0", false},
		{"dev binary", "dev", "v2.0.0", true},
		{"dev peer", "v1.0.0", "dev", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setVersion(t, tt.mine)
			assert.Equal(t, tt.expected, Compatible(tt.other))
		})
	}
}

func TestParseSemVer(t *testing.T) {
	tests := []struct {
		input    string
		expected *SemVer
		wantErr  bool
	}{
		{"1.0.0", &SemVer{Major: 1}, false},
		{"v2.1.3-alpha.1", &SemVer{Major: 2, Minor: 1, Patch: 3, PreRelease: "alpha.1"}, false},
		{"1.0.0+build.1", &SemVer{Major: 1, Build: "build.1"}, false},
		{"v1.2.3-rc.1+sha.abc", &SemVer{Major: 1, Minor: 2, Patch: 3, PreRelease: "rc.1", Build: "sha.abc"}, false},
		{"", nil, true},
		{"1.0", nil, true},
		{"x.0.0", nil, true},
		{"dev", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSemVer(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func TestSemVerCompare(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0", "1.1.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0.0", "1.0.0-rc.1", 1},
		{"1.0.0-alpha", "1.0.0", -1},
		{"1.0.0-alpha", "1.0.0-beta", -1},
		{"1.0.0+a", "1.0.0+b", 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, mustParse(t, tt.a).Compare(mustParse(t, tt.b)))
		})
	}
}

func mustParse(t *testing.T, s string) *SemVer {
	t.Helper()
	v, err := ParseSemVer(s)
	require.NoError(t, err)
	return v
}
