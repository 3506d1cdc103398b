// Package version reports build information of tachyon binaries and checks
// that coordinators and workers speak the same task protocol.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
)

const (
	unknownValue     = "unknown"
	commitHashLength = 7
	semVerPartsCount = 3
	agentPrefix      = "tachyon/"
)

// Build-time variables set by ldflags
var (
	Version   = "dev"
	BuildDate = unknownValue
	GitCommit = unknownValue
	GoVersion = runtime.Version()
)

// BuildInfo contains build information of the running binary.
type BuildInfo struct {
	Version   string    `json:"version"`
	BuildDate string    `json:"build_date"`
	GitCommit string    `json:"git_commit"`
	GoVersion string    `json:"go_version"`
	BuildTime time.Time `json:"build_time"`
	Dirty     bool      `json:"dirty"`
	Module    string    `json:"module,omitempty"`
	Arrow     string    `json:"arrow,omitempty"`
}

// Info returns build information of the running binary.
func Info() BuildInfo {
	buildTime, _ := time.Parse(time.RFC3339, BuildDate)
	if buildTime.IsZero() {
		buildTime = time.Now()
	}

	info := BuildInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: GoVersion,
		BuildTime: buildTime,
		Dirty:     strings.HasSuffix(GitCommit, "-dirty"),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Module = bi.Main.Path
		for _, dep := range bi.Deps {
			if strings.HasPrefix(dep.Path, "github.com/apache/arrow-go/") {
				info.Arrow = dep.Version
			}
		}
	}
	return info
}

// String formats the build information for humans.
func (b BuildInfo) String() string {
	var sb strings.Builder
	sb.WriteString("tachyon\nVersion: " + b.Version)
	if b.Dirty {
		sb.WriteString(" (dirty)")
	}
	sb.WriteByte('\n')

	known := func(v string) bool { return v != "" && v != unknownValue }
	if known(b.BuildDate) {
		fmt.Fprintf(&sb, "Build Date: %s\n", b.BuildDate)
	}
	if known(b.GitCommit) {
		fmt.Fprintf(&sb, "Git Commit: %.*s\n", commitHashLength, b.GitCommit)
	}
	fmt.Fprintf(&sb, "Go Version: %s\n", b.GoVersion)
	if b.Arrow != "" {
		fmt.Fprintf(&sb, "Arrow: %s\n", b.Arrow)
	}
	return sb.String()
}

// UserAgent returns the user agent coordinators send to workers.
func UserAgent() string {
	return agentPrefix + Version
}

// ParseUserAgent extracts the version from a tachyon user agent.
func ParseUserAgent(agent string) (string, bool) {
	if !strings.HasPrefix(agent, agentPrefix) {
		return "", false
	}
	v := strings.TrimPrefix(agent, agentPrefix)
	return v, v != ""
}

// IsRelease reports whether Version is a release build.
func IsRelease() bool {
	s, err := ParseSemVer(Version)
	return err == nil && s.PreRelease == ""
}

// Compatible reports whether a peer running version other can exchange
// tasks with this binary. Versions sharing a major version are compatible;
// development builds and unparsable versions are trusted.
func Compatible(other string) bool {
	mine, err := ParseSemVer(Version)
	if err != nil {
		return true
	}
	theirs, err := ParseSemVer(other)
	if err != nil {
		return true
	}
	return mine.Major == theirs.Major
}

// SemVer represents semantic version components
type SemVer struct {
	Major      int
	Minor      int
	Patch      int
	PreRelease string
	Build      string
}

// ParseSemVer parses [v]MAJOR.MINOR.PATCH[-PRERELEASE][+BUILD].
func ParseSemVer(version string) (*SemVer, error) {
	if version == "" {
		return nil, fmt.Errorf("empty version")
	}

	var s SemVer
	core := strings.TrimPrefix(version, "v")
	core, s.Build, _ = strings.Cut(core, "+")
	core, s.PreRelease, _ = strings.Cut(core, "-")

	parts := strings.Split(core, ".")
	if len(parts) != semVerPartsCount {
		return nil, fmt.Errorf("version %q is not MAJOR.MINOR.PATCH", version)
	}
	fields := [...]*int{&s.Major, &s.Minor, &s.Patch}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("version %q: bad component %q", version, part)
		}
		*fields[i] = n
	}
	return &s, nil
}

func (s *SemVer) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.%d.%d", s.Major, s.Minor, s.Patch)
	if s.PreRelease != "" {
		sb.WriteString("-" + s.PreRelease)
	}
	if s.Build != "" {
		sb.WriteString("+" + s.Build)
	}
	return sb.String()
}

// Compare returns -1, 0 or 1 when s is older than, equal to or newer than
// other. Build metadata is ignored.
func (s *SemVer) Compare(other *SemVer) int {
	for _, d := range [...]int{s.Major - other.Major, s.Minor - other.Minor, s.Patch - other.Patch} {
		switch {
		case d > 0:
			return 1
		case d < 0:
			return -1
		}
	}

	switch {
	case s.PreRelease == other.PreRelease:
		return 0
	case s.PreRelease == "":
		return 1
	case other.PreRelease == "":
		return -1
	}
	return strings.Compare(s.PreRelease, other.PreRelease)
}
