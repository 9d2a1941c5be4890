package build

import (
	"fmt"
	"runtime"
)

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	// appPreRelease is appended to the semver string (following a dash)
	// to mark pre-release builds. It is empty for tagged releases.
	appPreRelease = "beta"
)

var (
	// Commit stores the specific commit hash, set via:
	// -ldflags "-X github.com/caflabs/substrate/internal/build.Commit=..."
	Commit string

	// CommitHash is the full hash of the commit this binary was built
	// from, populated the same way as Commit when the tagged release
	// process doesn't set a friendlier Commit string.
	CommitHash string

	// GoVersion holds the Go runtime version substrated was compiled
	// with.
	GoVersion = runtime.Version()

	// RawTags holds the comma-separated build tags passed at compile
	// time, set via -ldflags the same way as Commit.
	RawTags string
)

// Version returns the application's semantic version, following
// major.minor.patch[-prerelease] semver.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, appPreRelease)
	}
	return version
}

// Tags returns the list of build tags RawTags was set with.
func Tags() []string {
	if RawTags == "" {
		return nil
	}

	var tags []string
	start := 0
	for i := 0; i < len(RawTags); i++ {
		if RawTags[i] == ',' {
			tags = append(tags, RawTags[start:i])
			start = i + 1
		}
	}
	tags = append(tags, RawTags[start:])
	return tags
}
