package buildinfo

import "fmt"

// Set via -ldflags at build time, for example:
//
//	-X 'github.com/m3rciful/ridesbot/core/buildinfo.Version=v0.3.0'
//	-X 'github.com/m3rciful/ridesbot/core/buildinfo.Commit=1f2e3d4'
//	-X 'github.com/m3rciful/ridesbot/core/buildinfo.Date=2026-10-01T09:00:00Z'
var (
	// Version reports the release tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// Summary renders a compact one-line description used in startup logs and /start.
func Summary() string {
	if Date == "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, Date)
}
