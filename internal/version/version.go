// Package version exposes build metadata stamped in at link time:
//
//	go build -ldflags "-X github.com/leftbrainit/supasaasy/internal/version.Version=1.0.0 ..."
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version, "0.0.0-dev" for unstamped builds.
	Version = "0.0.0-dev"

	// Commit is the git commit SHA.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"

	// Dirty is "true" when the tree had uncommitted changes at build time.
	Dirty = "false"
)

// Info holds resolved version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Dirty     bool   `json:"dirty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build info for the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Dirty:     Dirty == "true",
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders the full human-readable version line.
func (i Info) String() string {
	dirty := ""
	if i.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s) built %s", i.Version, i.Commit, dirty, i.Date)
}

// Short returns just the version, with a -dirty suffix when applicable.
func (i Info) Short() string {
	if i.Dirty {
		return i.Version + "-dirty"
	}
	return i.Version
}
