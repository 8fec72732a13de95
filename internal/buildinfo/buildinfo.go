// Package buildinfo carries the release stamped into boostd and boostctl.
package buildinfo

import (
	"fmt"
	"runtime"
)

// These values are overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the full build for --version output.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s go=%s", Version, Commit, Date, runtime.Version())
}

// Short is the version reported by the control API: the release plus an
// abbreviated commit when one was stamped.
func Short() string {
	commit := Commit
	if commit == "" || commit == "none" {
		return Version
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return Version + "+" + commit
}
