// Package version carries build metadata injected with -ldflags.
package version

import "runtime"

// Name is the binary name reported by String.
const Name = "griprig"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the one-line version banner.
func String() string {
	return Name + " " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}
