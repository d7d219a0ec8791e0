// Package version reports build metadata injected with -ldflags "-X agrimarket/pkg/version.version=...".
package version

import "fmt"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Version returns the release name.
func Version() string {
	return version
}

// String renders version, commit and build date on one line.
func String() string {
	return fmt.Sprintf("agrimarket %s (commit %s, built %s)", version, commit, date)
}
