// Package version carries build metadata set through -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return fmt.Sprintf("gpool %s (commit %s, built %s)", Version, Commit, Date)
}
