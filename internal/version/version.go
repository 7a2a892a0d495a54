// Package version holds build metadata stamped in with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String renders the version block printed by each binary's version command.
func String(binary string) string {
	return fmt.Sprintf("%s %s\n  commit:     %s\n  built:      %s\n  go version: %s\n",
		binary, Version, GitCommit, BuildTime, runtime.Version())
}
