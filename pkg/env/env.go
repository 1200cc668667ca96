package env

import (
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const unset = "unset"

// Overridden at build time with -ldflags "-X .../pkg/env.Version=v1.2.3".
// Falls back to VCS build info when unset.
var Version = unset

func ShortVersion() string {
	if Version != unset {
		return Version
	}
	return versioninfo.Short()
}

// UserAgent identifies a tool and its version to remote servers.
func UserAgent(tool string) string {
	return fmt.Sprintf("%s/%s", tool, ShortVersion())
}
