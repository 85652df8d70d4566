// Package version reports build information injected via ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X .../version.Version=v1.2.3" and friends.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s, built %s, %s)", i.Version, shortCommit(i.Commit), i.BuildTime, i.GoVersion)
}

// UserAgent identifies a component of this build to remote peers.
func UserAgent(component string) string {
	return "portfolio-live-" + component + "/" + Version
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
