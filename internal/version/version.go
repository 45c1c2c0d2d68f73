// Package version returns details on the running build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Info provides details on the current version and build environment.
type Info struct {
	VCSCommit  string `json:"vcsCommit,omitempty"`
	VCSDate    string `json:"vcsDate,omitempty"`
	VCSRef     string `json:"vcsRef,omitempty"`
	VCSState   string `json:"vcsState,omitempty"`
	Platform   string `json:"platform,omitempty"`
	GoVer      string `json:"goVer,omitempty"`
	GoCompiler string `json:"goCompiler,omitempty"`
}

// GetInfo returns the available build details.
func GetInfo() Info {
	i := Info{
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVer:      runtime.Version(),
		GoCompiler: runtime.Compiler,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return i
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			i.VCSCommit = s.Value
			i.VCSRef = s.Value
		case "vcs.time":
			i.VCSDate = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				i.VCSState = "dirty"
				i.VCSRef += "-dirty"
			} else {
				i.VCSState = "clean"
			}
		}
	}
	return i
}
