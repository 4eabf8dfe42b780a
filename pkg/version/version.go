// Package version reports the amanrank build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version, Commit and Date are stamped with ldflags by release builds:
//
//	-X github.com/Aman-CERP/amanrank/pkg/version.Version=$(VERSION)
//
// Commit and Date fall back to the VCS stamps of `go build` when unset.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is the JSON form of `amanrank version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	infoOnce sync.Once
	info     BuildInfo
)

// GetInfo returns the build description. It is computed once.
func GetInfo() BuildInfo {
	infoOnce.Do(func() {
		info = BuildInfo{
			Version:   Version,
			Commit:    Commit,
			Date:      Date,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
		}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "unknown" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "unknown" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	})
	return info
}

// String is the one-line form printed by `amanrank version`.
func String() string {
	bi := GetInfo()
	commit := bi.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if bi.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("amanrank %s (commit: %s, built: %s, %s %s/%s)",
		bi.Version, commit, bi.Date, bi.GoVersion, bi.OS, bi.Arch)
}

// Short returns the bare version.
func Short() string {
	return Version
}
