// SPDX-License-Identifier: MIT
//
// Package build carries the version metadata linked into the omx binary:
//
//	go build -ldflags "-X omx/pkg/build.buildName=omx \
//	    -X omx/pkg/build.buildVersion=0.1.0 \
//	    -X omx/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	    -X omx/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Development builds run without the flags and report "unknown".
package build

import (
	"errors"
	"fmt"
)

// Info is the build metadata of the running binary.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaultInfo()
)

func defaultInfo() *Info {
	return &Info{
		Name:    "omx",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "unknown",
	}
}

// Initialize copies the linked flags into the build information. Flags
// that were not linked keep their defaults and are reported together in
// the returned error.
func Initialize() error {
	var missing []error
	set := func(dst *string, v, name string) {
		if v == "" {
			missing = append(missing, fmt.Errorf("%s is required", name))
			return
		}
		*dst = v
	}
	set(&buildFlags.Name, buildName, "BuildName")
	set(&buildFlags.Time, buildTime, "BuildTime")
	set(&buildFlags.Commit, buildCommit, "BuildCommit")
	set(&buildFlags.Version, buildVersion, "BuildVersion")
	return errors.Join(missing...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildFlags
}
