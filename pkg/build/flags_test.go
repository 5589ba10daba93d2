// SPDX-License-Identifier: MIT
package build

import (
	"os"
	"strings"
	"testing"
)

var (
	origName    string
	origTime    string
	origCommit  string
	origVersion string
	origFlags   Info
)

func TestMain(m *testing.M) {
	origName = buildName
	origTime = buildTime
	origCommit = buildCommit
	origVersion = buildVersion
	origFlags = *buildFlags

	exitCode := m.Run()

	buildName = origName
	buildTime = origTime
	buildCommit = origCommit
	buildVersion = origVersion
	*buildFlags = origFlags

	os.Exit(exitCode)
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantErrMsg  []string
		want        Info
	}{
		{
			"Missing BuildName",
			"",
			"2025-04-13",
			"abcdef123",
			"v1.0.0",
			[]string{"BuildName is required"},
			Info{Name: "omx", Time: "2025-04-13", Commit: "abcdef123", Version: "v1.0.0"},
		},
		{
			"Missing BuildCommit and BuildVersion",
			"testapp",
			"2025-04-13",
			"",
			"",
			[]string{"BuildCommit is required", "BuildVersion is required"},
			Info{Name: "testapp", Time: "2025-04-13", Commit: "unknown", Version: "unknown"},
		},
		{
			"Development build",
			"",
			"",
			"",
			"",
			[]string{"BuildName", "BuildTime", "BuildCommit", "BuildVersion"},
			Info{Name: "omx", Time: "unknown", Commit: "unknown", Version: "unknown"},
		},
		{
			"Success Case",
			"testapp",
			"2025-04-13",
			"abcdef123",
			"v1.0.0",
			nil,
			Info{Name: "testapp", Time: "2025-04-13", Commit: "abcdef123", Version: "v1.0.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buildFlags = defaultInfo()
			buildName = tt.buildName
			buildTime = tt.buildTime
			buildCommit = tt.buildCommit
			buildVersion = tt.buildVer

			err := Initialize()

			if len(tt.wantErrMsg) == 0 {
				if err != nil {
					t.Errorf("Initialize() unexpected error: %v", err)
				}
			} else if err == nil {
				t.Errorf("Initialize() expected error, got nil")
			} else {
				for _, msg := range tt.wantErrMsg {
					if !strings.Contains(err.Error(), msg) {
						t.Errorf("Initialize() error = %v, want it to mention %q", err, msg)
					}
				}
			}

			if *buildFlags != tt.want {
				t.Errorf("buildFlags = %+v, want %+v", *buildFlags, tt.want)
			}
		})
	}
}

func TestGetBuildFlags(t *testing.T) {
	expected := Info{
		Name:    "testapp",
		Time:    "2025-04-13",
		Commit:  "abcdef123",
		Version: "v1.0.0",
	}
	buildFlags = &expected

	flags := GetBuildFlags()
	if *flags != expected {
		t.Errorf("GetBuildFlags() = %+v, want %+v", flags, expected)
	}
	if got, want := flags.String(), "testapp v1.0.0 (commit abcdef123, built 2025-04-13)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
