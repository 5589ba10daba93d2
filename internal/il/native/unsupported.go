//go:build !((linux || darwin) && (amd64 || arm64))

// SPDX-License-Identifier: MIT
package native

import (
	"errors"
	"runtime"

	"omx/internal/il"
)

// Load reports that native IL cores cannot be loaded on this platform.
func Load(path string) (il.Library, error) {
	return nil, errors.New("native: IL cores are not supported on " + runtime.GOOS + "/" + runtime.GOARCH)
}
