// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package repo

import "fmt"

const (
	Major = 0
	Minor = 2
	Patch = 0
)

// VersionString returns the software version as a string.
func VersionString() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}
