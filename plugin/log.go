// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package plugin

import (
	"go.uber.org/zap"
)

var log = zap.S()

// UpdateLogger refreshes the package logger after the global zap
// logger has been replaced.
func UpdateLogger() {
	log = zap.S()
}
