// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package ccdbg

import (
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

const MaxLogLevel = logrus.DebugLevel

func init() {
	logger = logrus.New()
}

// SetLogger replaces the package-level logger used by every core
// operation. Useful for routing wire-level traces into a CLI's own
// formatter, or silencing the library entirely.
func SetLogger(loggerInstance *logrus.Logger) {
	logger = loggerInstance
}
