// safego.go — panic-recovering goroutine launcher, so a single
// misbehaving background task never crashes the process.
package util

import (
	"runtime/debug"

	"github.com/aegisflow/aegis/pkg/logger"
)

// SafeGo runs fn in a new goroutine, recovering any panic and logging
// it with a stack trace instead of crashing the process.
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					logger.FieldError, r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
