package recovery

import (
	"runtime/debug"

	"github.com/shellmux/shellmux/internal/logger"
)

// SafeGo runs fn in a goroutine that logs panics instead of crashing the
// server. Every background loop (pumps, the sweeper) starts through here.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("🚨 PANIC recovered in goroutine '%s': %v", name, r)
				logger.Errorf("Stack trace:\n%s", debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithCleanup is SafeGo with a cleanup hook that runs after fn
// finishes, panic or not. Session pumps rely on this to signal completion.
func SafeGoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("🚨 PANIC recovered in goroutine '%s': %v", name, r)
				logger.Errorf("Stack trace:\n%s", debug.Stack())
			}
			if cleanup != nil {
				cleanup()
			}
		}()
		fn()
	}()
}
