// Package logging holds the process-wide fallback logger. Components built
// without an explicit logger option take a named child of it.
package logging

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var base atomic.Pointer[zap.Logger]

// Base returns the fallback logger, a no-op until SetBase is called.
func Base() *zap.Logger {
	if l := base.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// SetBase replaces the fallback logger. Components already constructed keep
// the logger they took; nil restores the no-op default.
func SetBase(l *zap.Logger) {
	base.Store(l)
}

// For returns the fallback logger named after a component.
func For(component string) *zap.Logger {
	return Base().Named(component)
}
