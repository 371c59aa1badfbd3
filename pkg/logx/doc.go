// Package logx wraps zerolog behind a small value-type Logger.
//
// The zero Logger is a no-op, so components can hold one unconditionally.
// Use With() to derive component-tagged loggers:
//
//	log := root.With(logx.String("comp", "scheduler"))
package logx
