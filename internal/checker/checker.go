// Package checker implements the probe strategies behind the availability
// watcher. The scheduler consumes probes only through the Checker contract:
// a stable signature-string convention is the sole requirement, so the
// heuristic page scan and the model-backed agent are interchangeable.
package checker

import (
	"fmt"

	"dmvwatch/pkg/logx"
)

// Options carries the strategy-opaque knobs from configuration.
type Options struct {
	// Headless is accepted for parity with browser-driven probes; the
	// bundled strategies ignore it.
	Headless bool
}

// New selects a probe strategy by name. An unknown selector is a fatal
// configuration error, surfaced before any polling starts.
func New(kind string, opts Options, log logx.Logger) (Checker, error) {
	switch kind {
	case "http":
		return NewHTTP(opts, log), nil
	case "agent":
		return NewAgent(opts, log)
	default:
		return nil, fmt.Errorf("unknown checker type: %q", kind)
	}
}
