// Package envutil provides environment variable parsing helpers shared
// across components. Secrets are always sourced from the environment; the
// config document only carries the variable names.
package envutil

import (
	"os"
	"strings"
)

// String returns the trimmed value of the named variable ("" if unset).
func String(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Bool parses a boolean variable with a default.
// Accepts true/1/yes/on and false/0/no/off (case-insensitive).
// Invalid values return the default.
func Bool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "":
		return def
	case "true", "1", "yes", "on", "y":
		return true
	case "false", "0", "no", "off", "n":
		return false
	default:
		return def
	}
}

// BoolIfSet reports the parsed value and whether the variable was set at all.
// Used for overrides that should leave the config untouched when absent.
func BoolIfSet(key string) (value, set bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on", "y":
		return true, true
	case "false", "0", "no", "off", "n":
		return false, true
	default:
		return false, false
	}
}
