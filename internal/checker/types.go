package checker

import (
	"context"
	"strings"
)

// Office is a named remote resource whose availability is polled.
// Created from static configuration or discovery; immutable during a run.
type Office struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Slot is one distinct availability finding on an office page.
type Slot struct {
	Label string
	Date  string
	Time  string
}

// Signature derives the opaque dedup string for this slot. Two probes that
// observe the same real-world slot must produce the same signature.
func (s Slot) Signature() string {
	return s.Date + "|" + s.Time + "|" + s.Label
}

// Result is produced once per probe invocation and consumed immediately;
// only a capped summary is retained for presentation.
type Result struct {
	Office    Office
	Available bool
	Slots     []Slot
	// Raw holds capped diagnostic text from the probe (may be empty).
	Raw string
}

// Signatures returns the ordered slot signatures.
func (r Result) Signatures() []string {
	out := make([]string, 0, len(r.Slots))
	for _, s := range r.Slots {
		out = append(out, s.Signature())
	}
	return out
}

// Checker probes one office for availability. Implementations may take
// seconds to tens of seconds and must scope failures to the given office.
type Checker interface {
	Check(ctx context.Context, office Office) (Result, error)
}

// noAppointmentsMarker suppresses false positives on pages that render a
// time-like string next to an explicit "no appointments" notice.
const noAppointmentsMarker = "no appointments"

func hasNoAppointmentsMarker(text string) bool {
	return strings.Contains(strings.ToLower(text), noAppointmentsMarker)
}
