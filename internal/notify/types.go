// Package notify implements the notification channels and the async
// dispatch pipeline that delivers new-availability events.
//
// Channels are capability interfaces selected once at startup. The dedup
// decision (which event is new) belongs to the scheduler; channels only
// carry configuration presence and wire delivery.
package notify

import "context"

// Event is one new-availability finding routed to one channel (and, for
// recipient-scoped channels, one recipient).
type Event struct {
	Office    string
	OfficeURL string
	Signature string

	// Recipient is set for per-recipient channels (email). Empty means
	// the channel's own target (webhook URL, chat ID, test number).
	Recipient string
}

// Channel is one notification sink. A channel that is not configured
// (missing credentials) is silently skipped, never an error.
type Channel interface {
	// Name identifies the channel in logs and dedup-key namespaces.
	Name() string
	// Configured reports whether the required secrets are present.
	Configured() bool
	// Send delivers one event. Transport errors are returned for the
	// dispatcher to log and retry; they must not affect stored state.
	Send(ctx context.Context, ev Event) error
}

// Dedup key namespaces per channel. The discord broadcast intentionally
// uses the raw signature (single shared target, and it keeps old state
// files valid); every other channel prefixes its tag so each channel
// decides freshness independently.
const (
	TagTelegram = "TG"
	TagSMS      = "SMS"
	TagEmail    = "EMAIL"
)
