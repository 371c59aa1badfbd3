package scheduler

import (
	"errors"

	"dmvwatch/internal/checker"
	"dmvwatch/internal/envutil"
	"dmvwatch/internal/notify"
	"dmvwatch/pkg/logx"
)

// fallbackSignature stands in when a probe reports availability without
// itemized slots, so the finding still gets exactly one dedup entry.
const fallbackSignature = "AVAILABLE"

var (
	ErrChannelDisabled      = errors.New("channel disabled")
	ErrChannelNotConfigured = errors.New("channel not configured")
	ErrNoTestRecipient      = errors.New("test recipient not configured")
)

// handleResult runs the notification decision procedure for one probe
// result. Mark-seen happens synchronously here; the actual sends are
// queued on the dispatcher and not awaited by the iteration.
func (s *Scheduler) handleResult(res checker.Result) {
	office := res.Office.Name
	sigs := res.Signatures()

	if !res.Available {
		s.log.Debug("no availability", logx.String("office", office))
		return
	}

	samples := sigs
	if len(samples) > sampleCap {
		samples = samples[:sampleCap]
	}
	s.log.Info("slots detected",
		logx.String("office", office),
		logx.Int("count", len(sigs)),
		logx.Any("samples", samples))

	if !s.notificationsEnabled {
		return
	}

	if len(sigs) == 0 {
		sigs = []string{fallbackSignature}
	}

	n := s.currentNotifiers()
	ev := notify.Event{Office: office, OfficeURL: res.Office.URL}

	// Broadcast webhook: raw signature, single shared target.
	if n.Discord.IsEnabled() && ready(s.channels.Discord) {
		for _, sig := range sigs {
			s.decideAndDispatch(s.channels.Discord, office, sig, eventWith(ev, sig, ""))
		}
	}

	// Telegram broadcast: own namespace so it decides freshness
	// independently of the webhook for the identical signature.
	if n.Telegram.Enabled && ready(s.channels.Telegram) {
		for _, sig := range sigs {
			key := notify.TagTelegram + "|" + sig
			s.decideAndDispatch(s.channels.Telegram, office, key, eventWith(ev, sig, ""))
		}
	}

	// SMS test channel: namespaced, single configured recipient.
	if n.SMS.Enabled && ready(s.channels.SMS) {
		for _, sig := range sigs {
			key := notify.TagSMS + "|" + sig
			s.decideAndDispatch(s.channels.SMS, office, key, eventWith(ev, sig, ""))
		}
	}

	// Email fan-out: one decision per (recipient, signature) so every
	// subscriber independently gets exactly one notification per slot
	// per TTL window.
	if n.Email.Enabled && ready(s.channels.Email) {
		recipients := s.subs.EmailsFor(office)
		if len(recipients) == 0 {
			if fallback := envutil.String(n.Email.TestToEnv); fallback != "" {
				recipients = []string{fallback}
			}
		}
		for _, r := range recipients {
			for _, sig := range sigs {
				key := notify.TagEmail + "|" + r + "|" + sig
				s.decideAndDispatch(s.channels.Email, office, key, eventWith(ev, sig, r))
			}
		}
	}
}

// decideAndDispatch is the at-most-once gate: mark first, then enqueue.
// A failed enqueue (queue full) is logged and the key stays marked, so the
// guarantee degrades to a missed send rather than a duplicate.
func (s *Scheduler) decideAndDispatch(ch notify.Channel, office, key string, ev notify.Event) {
	if s.seen.WasSeen(office, key) {
		return
	}
	if err := s.seen.MarkSeen(office, key); err != nil {
		s.log.Warn("mark seen failed", logx.String("office", office), logx.Err(err))
	}
	if err := s.disp.Enqueue(ch, ev); err != nil {
		s.log.Warn("dispatch enqueue failed",
			logx.String("channel", ch.Name()),
			logx.String("office", office),
			logx.Err(err))
	}
}

func eventWith(base notify.Event, sig, recipient string) notify.Event {
	base.Signature = sig
	base.Recipient = recipient
	return base
}

func ready(ch notify.Channel) bool {
	return ch != nil && ch.Configured()
}

// SendTestSMS queues an operator-triggered test message on the SMS channel.
func (s *Scheduler) SendTestSMS() error {
	n := s.currentNotifiers()
	if !n.SMS.Enabled {
		return ErrChannelDisabled
	}
	if !ready(s.channels.SMS) {
		return ErrChannelNotConfigured
	}
	return s.disp.Enqueue(s.channels.SMS, notify.Event{
		Office:    "TEST",
		Signature: "Test message from dmvwatch",
	})
}

// SendTestEmail queues an operator-triggered test message to the
// configured test recipient.
func (s *Scheduler) SendTestEmail() error {
	n := s.currentNotifiers()
	if !n.Email.Enabled {
		return ErrChannelDisabled
	}
	if !ready(s.channels.Email) {
		return ErrChannelNotConfigured
	}
	to := envutil.String(n.Email.TestToEnv)
	if to == "" {
		return ErrNoTestRecipient
	}
	return s.disp.Enqueue(s.channels.Email, notify.Event{
		Office:    "TEST",
		Signature: "Test email from dmvwatch",
		Recipient: to,
	})
}
