package notify

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"dmvwatch/internal/envutil"
)

// SMS sends through Twilio to a single configured test number. It exists as
// an operator smoke channel, not a fan-out channel, so its dedup keys are
// namespaced but not recipient-scoped.
type SMS struct {
	accountSID string
	authToken  string
	fromNumber string
	testToEnv  string

	client *twilio.RestClient
}

func NewSMS(accountSIDEnv, authTokenEnv, fromNumberEnv, testToEnv string) *SMS {
	s := &SMS{
		accountSID: envutil.String(accountSIDEnv),
		authToken:  envutil.String(authTokenEnv),
		fromNumber: envutil.String(fromNumberEnv),
		testToEnv:  testToEnv,
	}
	if s.Configured() {
		s.client = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: s.accountSID,
			Password: s.authToken,
		})
	}
	return s
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) Configured() bool {
	return s.accountSID != "" && s.authToken != "" && s.fromNumber != ""
}

func (s *SMS) Send(ctx context.Context, ev Event) error {
	if !s.Configured() {
		return nil
	}
	_ = ctx // twilio-go requests carry their own HTTP timeouts

	to := ev.Recipient
	if to == "" {
		to = envutil.String(s.testToEnv)
	}
	if to == "" {
		// No destination configured: silent no-op, matching the
		// is-configured contract of the other channels.
		return nil
	}

	body := "NC DMV availability at " + ev.Office + ": " + ev.Signature
	if ev.OfficeURL != "" {
		body += "\n" + ev.OfficeURL
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.fromNumber)
	params.SetBody(body)

	if s.client == nil {
		return errors.New("sms client not initialized")
	}
	_, err := s.client.Api.CreateMessage(params)
	return err
}
