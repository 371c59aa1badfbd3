package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"dmvwatch/internal/envutil"
)

// Discord posts rich embeds to a single shared webhook (broadcast-style).
type Discord struct {
	webhookURL string
	client     *resty.Client
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	URL         string `json:"url,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func NewDiscord(webhookEnv string) *Discord {
	return &Discord{
		webhookURL: envutil.String(webhookEnv),
		client:     resty.New().SetTimeout(15 * time.Second),
	}
}

func (d *Discord) Name() string     { return "discord" }
func (d *Discord) Configured() bool { return d.webhookURL != "" }

func (d *Discord) Send(ctx context.Context, ev Event) error {
	if !d.Configured() {
		return nil
	}
	payload := discordPayload{Embeds: []discordEmbed{{
		Title:       "NC DMV availability at " + ev.Office,
		Description: "New slot detected: " + ev.Signature,
		Type:        "rich",
		URL:         ev.OfficeURL,
	}}}

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(d.webhookURL)
	if err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("discord webhook status %d", code)
	}
	return nil
}
