package checker

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"dmvwatch/pkg/logx"
)

const (
	fetchTimeout   = 30 * time.Second
	fetchRetries   = 3
	fetchWait      = 2 * time.Second
	rawSnapshotCap = 4000
	labelCap       = 120
)

var (
	timePattern = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s?(AM|PM)\b`)
	datePattern = regexp.MustCompile(`(?i)\b(Mon|Tue|Wed|Thu|Fri|Sat|Sun)\b.*?\b(\d{1,2}/\d{1,2}/\d{2,4}|\w+\s+\d{1,2},\s*\d{4})`)

	scriptBlock = regexp.MustCompile(`(?is)<(script|style|noscript)\b.*?</(script|style|noscript)>`)
	tagPattern  = regexp.MustCompile(`<[^>]*>`)
)

// HTTP is the heuristic content probe: fetch the office page, flatten it to
// text, and scan for time-of-day patterns that look like bookable slots.
type HTTP struct {
	client *resty.Client
	log    logx.Logger
}

func NewHTTP(opts Options, log logx.Logger) *HTTP {
	_ = opts
	client := resty.New().
		SetTimeout(fetchTimeout).
		SetRetryCount(fetchRetries - 1).
		SetRetryWaitTime(fetchWait).
		SetRetryMaxWaitTime(fetchWait).
		SetHeader("User-Agent", "dmvwatch/1.0")
	return &HTTP{client: client, log: log}
}

func (h *HTTP) Check(ctx context.Context, office Office) (Result, error) {
	// Offices without a URL produce an empty verdict rather than an error:
	// the office stays visible in results with no availability.
	if strings.TrimSpace(office.URL) == "" {
		return Result{Office: office}, nil
	}

	text, err := fetchPageText(ctx, h.client, office.URL)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", office.Name, err)
	}

	slots := extractSlots(text)
	available := len(slots) > 0 && !hasNoAppointmentsMarker(text)

	raw := text
	if len(raw) > rawSnapshotCap {
		raw = raw[:rawSnapshotCap]
	}
	return Result{
		Office:    office,
		Available: available,
		Slots:     slots,
		Raw:       raw,
	}, nil
}

// fetchPageText GETs the URL and flattens the HTML to line-structured text.
func fetchPageText(ctx context.Context, client *resty.Client, url string) (string, error) {
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", err
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return "", fmt.Errorf("http status %d", code)
	}
	return htmlToText(string(resp.Body())), nil
}

// htmlToText strips script/style blocks and markup, keeping rough line
// structure so slot labels can be assembled from nearby lines.
func htmlToText(body string) string {
	body = scriptBlock.ReplaceAllString(body, "\n")
	body = tagPattern.ReplaceAllString(body, "\n")
	body = html.UnescapeString(body)

	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// extractSlots finds time-of-day patterns and assembles a label from the
// surrounding lines, mirroring what a human sees around a bookable time.
func extractSlots(text string) []Slot {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var slots []Slot
	for idx, line := range lines {
		tm := timePattern.FindString(line)
		if tm == "" {
			continue
		}

		lo := idx - 2
		if lo < 0 {
			lo = 0
		}
		hi := idx + 3
		if hi > len(lines) {
			hi = len(lines)
		}
		window := strings.Join(lines[lo:hi], " ")

		label := strings.TrimSpace(window)
		if len(label) > labelCap {
			label = label[:labelCap]
		}

		slots = append(slots, Slot{
			Label: label,
			Date:  datePattern.FindString(window),
			Time:  tm,
		})
	}
	return slots
}
