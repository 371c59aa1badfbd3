package checker

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"dmvwatch/pkg/logx"
)

// locationAnchor matches booking-site location cards, e.g.
// <a href="...#/location/123">Raleigh West</a>.
var locationAnchor = regexp.MustCompile(`(?is)<a[^>]+href="([^"]*#/location/[^"]*)"[^>]*>(.*?)</a>`)

// Discoverer scrapes the booking site root for office names and URLs.
type Discoverer struct {
	base   string
	client *resty.Client
	log    logx.Logger
}

func NewDiscoverer(baseURL string, log logx.Logger) *Discoverer {
	client := resty.New().
		SetTimeout(fetchTimeout).
		SetRetryCount(fetchRetries - 1).
		SetRetryWaitTime(fetchWait).
		SetHeader("User-Agent", "dmvwatch/1.0")
	return &Discoverer{base: baseURL, client: client, log: log}
}

// Discover returns discovered offices sorted by name. Best-effort: a page
// without recognizable location links yields an empty (non-nil) slice.
func (d *Discoverer) Discover(ctx context.Context) ([]Office, error) {
	start := time.Now()
	resp, err := d.client.R().SetContext(ctx).Get(d.base)
	if err != nil {
		return nil, err
	}

	found := parseLocationLinks(d.base, string(resp.Body()))
	d.log.Info("office discovery finished",
		logx.Int("offices", len(found)),
		logx.Duration("took", time.Since(start)))
	return found, nil
}

func parseLocationLinks(base, body string) []Office {
	byName := map[string]string{}
	baseURL, _ := url.Parse(base)

	for _, m := range locationAnchor.FindAllStringSubmatch(body, -1) {
		href, inner := m[1], m[2]
		name := strings.TrimSpace(tagPattern.ReplaceAllString(inner, " "))
		name = strings.Join(strings.Fields(name), " ")
		if name == "" {
			continue
		}
		full := href
		if baseURL != nil {
			if ref, err := url.Parse(href); err == nil {
				full = baseURL.ResolveReference(ref).String()
			}
		}
		byName[name] = full
	}

	out := make([]Office, 0, len(byName))
	for name, u := range byName {
		out = append(out, Office{Name: name, URL: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
