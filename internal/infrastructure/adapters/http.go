package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "ProactiveInsights/1.0"

// Settings are shared by every HTTP-backed adapter.
type Settings struct {
	ID           string
	URL          string
	PollInterval time.Duration
	// Freshness is how long a successful reading stays trustworthy.
	// Zero means twice the poll interval.
	Freshness time.Duration
	Headers   map[string]string
	Client    *http.Client
}

type httpSource struct {
	id       string
	url      string
	interval time.Duration
	fresh    time.Duration
	headers  map[string]string
	client   *http.Client
	now      func() time.Time
}

func newHTTPSource(s Settings) (httpSource, error) {
	if s.ID == "" {
		return httpSource{}, fmt.Errorf("source id is required")
	}
	if s.URL == "" {
		return httpSource{}, fmt.Errorf("source %s: url is required", s.ID)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	fresh := s.Freshness
	if fresh <= 0 {
		fresh = 2 * s.PollInterval
	}
	return httpSource{
		id:       s.ID,
		url:      s.URL,
		interval: s.PollInterval,
		fresh:    fresh,
		headers:  s.Headers,
		client:   client,
		now:      time.Now,
	}, nil
}

func (h httpSource) SourceID() string { return h.id }

func (h httpSource) PollInterval() time.Duration { return h.interval }

func (h httpSource) freshnessMs() int64 { return h.fresh.Milliseconds() }

// fetch performs a GET and hands the body to decode. Non-200 responses are errors.
func (h httpSource) fetch(ctx context.Context, decode func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", h.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", h.id, resp.Status)
	}
	return decode(resp.Body)
}
