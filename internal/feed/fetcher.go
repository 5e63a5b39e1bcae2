package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/jobingest/internal/config"
)

const maxFeedBytes = 20 << 20

// RawPayload is the unparsed body of a successfully fetched feed.
type RawPayload struct {
	URL         string
	Name        string
	Body        []byte
	ContentType string
	StatusCode  int
	Attempts    int
	Duration    time.Duration
	FetchedAt   time.Time
}

// Fetcher retrieves feed payloads over HTTP, retrying transient failures
// with exponential backoff (retryBase * 2^attempt).
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxAttempts int
	retryBase   time.Duration
}

// NewFetcher creates a Fetcher from feed configuration.
func NewFetcher(cfg config.FeedsConfig) *Fetcher {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = time.Second
	}
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		userAgent:   cfg.UserAgent,
		maxAttempts: attempts,
		retryBase:   base,
	}
}

// Fetch GETs feedURL. After maxAttempts failed attempts it returns a *FetchError
// carrying the last error and the elapsed time.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, name string) (*RawPayload, error) {
	start := time.Now()
	attempts := 0

	var payload *RawPayload
	op := func() error {
		attempts++
		p, err := f.fetchOnce(ctx, feedURL)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		payload = p
		return nil
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("feed fetch failed, retrying",
			"feed", name,
			"url", feedURL,
			"attempt", attempts,
			"retry_in", wait.String(),
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, f.policy(ctx), notify)
	if err != nil {
		return nil, &FetchError{
			URL:      feedURL,
			Name:     name,
			Attempts: attempts,
			Duration: time.Since(start),
			Err:      err,
		}
	}

	payload.Name = name
	payload.Attempts = attempts
	payload.Duration = time.Since(start)
	return payload, nil
}

func (f *Fetcher) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * f.retryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = f.retryBase << 10
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.maxAttempts-1)), ctx)
}

func (f *Fetcher) fetchOnce(ctx context.Context, feedURL string) (*RawPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, classifyError(fmt.Errorf("reading body: %w", err))
	}

	return &RawPayload{
		URL:         feedURL,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		FetchedAt:   time.Now().UTC(),
	}, nil
}
