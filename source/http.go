package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Upper bound on the response body the HTTP source will read.
const maxBodySize = 1 << 10

// Parses a time string, which may be either:
//
//   - integer seconds since Unix epoch
//   - RFC 3339 formatted time string, with optional fractional seconds
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("time must be given either as integer seconds since the Unix epoch or RFC 3339 string")
}

// HTTP source options.
type HTTPOptions struct {
	// URL to GET. The body may carry the time, otherwise the Date header is used.
	URL string
	// Per-attempt timeout.
	Timeout time.Duration
	// Retries after the first attempt. Zero disables retrying.
	MaxRetries uint64
	// Client to use. Defaults to a client with Timeout applied.
	Client *http.Client
}

// Source backed by an HTTP time endpoint.
//
// A response body holding a time in a format understood by parseTime takes precedence. Otherwise
// the response's Date header is used, which makes any well-behaved HTTP server usable at
// one-second resolution.
type HTTP struct {
	url        string
	maxRetries uint64
	client     *http.Client
	logger     *zap.Logger
}

// Constructs an HTTP source.
func NewHTTP(opts HTTPOptions, logger *zap.Logger) *HTTP {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{url: opts.URL, maxRetries: opts.MaxRetries, client: client, logger: logger}
}

func (s *HTTP) Name() string {
	return "http"
}

func (s *HTTP) Fetch(ctx context.Context) (time.Time, error) {
	t, err := s.FetchUTC(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return t.Local(), nil
}

// FetchUTC fetches the time, retrying transient failures with exponential backoff.
func (s *HTTP) FetchUTC(ctx context.Context) (time.Time, error) {
	var result time.Time
	op := func() error {
		t, err := s.fetchOnce(ctx)
		if err != nil {
			return err
		}
		result = t
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("Retrying HTTP time source", zap.String("url", s.url), zap.Duration("wait", wait), zap.Error(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return time.Time{}, err
	}
	return result.UTC(), nil
}

// Performs a single request. Client errors are permanent and stop retrying.
func (s *HTTP) fetchOnce(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return time.Time{}, backoff.Permanent(fmt.Errorf("invalid request: %w", err))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to GET %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("GET %s: %s", s.url, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return time.Time{}, backoff.Permanent(err)
		}
		return time.Time{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read body from %s: %w", s.url, err)
	}
	if t, err := parseTime(string(body)); err == nil {
		return t, nil
	}

	date := resp.Header.Get("Date")
	if date == "" {
		return time.Time{}, backoff.Permanent(fmt.Errorf("response from %s carries no time", s.url))
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return time.Time{}, backoff.Permanent(fmt.Errorf("invalid Date header from %s: %w", s.url, err))
	}
	return t, nil
}
