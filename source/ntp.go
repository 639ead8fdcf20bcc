package source

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

// Default per-server query timeout.
const defaultNTPTimeout = 5 * time.Second

// Source backed by plain (unauthenticated) NTP.
type NTP struct {
	servers []string
	timeout time.Duration
	logger  *zap.Logger
}

// Constructs an NTP source that queries the given servers in order. A non-positive timeout
// selects the default.
func NewNTP(servers []string, timeout time.Duration, logger *zap.Logger) *NTP {
	if timeout <= 0 {
		timeout = defaultNTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NTP{servers: servers, timeout: timeout, logger: logger}
}

func (s *NTP) Name() string {
	return "ntp"
}

func (s *NTP) Fetch(ctx context.Context) (time.Time, error) {
	t, err := s.FetchUTC(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return t.Local(), nil
}

// FetchUTC returns the transmit time of the first server that gives a valid response.
func (s *NTP) FetchUTC(ctx context.Context) (time.Time, error) {
	for _, server := range s.servers {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}

		timeout := s.timeout
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
			timeout = time.Until(deadline)
		}

		resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
		if err != nil {
			s.logger.Warn("NTP query failed", zap.String("server", server), zap.Error(err))
			continue
		}
		if err := resp.Validate(); err != nil {
			s.logger.Warn("NTP response invalid", zap.String("server", server), zap.Error(err))
			continue
		}
		return resp.Time.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no NTP server returned a valid response")
}
