package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/nts"
	"go.uber.org/zap"
)

// How many consecutive query failures to allow before establishing a new session, possibly with
// a different server.
const maxConsecutiveFailures = 3

// Creates a new NTS session by trying to connect to each address in order.
func createSession(addrs []string, logger *zap.Logger) (*nts.Session, error) {
	for _, addr := range addrs {
		session, err := nts.NewSession(addr)
		if err == nil {
			logger.Info("Connected to NTS server", zap.String("addr", addr))
			return session, nil
		}
		logger.Warn("Failed to connect to NTS server", zap.String("addr", addr), zap.Error(err))
	}
	return nil, fmt.Errorf("failed to connect to any NTS server")
}

// Source backed by Network Time Security.
//
// The session is established lazily on first fetch and re-established after repeated failures.
type NTS struct {
	addrs  []string
	logger *zap.Logger

	mu       sync.Mutex
	session  *nts.Session
	failures int
}

// Constructs an NTS source that will use any of the given servers.
func NewNTS(addrs []string, logger *zap.Logger) *NTS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NTS{addrs: addrs, logger: logger}
}

func (s *NTS) Name() string {
	return "nts"
}

func (s *NTS) Fetch(ctx context.Context) (time.Time, error) {
	t, err := s.FetchUTC(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return t.Local(), nil
}

// FetchUTC queries the current NTS session, establishing one first if needed.
func (s *NTS) FetchUTC(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	if s.session == nil || s.failures >= maxConsecutiveFailures {
		session, err := createSession(s.addrs, s.logger)
		if err != nil {
			return time.Time{}, err
		}
		s.session = session
		s.failures = 0
	}

	resp, err := s.session.Query()
	if err != nil {
		s.failures++
		return time.Time{}, fmt.Errorf("failed to query time from NTS server: %w", err)
	}
	s.failures = 0
	return resp.Time.UTC(), nil
}
