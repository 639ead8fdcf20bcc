package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"unix seconds", "1767225600", time.Unix(1767225600, 0), false},
		{"rfc3339", "2026-01-01T00:00:00Z", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339 nano", "2026-01-01T00:00:00.123456789Z", time.Date(2026, 1, 1, 0, 0, 0, 123456789, time.UTC), false},
		{"trailing newline", "2026-01-01T00:00:00Z\n", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"garbage", "<html>", time.Time{}, true},
		{"empty", "", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestHTTPBody(t *testing.T) {
	want := time.Date(2026, 5, 4, 3, 2, 1, 500, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(want.Format(time.RFC3339Nano) + "\n"))
	}))
	defer srv.Close()

	s := NewHTTP(HTTPOptions{URL: srv.URL}, zaptest.NewLogger(t))
	got, err := s.FetchUTC(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(want), "got %v, want %v", got, want)
	assert.Equal(t, time.UTC, got.Location())
}

func TestHTTPDateHeader(t *testing.T) {
	want := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", want.Format(http.TimeFormat))
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	s := NewHTTP(HTTPOptions{URL: srv.URL}, zaptest.NewLogger(t))
	got, err := s.FetchUTC(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(want), "got %v, want %v", got, want)
}

func TestHTTPRetriesServerErrors(t *testing.T) {
	want := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(want.Format(time.RFC3339)))
	}))
	defer srv.Close()

	s := NewHTTP(HTTPOptions{URL: srv.URL, MaxRetries: 5}, zaptest.NewLogger(t))
	got, err := s.FetchUTC(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(want))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewHTTP(HTTPOptions{URL: srv.URL, MaxRetries: 5}, zaptest.NewLogger(t))
	_, err := s.FetchUTC(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPNoRetriesByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTP(HTTPOptions{URL: srv.URL}, nil)
	_, err := s.FetchUTC(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
