// Package server exposes a time authority over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/newgrp/chronos/chronos"
)

const (
	// Request parameter names.
	argFormat = "format"

	// Values of the format parameter.
	formatRFC3339 = "rfc3339"
	formatUnix    = "unix"
)

// Authority is the part of *chronos.Authority served over HTTP.
type Authority interface {
	Now() time.Time
	IsInitialized() bool
	Refresh(ctx context.Context) error
	Status() chronos.Status
}

type NowResp struct {
	Now    string `json:"now"`
	Format string `json:"format"`
}

// HTTP handler that only depends on the request context and URL parameters. Returns
// (JSON-encodable value, HTTP status code, error message).
type simpleHandler = func(context.Context, url.Values) (any, int, string)

// makeHandler converts a simpleHandler to an http.HandlerFunc.
func makeHandler(logger *zap.Logger, h simpleHandler) http.HandlerFunc {
	return func(resp http.ResponseWriter, req *http.Request) {
		query, err := url.ParseQuery(req.URL.RawQuery)
		if err != nil {
			resp.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(resp, "Could not parse request parameters: %v\n", err)
			return
		}

		value, status, message := h(req.Context(), query)

		var body string
		if status == http.StatusOK {
			b := &strings.Builder{}
			e := json.NewEncoder(b)
			e.SetEscapeHTML(false)
			if err = e.Encode(value); err != nil {
				logger.Error("Failed to encode response", zap.String("type", fmt.Sprintf("%T", value)), zap.Error(err))
				resp.WriteHeader(http.StatusInternalServerError)
				return
			}
			body = b.String()
			resp.Header().Set("Content-Type", "application/json")
		} else {
			body = message
		}
		if len(body) != 0 && body[len(body)-1] != '\n' {
			body += "\n"
		}

		resp.WriteHeader(status)
		resp.Write([]byte(body))
	}
}

// Formats t as decimal seconds since the Unix epoch with nanosecond precision.
func formatUnixSeconds(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

// Server that handles HTTP requests for trusted time.
type Server struct {
	authority Authority
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

// NewServer returns a server for a. A nil gatherer leaves /metrics unregistered.
func NewServer(a Authority, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{authority: a, gatherer: gatherer, logger: logger}
}

// Simple handler for the current time.
func (s *Server) getNow(_ context.Context, query url.Values) (*NowResp, int, string) {
	format := query.Get(argFormat)
	if format == "" {
		format = formatRFC3339
	}
	if format != formatRFC3339 && format != formatUnix {
		return nil, http.StatusBadRequest, fmt.Sprintf("Invalid %q parameter: must be %q or %q", argFormat, formatRFC3339, formatUnix)
	}

	// Before initialization, Now is only the device clock.
	if !s.authority.IsInitialized() {
		return nil, http.StatusServiceUnavailable, "Trusted time is not available yet"
	}

	now := s.authority.Now()
	if format == formatUnix {
		return &NowResp{Now: formatUnixSeconds(now), Format: format}, http.StatusOK, ""
	}
	return &NowResp{Now: now.Format(time.RFC3339Nano), Format: format}, http.StatusOK, ""
}

func (s *Server) getStatus(context.Context, url.Values) (chronos.Status, int, string) {
	return s.authority.Status(), http.StatusOK, ""
}

// Simple handler for refresh requests.
func (s *Server) postRefresh(ctx context.Context, _ url.Values) (any, int, string) {
	err := s.authority.Refresh(ctx)
	switch {
	case err == nil:
		return s.authority.Status(), http.StatusOK, ""
	case errors.Is(err, chronos.ErrClockRegression):
		return nil, http.StatusConflict, "Resolved time is not after the recorded anchor"
	default:
		// Don't expose source errors to clients.
		s.logger.Warn("Refresh failed", zap.Error(err))
		return nil, http.StatusBadGateway, "No time source could be reached"
	}
}

// Registers handlers for the following methods:
//
//   - GET /v0/now
//   - GET /v0/status
//   - POST /v0/refresh
//   - GET /metrics
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /v0/now", makeHandler(s.logger, func(ctx context.Context, query url.Values) (any, int, string) {
		return s.getNow(ctx, query)
	}))
	mux.HandleFunc("GET /v0/status", makeHandler(s.logger, func(ctx context.Context, query url.Values) (any, int, string) {
		return s.getStatus(ctx, query)
	}))
	mux.HandleFunc("POST /v0/refresh", makeHandler(s.logger, s.postRefresh))
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}
