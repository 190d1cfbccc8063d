package logger

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ http.RoundTripper = (*RoundTripper)(nil)

// RoundTripper logs every API call made through it.
type RoundTripper struct {
	next    http.RoundTripper
	headers bool
}

// Option configures a RoundTripper.
type Option func(*RoundTripper)

// WithHeaders adds request and response headers to each log entry.
// Credential headers are redacted.
func WithHeaders() Option {
	return func(rt *RoundTripper) { rt.headers = true }
}

func NewRoundTripper(next http.RoundTripper, opts ...Option) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	rt := &RoundTripper{next: next}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	logger := zerolog.Ctx(req.Context())
	if logger.GetLevel() == zerolog.Disabled {
		l := log.Logger
		logger = &l
	}

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		logger.Error().
			Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("request_id", req.Header.Get("X-Request-Id")).
			Dur("duration", time.Since(started)).
			Msg("api call")

		return resp, err
	}

	event := logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Str("request_id", req.Header.Get("X-Request-Id")).
		Dur("duration", time.Since(started))
	if rt.headers {
		event = event.
			Dict("request_headers", headerDict(req.Header)).
			Dict("response_headers", headerDict(resp.Header))
	}
	event.Msg("api call")

	return resp, err
}

var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"Set-Cookie":    true,
}

func headerDict(h http.Header) *zerolog.Event {
	dict := zerolog.Dict()
	for name, values := range h {
		if redactedHeaders[http.CanonicalHeaderKey(name)] {
			dict = dict.Str(name, "[redacted]")
			continue
		}
		dict = dict.Str(name, strings.Join(values, ", "))
	}
	return dict
}
