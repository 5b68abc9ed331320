package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-Id"

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one is the outermost
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type requestIDKey struct{}

// RequestIDFrom returns the request id stored by RequestID, if any
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID reuses a well-formed incoming X-Request-Id or generates a new one,
// and echoes it on the response.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !validRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// Recover turns a panicking handler into a 500 for that request only
func Recover(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", RequestIDFrom(r.Context())).
					Msg("Handler panicked")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Header sets a fixed response header on every response
func Header(key, value string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(key, value)
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs one line per request through hlog. With verbose off,
// successful and redirected requests are logged at debug level.
func AccessLog(logger zerolog.Logger, verbose bool) Middleware {
	handlers := []Middleware{
		hlog.NewHandler(logger),
		requestIDField("request_id"),
		hlog.RemoteAddrHandler("remote"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			if status == 0 {
				status = http.StatusOK
			}
			l := hlog.FromRequest(r)
			var event *zerolog.Event
			switch {
			case status >= 500:
				event = l.Error()
			case status >= 400 || verbose:
				event = l.Info()
			default:
				event = l.Debug()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", size).
				Dur("duration", duration).
				Msg("Request")
		}),
	}
	return func(next http.Handler) http.Handler {
		return Chain(next, handlers...)
	}
}

// requestIDField adds the id set by RequestID to the request logger, like
// hlog.RequestIDHandler does for its own xid ids.
func requestIDField(fieldKey string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := RequestIDFrom(r.Context()); id != "" {
				l := zerolog.Ctx(r.Context())
				l.UpdateContext(func(c zerolog.Context) zerolog.Context {
					return c.Str(fieldKey, id)
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}

// newErrorLog routes net/http's internal errors (TLS handshakes, bad
// requests, panics it recovers itself) into the structured logger.
func newErrorLog(logger zerolog.Logger, name string) *log.Logger {
	l := logger.With().Str("server", name).Str("source", "net/http").Logger()
	return log.New(l, "", 0)
}
