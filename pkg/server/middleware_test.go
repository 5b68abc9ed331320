package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(hello(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("Expected outer,inner, got %v", order)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	header := rr.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("Expected a UUID request id, got %q", header)
	}
	if seen != header {
		t.Errorf("Context id %q should match header %q", seen, header)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"well formed", "req-123", true},
		{"with spaces", "bad id", false},
		{"too long", strings.Repeat("x", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequestID()(hello())
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.incoming)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			got := rr.Header().Get(RequestIDHeader)
			if (got == tt.incoming) != tt.keep {
				t.Errorf("Incoming id %q kept=%v, response id %q", tt.incoming, tt.keep, got)
			}
		})
	}
}

func TestRecover(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	h := Recover(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/css/style.css", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rr.Code)
	}
	if !strings.Contains(logs.String(), "Handler panicked") || !strings.Contains(logs.String(), "boom") {
		t.Errorf("Panic should be logged, got: %s", logs.String())
	}
}

func TestRecoverRepanicsAbort(t *testing.T) {
	h := Recover(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("Expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestHeader(t *testing.T) {
	rr := httptest.NewRecorder()
	Header("Server", "staticserve/test")(hello()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("Server") != "staticserve/test" {
		t.Errorf("Expected Server header, got %q", rr.Header().Get("Server"))
	}
}

func TestAccessLog(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		status    int
		wantLevel string
	}{
		{"ok verbose", true, http.StatusOK, "info"},
		{"ok quiet", false, http.StatusOK, "debug"},
		{"not found", false, http.StatusNotFound, "info"},
		{"server error", false, http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := zerolog.New(&logs).Level(zerolog.DebugLevel)

			h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, "abc")
			}), RequestID(), AccessLog(logger, tt.verbose))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/css/style.css", nil))

			var entry map[string]interface{}
			if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
				t.Fatalf("Failed to parse access log: %v (%s)", err, logs.String())
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("Expected level %s, got %v", tt.wantLevel, entry["level"])
			}
			if entry["path"] != "/css/style.css" {
				t.Errorf("Expected path field, got %v", entry["path"])
			}
			if status, ok := entry["status"].(float64); !ok || int(status) != tt.status {
				t.Errorf("Expected status %d, got %v", tt.status, entry["status"])
			}
			if b, ok := entry["bytes"].(float64); !ok || int(b) != 3 {
				t.Errorf("Expected 3 bytes, got %v", entry["bytes"])
			}
			if id, _ := entry["request_id"].(string); id == "" {
				t.Errorf("Expected request_id field to be set")
			}
		})
	}
}

func TestAccessLogEmptyResponse(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		RequestID(), AccessLog(logger, true))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	h.ServeHTTP(rr, req)

	var entry map[string]interface{}
	if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse access log: %v (%s)", err, logs.String())
	}
	if status, ok := entry["status"].(float64); !ok || int(status) != http.StatusOK {
		t.Errorf("Expected implicit status 200, got %v", entry["status"])
	}
	if b, ok := entry["bytes"].(float64); !ok || b != 0 {
		t.Errorf("Expected 0 bytes, got %v", entry["bytes"])
	}
	if entry["remote"] != "192.0.2.1:1234" {
		t.Errorf("Expected remote field, got %v", entry["remote"])
	}
	if entry["request_id"] != rr.Header().Get(RequestIDHeader) {
		t.Errorf("Logged request id %v should match header %q", entry["request_id"], rr.Header().Get(RequestIDHeader))
	}
}
