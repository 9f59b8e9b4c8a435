package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func TestLoggerEmitsRouteAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(Logger(logger))
	r.Get("/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["route"] != "/conversations/{id}/messages" {
		t.Errorf("route = %v", entry["route"])
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v", entry["status"])
	}
	if entry["bytes"] != float64(2) {
		t.Errorf("bytes = %v", entry["bytes"])
	}
}

func TestLoggerEscalatesLevelForErrors(t *testing.T) {
	cases := []struct {
		status int
		level  string
	}{
		{http.StatusNotFound, "warn"},
		{http.StatusInternalServerError, "error"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		r := chi.NewRouter()
		r.Use(Logger(logger))
		r.Get("/fail", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("unmarshal log line: %v", err)
		}
		if entry["level"] != tc.level {
			t.Errorf("status %d logged at %v, want %s", tc.status, entry["level"], tc.level)
		}
	}
}
