package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/equitypanel/internal/logger"
)

func TestToString(t *testing.T) {
	if s := toString(nil); s != "" {
		t.Fatalf("nil -> %q, want empty", s)
	}
	if s := toString("abc"); s != "abc" {
		t.Fatalf("string -> %q, want 'abc'", s)
	}
	if s := toString(123); s != "" {
		t.Fatalf("non-string -> %q, want empty", s)
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	cases := []struct {
		name   string
		status int
		level  string
	}{
		{name: "ok", status: http.StatusOK, level: "info"},
		{name: "client error", status: http.StatusNotFound, level: "warn"},
		{name: "server error", status: http.StatusInternalServerError, level: "error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger.InitWithWriter(&buf)

			gin.SetMode(gin.TestMode)
			r := gin.New()
			r.Use(RequestID(), RequestLogger())
			r.GET("/ping", func(c *gin.Context) { c.Status(tc.status) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping?x=1", nil))

			line := strings.TrimSpace(buf.String())
			var entry map[string]any
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				t.Fatalf("log line is not json: %q", line)
			}
			if entry["level"] != tc.level || entry["component"] != "http" {
				t.Fatalf("unexpected entry %v", entry)
			}
			if entry["path"] != "/ping" || entry["query"] != "x=1" || entry["status"] != float64(tc.status) {
				t.Fatalf("unexpected fields %v", entry)
			}
			if entry["request_id"] != w.Header().Get(RequestIDHeader) {
				t.Fatalf("request id mismatch %v", entry)
			}
		})
	}
}
