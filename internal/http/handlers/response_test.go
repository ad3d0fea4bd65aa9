package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c.Set("logger", &logger)

	c.Writer.Header().Set("X-Request-ID", "req-777")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "boom")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RequestID != "req-777" || body.Code != ErrCodeInternal || body.Message != "boom" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	logged := buf.String()
	if !strings.Contains(logged, `"api error"`) || !strings.Contains(logged, ErrCodeInternal) {
		t.Fatalf("5xx was not logged: %q", logged)
	}
	if !c.IsAborted() {
		t.Fatal("expected the context to be aborted")
	}
}

func Test_Fail_4xx_DoesNotLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c.Set("logger", &logger)

	Fail(c, http.StatusPaymentRequired, ErrCodeInsufficientCredits, "not enough credits")

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != ErrCodeInsufficientCredits {
		t.Fatalf("unexpected code %q", body.Code)
	}
	if body.RequestID != "" {
		t.Fatalf("expected empty request_id, got %q", body.RequestID)
	}
	if buf.Len() != 0 {
		t.Fatalf("client errors must not be logged, got %q", buf.String())
	}
}

func Test_failRetryAfter_HeaderAndFlooring(t *testing.T) {
	cases := []struct {
		name       string
		retryAfter int
		want       string
	}{
		{"positive passes through", 30, "30"},
		{"zero floors to one", 0, "1"},
		{"negative floors to one", -5, "1"},
	}
	gin.SetMode(gin.TestMode)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			failRetryAfter(c, tc.retryAfter, ErrCodeRateLimited, "slow down")

			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", w.Code)
			}
			if got := w.Header().Get("Retry-After"); got != tc.want {
				t.Fatalf("Retry-After = %q, want %q", got, tc.want)
			}
		})
	}
}

func Test_ok_WritesBodyAndStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ok(c, http.StatusCreated, gin.H{"hello": "world"})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"hello":"world"`) {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}
