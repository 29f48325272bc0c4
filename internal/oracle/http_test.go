package oracle

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHTTPJPYRateMissingBaseURL(t *testing.T) {
	src := NewHTTP(HTTPOptions{}, zerolog.Nop())

	if _, err := src.JPYRate(context.Background()); err == nil {
		t.Fatal("expected error for missing base url")
	}
}

func TestHTTPJPYRateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer server.Close()

	src := NewHTTP(HTTPOptions{BaseURL: server.URL}, zerolog.Nop())

	_, err := src.JPYRate(context.Background())
	if err == nil {
		t.Fatal("expected error from api status")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected api message in error, got %v", err)
	}
}

func TestHTTPJPYRateSuccess(t *testing.T) {
	updated := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rates/jpyusd" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("unexpected accept header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"155.123456","updatedAt":` + "1773478800" + `}`))
	}))
	defer server.Close()

	src := NewHTTP(HTTPOptions{BaseURL: server.URL, UserAgent: "exodusd-test"}, zerolog.Nop())

	quote, err := src.JPYRate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Rate != 155_123_456 {
		t.Fatalf("expected rate 155123456, got %d", quote.Rate)
	}
	if !quote.UpdatedAt.Equal(updated) {
		t.Fatalf("expected updated at %v, got %v", updated, quote.UpdatedAt)
	}
}

func TestHTTPJPYRateRejectsBadPrice(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"non-positive", `{"price":"0","updatedAt":1773478800}`},
		{"malformed", `{"price":"abc","updatedAt":1773478800}`},
		{"missing timestamp", `{"price":"155.0"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			src := NewHTTP(HTTPOptions{BaseURL: server.URL}, zerolog.Nop())
			if _, err := src.JPYRate(context.Background()); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestScaleAnswerInverts(t *testing.T) {
	// A USD/JPY feed with 8 decimals quoting 0.00645161 USD per JPY
	// inverts to 155.000069 JPY per USD at 1e6 scale.
	rate, err := scaleAnswer(big.NewInt(645_161), 8, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 155_000_069 {
		t.Fatalf("expected 155000069, got %d", rate)
	}

	rate, err = scaleAnswer(big.NewInt(15_500_000_000), 8, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 155_000_000 {
		t.Fatalf("expected 155000000, got %d", rate)
	}
}
