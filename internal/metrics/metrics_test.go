package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/pool"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNewRegistersOnSeparateRegistries(t *testing.T) {
	// Each registry gets its own collectors, so repeated construction must
	// not panic with duplicate registration.
	a := New(prometheus.NewRegistry())
	b := New(nil)
	a.ObserveSkip("size")
	if val := testutil.ToFloat64(a.skipsTotal.WithLabelValues("size")); val != 1 {
		t.Errorf("expected 1 skip on first registry, got %f", val)
	}
	if val := testutil.ToFloat64(b.skipsTotal.WithLabelValues("size")); val != 0 {
		t.Errorf("expected 0 skips on second registry, got %f", val)
	}
}

func TestObserveWrite(t *testing.T) {
	c := New(nil)
	c.ObserveWrite("Example.com", 120)
	c.ObserveWrite("example.com", 30)
	c.ObserveWrite("", 0)

	if val := testutil.ToFloat64(c.documentsTotal.WithLabelValues("example.com")); val != 2 {
		t.Errorf("expected 2 documents, got %f", val)
	}
	if val := testutil.ToFloat64(c.bytesTotal.WithLabelValues("example.com")); val != 150 {
		t.Errorf("expected 150 bytes, got %f", val)
	}
	if val := testutil.ToFloat64(c.documentsTotal.WithLabelValues("unknown")); val != 1 {
		t.Errorf("expected 1 unknown document, got %f", val)
	}
}

func TestObserveFailureAndBorrow(t *testing.T) {
	c := New(nil)
	c.ObserveFailure("store_write")
	c.ObserveBorrow(time.Millisecond, nil)
	c.ObserveBorrow(time.Second, fmt.Errorf("wrapped: %w", pool.ErrPoolExhausted))
	c.ObserveBorrow(time.Millisecond, errors.New("dial"))
	c.SetActive(2, 3)

	if val := testutil.ToFloat64(c.failuresTotal.WithLabelValues("store_write")); val != 1 {
		t.Errorf("expected 1 failure, got %f", val)
	}
	if n := testutil.CollectAndCount(c.poolWaitSeconds); n != 3 {
		t.Errorf("expected 3 borrow outcome series, got %d", n)
	}
	if val := testutil.ToFloat64(c.poolCheckedOut); val != 2 {
		t.Errorf("expected 2 checked out, got %f", val)
	}
	if val := testutil.ToFloat64(c.poolIdle); val != 3 {
		t.Errorf("expected 3 idle, got %f", val)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := New(nil)
	c.ObserveSkip("empty")
	c.ObserveHTTPRequest(http.MethodGet, "/stats", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`mongosink_skips_total{reason="empty"} 1`,
		`http_requests_total{code="200",method="GET"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected exposition to contain %q", want)
		}
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
