package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lookout-hq/lookout/monitor/store"
)

func proberTestEndpoint(url string) *store.Endpoint {
	return &store.Endpoint{
		ID:             "ep-1",
		URL:            url,
		Method:         "GET",
		ExpectedStatus: 200,
		TimeoutSeconds: 5,
	}
}

func TestProberSuccess(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(2, 10*time.Second)
	defer p.Close()

	out := p.Check(context.Background(), proberTestEndpoint(srv.URL), 3, 1)
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", out.StatusCode)
	}
	if !strings.Contains(gotUA, "LookOut-Monitor/1.0") || !strings.Contains(gotUA, "Worker-3") {
		t.Fatalf("unexpected user agent %q", gotUA)
	}
}

func TestProberStatusMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProber(2, 10*time.Second)
	defer p.Close()

	out := p.Check(context.Background(), proberTestEndpoint(srv.URL), 1, 1)
	if out.Success {
		t.Fatal("expected failure on status mismatch")
	}
	if !out.Retryable {
		t.Fatal("status mismatch must be retryable")
	}
	if out.StatusCode != 503 {
		t.Fatalf("expected status 503, got %d", out.StatusCode)
	}
}

func TestProberCustomHeadersAndMethod(t *testing.T) {
	var gotMethod, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ep := proberTestEndpoint(srv.URL)
	ep.Method = "POST"
	ep.Body = `{"ping":true}`
	ep.Headers = map[string]string{"Authorization": "Bearer token"}
	ep.ExpectedStatus = 201

	p := NewProber(2, 10*time.Second)
	defer p.Close()

	out := p.Check(context.Background(), ep, 1, 1)
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if gotMethod != "POST" || gotAuth != "Bearer token" || gotBody != `{"ping":true}` {
		t.Fatalf("request not built from config: method=%s auth=%q body=%q", gotMethod, gotAuth, gotBody)
	}
}

func TestProberTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep := proberTestEndpoint(srv.URL)
	ep.TimeoutSeconds = 0 // fall back to the prober default

	p := NewProber(2, 50*time.Millisecond)
	defer p.Close()

	out := p.Check(context.Background(), ep, 1, 1)
	if out.Success {
		t.Fatal("expected timeout failure")
	}
	if !out.Retryable {
		t.Fatal("timeouts must be retryable")
	}
	if out.Error != "request timeout" {
		t.Fatalf("expected normalized timeout error, got %q", out.Error)
	}
}

func TestProberEndpointTimeoutAboveDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The endpoint grants a bigger budget than the shared default; the slow
	// response must fit inside it.
	ep := proberTestEndpoint(srv.URL)
	ep.TimeoutSeconds = 2

	p := NewProber(2, 50*time.Millisecond)
	defer p.Close()

	out := p.Check(context.Background(), ep, 1, 1)
	if !out.Success {
		t.Fatalf("per-endpoint timeout capped by shared default: %+v", out)
	}
}

func TestProberUnsupportedScheme(t *testing.T) {
	ep := proberTestEndpoint("ftp://example.com/file")

	p := NewProber(2, time.Second)
	defer p.Close()

	out := p.Check(context.Background(), ep, 1, 1)
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Retryable {
		t.Fatalf("unsupported scheme must be permanent: %q", out.Error)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	permanent := []string{
		`dial tcp: lookup nosuch.example: Name or service not known`,
		`no address associated with hostname`,
		`parse "http://[": invalid URL escape`,
		`Get "ftp://x": unsupported protocol scheme "ftp"`,
	}
	for _, msg := range permanent {
		if isRetryable(msg) {
			t.Errorf("expected permanent: %q", msg)
		}
	}

	transient := []string{
		"request timeout",
		"connection refused",
		"EOF",
	}
	for _, msg := range transient {
		if !isRetryable(msg) {
			t.Errorf("expected retryable: %q", msg)
		}
	}
}
