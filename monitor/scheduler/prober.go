package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lookout-hq/lookout/monitor/store"
)

// nonRetryableErrors are substrings that indicate permanent endpoint
// misconfiguration rather than a transient network condition. Probes failing
// with these are recorded once and not retried.
var nonRetryableErrors = []string{
	"name or service not known",
	"no address associated with hostname",
	"invalid url",
	"unsupported protocol",
}

// Prober executes single HTTP checks against endpoint configs. It is
// stateless; all probes share one pooled client with connection reuse and
// capped per-host concurrency.
type Prober struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// NewProber builds the shared HTTP client. The pool is sized to the worker
// count: workers are the only callers, so 2x workers of idle connections is
// plenty, and per-host concurrency is capped so one slow target cannot
// monopolize the pool. The client carries no Timeout of its own: each
// request's budget is the per-endpoint timeout applied through the context
// in Check, which may exceed the shared default.
func NewProber(workerCount int, defaultTimeout time.Duration) *Prober {
	transport := &http.Transport{
		MaxIdleConns:        workerCount * 2,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     300 * time.Second,
	}
	return &Prober{
		client:         &http.Client{Transport: transport},
		defaultTimeout: defaultTimeout,
	}
}

// Check performs one HTTP request per the endpoint's config and returns a
// structured outcome. It never returns an error; failures are encoded in
// the outcome.
func (p *Prober) Check(ctx context.Context, ep *store.Endpoint, workerID, attempt int) Outcome {
	timeout := p.defaultTimeout
	if ep.TimeoutSeconds > 0 {
		timeout = time.Duration(ep.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if ep.Body != "" {
		body = strings.NewReader(ep.Body)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, ep.URL, body)
	if err != nil {
		return failureOutcome(err, start, attempt)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", fmt.Sprintf("LookOut-Monitor/1.0 (Worker-%d)", workerID))
	}

	resp, err := p.client.Do(req)
	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		return failureOutcome(err, start, attempt)
	}
	// Drain a little so the connection can be reused, then close.
	io.CopyN(io.Discard, resp.Body, 4096)
	resp.Body.Close()

	return Outcome{
		Success:        resp.StatusCode == ep.ExpectedStatus,
		Retryable:      true,
		StatusCode:     resp.StatusCode,
		ResponseTimeMS: elapsed,
		Attempt:        attempt,
	}
}

// Close releases idle pooled connections.
func (p *Prober) Close() {
	p.client.CloseIdleConnections()
}

func failureOutcome(err error, start time.Time, attempt int) Outcome {
	elapsed := int(time.Since(start).Milliseconds())

	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "request timeout"
	}

	return Outcome{
		Success:        false,
		Retryable:      isRetryable(msg),
		ResponseTimeMS: elapsed,
		Error:          msg,
		Attempt:        attempt,
	}
}

func isRetryable(errText string) bool {
	lower := strings.ToLower(errText)
	for _, marker := range nonRetryableErrors {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
