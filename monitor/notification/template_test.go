package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-hq/lookout/monitor/store"
)

func detail(name, workspace string, failures int) *store.EndpointDetail {
	return &store.EndpointDetail{
		ID:                  name,
		Name:                name,
		WorkspaceName:       workspace,
		ConsecutiveFailures: failures,
	}
}

func TestSubjectSingleEndpoint(t *testing.T) {
	got := Subject([]*store.EndpointDetail{detail("api", "Production", 5)})
	assert.Equal(t, `1 endpoint down in "Production"`, got)
}

func TestSubjectMultipleEndpointsOneWorkspace(t *testing.T) {
	got := Subject([]*store.EndpointDetail{
		detail("api", "Production", 5),
		detail("web", "Production", 6),
		detail("cdn", "Production", 7),
	})
	assert.Equal(t, `3 endpoints down in "Production"`, got)
}

func TestSubjectSpansWorkspaces(t *testing.T) {
	got := Subject([]*store.EndpointDetail{
		detail("api", "Production", 5),
		detail("staging-api", "Staging", 6),
	})
	assert.Equal(t, `2 endpoints down in "Multiple Workspaces"`, got)
}

func TestComposeBody(t *testing.T) {
	details := []*store.EndpointDetail{
		detail("payments-api", "Production", 7),
		detail("auth-api", "Staging", 5),
	}
	sentAt := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	html, text, err := ComposeBody(details, "https://app.example.com/dashboard", sentAt)
	require.NoError(t, err)

	for _, body := range []string{html, text} {
		assert.Contains(t, body, "payments-api")
		assert.Contains(t, body, "auth-api")
		assert.Contains(t, body, "https://app.example.com/dashboard")
	}
	assert.Contains(t, html, "Production")
	assert.Contains(t, text, "7 consecutive failed checks")
}

func TestComposeBodyEscapesHTML(t *testing.T) {
	details := []*store.EndpointDetail{detail(`<script>alert(1)</script>`, "ws", 5)}
	html, _, err := ComposeBody(details, "https://app.example.com", time.Now())
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}
