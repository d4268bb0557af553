// Package notification implements the outage notification pipeline: the
// per-user buffer/cooldown state machine, the failure trigger gate, and the
// email composition.
package notification

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/lookout-hq/lookout/monitor/store"
)

// multiWorkspaceLabel is used in the subject when the failing endpoints span
// more than one workspace.
const multiWorkspaceLabel = "Multiple Workspaces"

// Subject builds the outage email subject line.
func Subject(details []*store.EndpointDetail) string {
	ws := workspaceLabel(details)
	if len(details) == 1 {
		return fmt.Sprintf("1 endpoint down in %q", ws)
	}
	return fmt.Sprintf("%d endpoints down in %q", len(details), ws)
}

func workspaceLabel(details []*store.EndpointDetail) string {
	if len(details) == 0 {
		return multiWorkspaceLabel
	}
	first := details[0].WorkspaceName
	for _, d := range details[1:] {
		if d.WorkspaceName != first {
			return multiWorkspaceLabel
		}
	}
	return first
}

var htmlBody = template.Must(template.New("outage").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #d64545;">Endpoint outage detected</h2>
  <p>The following {{if eq (len .Endpoints) 1}}endpoint is{{else}}endpoints are{{end}} failing their health checks:</p>
  <table style="width: 100%; border-collapse: collapse;">
    <tr style="background: #f5f7fa; text-align: left;">
      <th style="padding: 8px; border-bottom: 1px solid #d3dce6;">Endpoint</th>
      <th style="padding: 8px; border-bottom: 1px solid #d3dce6;">Workspace</th>
      <th style="padding: 8px; border-bottom: 1px solid #d3dce6;">Failed checks</th>
    </tr>
    {{range .Endpoints}}
    <tr>
      <td style="padding: 8px; border-bottom: 1px solid #e4e7eb;">{{.Name}}</td>
      <td style="padding: 8px; border-bottom: 1px solid #e4e7eb;">{{.WorkspaceName}}</td>
      <td style="padding: 8px; border-bottom: 1px solid #e4e7eb;">{{.ConsecutiveFailures}}</td>
    </tr>
    {{end}}
  </table>
  <p style="margin-top: 24px;">
    <a href="{{.DashboardURL}}" style="background: #2f6fed; color: #ffffff; padding: 10px 18px; text-decoration: none; border-radius: 4px;">Open dashboard</a>
  </p>
  <p style="color: #7b8794; font-size: 12px;">Sent {{.SentAt.Format "Jan 2, 2006 15:04 MST"}} by LookOut monitoring.</p>
</body>
</html>`))

type bodyData struct {
	Endpoints    []*store.EndpointDetail
	DashboardURL string
	SentAt       time.Time
}

// ComposeBody renders the HTML and plain-text bodies for an outage email.
func ComposeBody(details []*store.EndpointDetail, dashboardURL string, sentAt time.Time) (html, text string, err error) {
	var sb strings.Builder
	if err := htmlBody.Execute(&sb, bodyData{
		Endpoints:    details,
		DashboardURL: dashboardURL,
		SentAt:       sentAt,
	}); err != nil {
		return "", "", fmt.Errorf("rendering outage email: %w", err)
	}

	var tb strings.Builder
	tb.WriteString("Endpoint outage detected\n\n")
	for _, d := range details {
		fmt.Fprintf(&tb, "- %s (%s): %d consecutive failed checks\n",
			d.Name, d.WorkspaceName, d.ConsecutiveFailures)
	}
	fmt.Fprintf(&tb, "\nOpen the dashboard: %s\n", dashboardURL)

	return sb.String(), tb.String(), nil
}
