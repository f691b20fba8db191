// Package slack posts critical triage alerts to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/triage"
)

const (
	maxRationaleLen = 3000
	maxComplaintLen = 300
	httpTimeout     = 10 * time.Second
)

// Notifier sends critical-session alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyCritical
// is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// NotifyCritical implements care.Notifier.
func (n *Notifier) NotifyCritical(ctx context.Context, s *care.Session) error {
	if n.webhookURL == "" || s == nil || s.Decision == nil {
		return nil
	}

	body, err := json.Marshal(buildMessage(s))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "critical alert posted", "session_id", s.ID, "level", s.Decision.EffectiveLevel.String())
	return nil
}

func buildMessage(s *care.Session) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(s),
			{"type": "divider"},
			fieldsBlock(s),
			{"type": "divider"},
			rationaleBlock(s),
			contextBlock(s),
		},
	}
}

func headerBlock(s *care.Session) map[string]any {
	d := s.Decision
	text := fmt.Sprintf("\U0001f6a8 Critical triage: %s", d.EffectiveLevel.Label())
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(s *care.Session) map[string]any {
	d := s.Decision
	complaint := truncate(s.Assessment.PrimaryComplaint, maxComplaintLen)
	if complaint == "" {
		complaint = "_not given_"
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Complaint:* %s", complaint)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", sourceText(d))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Rule level:* %s", d.RuleLevel.String())},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Target response:* %s", d.EffectiveLevel.TargetResponse())},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func sourceText(d *triage.Decision) string {
	if d.FallbackReason != triage.FallbackNone {
		return fmt.Sprintf("%s (fallback: %s)", d.Source, d.FallbackReason)
	}
	return string(d.Source)
}

func rationaleBlock(s *care.Session) map[string]any {
	text := truncate(strings.TrimSpace(s.Decision.Rationale), maxRationaleLen)
	if text == "" {
		text = "_No rationale available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Rationale*\n\n%s", text),
		},
	}
}

func contextBlock(s *care.Session) map[string]any {
	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = s.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("erpath • session %s • %s", s.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

// truncate shortens s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
