package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ifgsweep/internal/config"
	"ifgsweep/internal/sweep"
)

const (
	userAgent = "ifgsweep"
	// maxListedKeys caps how many candidate keys appear in one message.
	maxListedKeys = 10
)

// Service defines the notification surface used by the CLI.
type Service interface {
	// NotifyRunCompleted publishes when the run produced at least one candidate.
	NotifyRunCompleted(ctx context.Context, summary sweep.Summary) error
	NotifyRunFailed(ctx context.Context, summary sweep.Summary) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, summary sweep.Summary) error {
	if summary.Counts.Candidates == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d ifg-cfg(s) for %s failed %d+ times with no product", summary.Counts.Candidates, summary.IFGVersion, summary.Threshold)
	if summary.DryRun {
		b.WriteString(" (dry run)")
	}
	keys := summary.CandidateKeys()
	for i, key := range keys {
		if i == maxListedKeys {
			fmt.Fprintf(&b, "\n... and %d more", len(keys)-maxListedKeys)
			break
		}
		b.WriteString("\n")
		b.WriteString(key)
	}
	return n.send(ctx, payload{
		title:    "ifgsweep - Blacklist Candidates",
		message:  b.String(),
		tags:     []string{"ifgsweep", "blacklist", summary.IFGVersion},
		priority: "high",
	})
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, summary sweep.Summary) error {
	message := fmt.Sprintf("Run %s failed (%s)", summary.ID, summary.FailureKind)
	if detail := strings.TrimSpace(summary.Error); detail != "" {
		message += ": " + detail
	}
	return n.send(ctx, payload{
		title:    "ifgsweep - Run Failed",
		message:  message,
		tags:     []string{"ifgsweep", "error", summary.FailureKind},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "ifgsweep - Test",
		message:  "Notification system test",
		tags:     []string{"ifgsweep", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if tags := nonEmpty(data.tags); len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, sweep.Summary) error { return nil }
func (noopService) NotifyRunFailed(context.Context, sweep.Summary) error    { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
