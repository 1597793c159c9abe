package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sharepipe/internal/config"
)

const userAgent = "Sharepipe/0.1"

// Service defines the alert surface exposed to the daemon components.
type Service interface {
	NotifyBrokerNeedsIntervention(ctx context.Context, lastErr error) error
	NotifyBreakerOpen(ctx context.Context, failures int) error
	NotifyShareFailed(ctx context.Context, shareID, errorCode, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
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

func (n *ntfyService) NotifyBrokerNeedsIntervention(ctx context.Context, lastErr error) error {
	detail := "unknown"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return n.send(ctx, payload{
		title:    "Sharepipe - Broker Down",
		message:  fmt.Sprintf("Broker reconnect budget exhausted, manual intervention required: %s", detail),
		tags:     []string{"sharepipe", "broker", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBreakerOpen(ctx context.Context, failures int) error {
	return n.send(ctx, payload{
		title:    "Sharepipe - Circuit Open",
		message:  fmt.Sprintf("Publish circuit opened after %d consecutive failures", failures),
		tags:     []string{"sharepipe", "breaker", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyShareFailed(ctx context.Context, shareID, errorCode, message string) error {
	return n.send(ctx, payload{
		title:   "Sharepipe - Share Failed",
		message: fmt.Sprintf("Share %s settled in error (%s): %s", shareID, errorCode, message),
		tags:    []string{"sharepipe", "share", "error"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:   "Sharepipe - Test",
		message: "Notifications are configured correctly",
		tags:    []string{"sharepipe", "test"},
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyBrokerNeedsIntervention(context.Context, error) error      { return nil }
func (noopService) NotifyBreakerOpen(context.Context, int) error                    { return nil }
func (noopService) NotifyShareFailed(context.Context, string, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
