package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"printlink/internal/config"
	"printlink/internal/protocol"
)

const userAgent = "Printlink-Go/0.1.0"

// Service defines the notification surface exposed to daemon components.
type Service interface {
	NotifyDeviceError(ctx context.Context, desc protocol.Descriptor, label string) error
	NotifyPrintStarted(ctx context.Context, desc protocol.Descriptor, job string) error
	NotifySliceCompleted(ctx context.Context, models []string, size int) error
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
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		deviceErrors: cfg.Notifications.DeviceErrors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	deviceErrors bool
}

var labelHints = map[string]string{
	"AUTH_ERROR":      "password required",
	"AUTH_FAILED":     "password rejected",
	"TIMEOUT":         "not responding",
	"RESOURCE_BUSY":   "busy with another job",
	"HEAD_ERROR":      "toolhead problem",
	"TYPE_ERROR":      "wrong toolhead attached",
	"FILAMENT_RUNOUT": "out of filament",
}

func (n *ntfyService) NotifyDeviceError(ctx context.Context, desc protocol.Descriptor, label string) error {
	if !n.deviceErrors {
		return nil
	}
	label = strings.TrimSpace(label)
	message := fmt.Sprintf("🖨️ %s reported %s", deviceName(desc), label)
	if hint, ok := labelHints[label]; ok {
		message = fmt.Sprintf("%s (%s)", message, hint)
	}
	data := payload{
		title:    "Printlink - Device Error",
		message:  message,
		tags:     []string{"printlink", "device", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPrintStarted(ctx context.Context, desc protocol.Descriptor, job string) error {
	job = strings.TrimSpace(job)
	message := fmt.Sprintf("▶️ Printing on %s", deviceName(desc))
	if job != "" {
		message = fmt.Sprintf("%s: %s", message, job)
	}
	data := payload{
		title:   "Printlink - Print Started",
		message: message,
		tags:    []string{"printlink", "print", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySliceCompleted(ctx context.Context, models []string, size int) error {
	names := "model"
	if len(models) > 0 {
		names = strings.Join(models, ", ")
	}
	data := payload{
		title:   "Printlink - Slicing Complete",
		message: fmt.Sprintf("✅ Sliced %s (%d bytes)", names, size),
		tags:    []string{"printlink", "slice", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Printlink - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"printlink", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
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

func deviceName(desc protocol.Descriptor) string {
	if name := strings.TrimSpace(desc.Name); name != "" {
		return name
	}
	return desc.ID
}

type noopService struct{}

func (noopService) NotifyDeviceError(context.Context, protocol.Descriptor, string) error  { return nil }
func (noopService) NotifyPrintStarted(context.Context, protocol.Descriptor, string) error { return nil }
func (noopService) NotifySliceCompleted(context.Context, []string, int) error             { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }
