// Package notify sends human-readable notifications for reconciler events:
// first stale observation, stale heartbeat with the VM still alive,
// confirmed orphan or PREEMPTED, stuck-RESTARTING recovery, and restart
// success/failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
)

// Notifier is the outbound notification surface. A nil DiscordWebhookURL at
// construction yields a Notifier whose Notify is a silent no-op, matching
// a missing webhook URL disables notifications entirely.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Discord posts webhook messages through a thin http.Client wrapper with
// a short fixed timeout for outbound calls.
type Discord struct {
	webhookURL string
	dryRun     bool
	client     *http.Client
	log        *logger.Logger
}

func NewDiscord(webhookURL string, dryRun bool, log *logger.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		dryRun:     dryRun,
		client:     &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}
}

func (d *Discord) Notify(ctx context.Context, message string) {
	if d == nil || d.webhookURL == "" {
		return
	}
	if d.dryRun {
		message = "[DRY-RUN] " + message
	}
	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		d.log.Warn("discord notify marshal failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		d.log.Warn("discord notify build request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("discord notify failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.log.Warn("discord notify non-2xx response", "status", resp.StatusCode)
	}
}

// Noop is used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) {}
