package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DiscordSender posts notifications to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender builds a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	// Webhook embeds render the title as a heading; Discord replies 204 on
	// success.
	payload := map[string]any{
		"embeds": []map[string]string{
			{"title": title, "description": message},
		},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
