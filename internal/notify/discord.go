package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DiscordLimit is the longest content sent to a Discord webhook, in
// characters. Discord rejects messages over 2000.
const DiscordLimit = 1900

// Discord posts messages to a Discord webhook.
type Discord struct {
	URL    string
	Client *http.Client
}

// NewDiscord creates a Discord notifier for webhookURL.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{URL: webhookURL, Client: http.DefaultClient}
}

func (d *Discord) Name() string { return "discord" }

type discordPayload struct {
	Content string `json:"content"`
}

// Notify posts the message body, truncated to DiscordLimit characters.
func (d *Discord) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(discordPayload{Content: Truncate(msg.Body, DiscordLimit)})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
