package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ProactiveInsights/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier pushes high-attention insights to a Telegram chat via the bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Sender = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase points the notifier at a different Bot API host.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = strings.TrimRight(base, "/")
	return n
}

// Send posts the text as a plain message; push notifications are left enabled.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var result apiResult
	// Error bodies are informative but optional; a bare status still fails below.
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&result)

	if resp.StatusCode != http.StatusOK || (result.OK != nil && !*result.OK) {
		msg := result.Description
		if msg == "" {
			msg = resp.Status
		}
		if result.Parameters.RetryAfter > 0 {
			return fmt.Errorf("telegram: %s (retry after %ds)", msg, result.Parameters.RetryAfter)
		}
		return fmt.Errorf("telegram: %s", msg)
	}
	return nil
}

// apiResult is the Bot API response envelope.
type apiResult struct {
	OK          *bool  `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}
