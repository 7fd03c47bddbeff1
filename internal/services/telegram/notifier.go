package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/httpclient"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/models"
)

const (
	requestTimeout = 30 * time.Second

	// Telegram message body caps, in characters after escaping.
	maxAlertTextChars      = 1000
	maxAlertReasoningChars = 500
)

// Notifier delivers operator alerts to a Telegram chat via the Bot API.
// Messages use HTML parse mode; a configured thread id routes them into a
// forum topic.
type Notifier struct {
	botToken   string
	chatID     string
	threadID   int
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

func NewNotifier(config *common.Config, logger arbor.ILogger) (*Notifier, error) {
	if config.Telegram.BotToken == "" || config.Telegram.ChatID == "" {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}

	return &Notifier{
		botToken:   config.Telegram.BotToken,
		chatID:     config.Telegram.ChatID,
		threadID:   config.Telegram.ThreadID,
		baseURL:    "https://api.telegram.org",
		httpClient: httpclient.NewDefaultHTTPClient(requestTimeout),
		logger:     logger,
	}, nil
}

var _ interfaces.Notifier = (*Notifier)(nil)

// NotifyClassification sends the label-specific alert for a classified
// comment.
func (n *Notifier) NotifyClassification(ctx context.Context, payload interfaces.NotificationPayload) error {
	messageID, err := n.sendMessage(ctx, formatAlert(payload))
	if err != nil {
		return fmt.Errorf("notifying about comment %s: %w", payload.CommentID, err)
	}

	n.logger.Info().
		Str("comment_id", payload.CommentID).
		Str("label", payload.Label).
		Int64("message_id", messageID).
		Msg("Operator alert sent")
	return nil
}

// CheckConnection verifies the bot token against getMe.
func (n *Notifier) CheckConnection(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/bot%s/getMe", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram getMe failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding getMe response: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("telegram bot token rejected: %s", body.Description)
	}
	return nil
}

// sendMessage posts one HTML message and returns Telegram's message id.
func (n *Notifier) sendMessage(ctx context.Context, text string) (int64, error) {
	payload := map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if n.threadID > 0 {
		payload["message_thread_id"] = n.threadID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decoding sendMessage response: %w", err)
	}
	if !result.OK {
		return 0, fmt.Errorf("telegram rejected message (status %d): %s", resp.StatusCode, result.Description)
	}
	return result.Result.MessageID, nil
}

// formatAlert renders the HTML alert body for one classified comment.
func formatAlert(p interfaces.NotificationPayload) string {
	header, hashtags := alertHeader(models.Label(p.Label))

	text := truncate(html.EscapeString(p.Text), maxAlertTextChars)
	reasoning := truncate(html.EscapeString(p.Reasoning), maxAlertReasoningChars)

	var b strings.Builder
	b.WriteString(header + "\n\n")
	fmt.Fprintf(&b, "👤 <b>Username:</b> %s\n", html.EscapeString(p.Username))
	fmt.Fprintf(&b, "🆔 <b>Comment ID:</b> <code>%s</code>\n", html.EscapeString(p.CommentID))
	fmt.Fprintf(&b, "📸 <b>Media ID:</b> <code>%s</code>\n", html.EscapeString(p.MediaID))
	if p.Permalink != "" {
		fmt.Fprintf(&b, "🔗 <b>Post:</b> %s\n", html.EscapeString(p.Permalink))
	}
	b.WriteString("\n💬 <b>Comment:</b>\n<pre>" + text + "</pre>\n")
	fmt.Fprintf(&b, "\n🤖 <b>Classification:</b> %s (%.0f%% confidence)\n", html.EscapeString(p.Label), p.Confidence)
	if reasoning != "" {
		b.WriteString("🧠 <b>Reasoning:</b> " + reasoning + "\n")
	}
	b.WriteString("\n" + hashtags)
	return b.String()
}

func alertHeader(label models.Label) (header, hashtags string) {
	switch label {
	case models.LabelUrgentIssue:
		return "🚨 <b>URGENT ISSUE DETECTED</b> 🚨", "#urgent #instagram #customer_service"
	case models.LabelCriticalFeedback:
		return "⚠️ <b>CRITICAL FEEDBACK DETECTED</b> ⚠️", "#critical #instagram #feedback"
	case models.LabelPartnership:
		return "🤝 <b>PARTNERSHIP PROPOSAL</b> 🤝", "#partnership #instagram"
	default:
		return "📣 <b>COMMENT ALERT</b>", "#instagram"
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
