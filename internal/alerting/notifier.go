package alerting

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"vesrates/internal/config"
)

// Kind of operational notification.
type Kind string

const (
	KindDegraded Kind = "degraded"
	KindCleanup  Kind = "cleanup"
)

// Failure is one exchange that did not refresh.
type Failure struct {
	Exchange  string
	ErrorKind string
	Message   string
}

// Notification carries an operational event.
type Notification struct {
	Kind      Kind
	Timestamp time.Time
	Failures  []Failure
	Succeeded int
	Purged    map[string]int64
	Message   string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *resty.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds the Telegram sink.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   client,
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    n.chatID,
			"text":       renderMessage(note),
			"parse_mode": "HTML",
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.botToken))
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode(), result.Description)
	}
	if !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("kind", string(note.Kind)).
		Int("failures", len(note.Failures)).
		Msg("notification sent")
	return nil
}

// renderMessage builds a Telegram HTML message. Every dynamic value is escaped.
func renderMessage(note Notification) string {
	var b strings.Builder
	ts := note.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch note.Kind {
	case KindDegraded:
		b.WriteString("<b>[VES Rates] Degraded refresh</b>\n")
		b.WriteString(fmt.Sprintf("At: %s UTC\n", ts.UTC().Format(time.RFC3339)))
		b.WriteString(fmt.Sprintf("Healthy exchanges: %d, failing: %d\n", note.Succeeded, len(note.Failures)))
		for _, f := range note.Failures {
			b.WriteString(fmt.Sprintf("- %s [%s] %s\n", html.EscapeString(f.Exchange), html.EscapeString(f.ErrorKind), html.EscapeString(f.Message)))
		}
	case KindCleanup:
		b.WriteString("<b>[VES Rates] Retention cleanup</b>\n")
		b.WriteString(fmt.Sprintf("At: %s UTC\n", ts.UTC().Format(time.RFC3339)))
		tables := make([]string, 0, len(note.Purged))
		for t := range note.Purged {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			b.WriteString(fmt.Sprintf("- %s: %d rows deleted\n", html.EscapeString(t), note.Purged[t]))
		}
	default:
		b.WriteString("<b>[VES Rates]</b>\n")
	}
	if note.Message != "" {
		b.WriteString(html.EscapeString(note.Message))
	}
	return b.String()
}

// Nop drops every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Notification) error { return nil }

// FromConfig returns the configured notifier, or Nop when alerting is off.
func FromConfig(cfg config.AlertingConfig, logger zerolog.Logger) Notifier {
	if !cfg.Enabled || !cfg.Telegram.Enabled {
		return Nop{}
	}
	tg := cfg.Telegram
	return NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, logger)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Nop{}
)
