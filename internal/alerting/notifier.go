// Package alerting delivers operational notifications for settlements the
// keeper cannot resolve on its own, such as deposits parked behind their
// slippage floor.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"exodusd/internal/ledgermath"
)

// Notification carries the context of one settlement event needing a human
// decision.
type Notification struct {
	Owner      string
	Nonce      uint64
	SourceID   string
	JPYAmount  uint64
	QuotedRate uint64
	NetUSDCOut uint64
	MinUSDCOut uint64
	ExpiresAt  time.Time
	Reason     string
	ObservedAt time.Time
}

// Notifier delivers notifications to the ops channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected telegram status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("owner", note.Owner).
		Uint64("nonce", note.Nonce).
		Str("reason", note.Reason).
		Msg("ops alert sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Settlement Alert]\n")
	builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	builder.WriteString(fmt.Sprintf("Deposit: %s #%d (source %s)\n", note.Owner, note.Nonce, note.SourceID))
	builder.WriteString(fmt.Sprintf("Amount: ¥%s\n", formatMinor(note.JPYAmount)))
	builder.WriteString(fmt.Sprintf("Quoted rate: %s JPY/USD\n", formatScaled(note.QuotedRate, ledgermath.RateScale)))
	builder.WriteString(fmt.Sprintf("Net out: $%s (floor $%s)\n", formatMinor(note.NetUSDCOut), formatMinor(note.MinUSDCOut)))
	if !note.ExpiresAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Expires: %s UTC\n", note.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", note.ObservedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

func formatMinor(amount uint64) string {
	return decimal.NewFromUint64(amount).Shift(-6).StringFixed(6)
}

func formatScaled(amount uint64, scale int64) string {
	return decimal.NewFromUint64(amount).Div(decimal.NewFromInt(scale)).StringFixed(6)
}

var _ Notifier = (*TelegramNotifier)(nil)
