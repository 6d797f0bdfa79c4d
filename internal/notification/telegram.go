package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/fusion"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends Markdown-formatted signals via the bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	apiBase  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier creates a Telegram notifier. It is disabled when
// either credential is missing.
func NewTelegramNotifier(cfg config.TelegramConfig, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled(),
		apiBase:  telegramAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With().Str("component", "telegram").Logger(),
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) Enabled() bool {
	return t.enabled
}

// SendSignal formats the signal as Markdown and returns the message id.
func (t *TelegramNotifier) SendSignal(ctx context.Context, sig *fusion.Signal) (string, error) {
	if !t.enabled {
		return "", nil
	}
	return t.sendMessage(ctx, signalText(sig))
}

// SendText sends a plain titled message.
func (t *TelegramNotifier) SendText(ctx context.Context, title, message string) error {
	if !t.enabled {
		return nil
	}
	_, err := t.sendMessage(ctx, fmt.Sprintf("*%s*\n\n%s", title, message))
	return err
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, text string) (string, error) {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	var reply struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !reply.OK {
		return "", fmt.Errorf("telegram API rejected message")
	}
	return strconv.FormatInt(reply.Result.MessageID, 10), nil
}

// signalText renders the signal in the same layout as the Discord embed,
// flattened to Markdown.
func signalText(sig *fusion.Signal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*🎯 %s Signal: %s*\n\n", sig.Direction, sig.Symbol)
	fmt.Fprintf(&b, "*Timeframe:* %s\n", sig.Interval)
	fmt.Fprintf(&b, "*Confidence:* %.1f%%\n\n", sig.Confidence*100)

	fmt.Fprintf(&b, "*Entry:* $%.4f\n", sig.EntryPrice)
	if sig.StopLoss > 0 {
		fmt.Fprintf(&b, "*Stop Loss:* $%.4f\n", sig.StopLoss)
	}
	fmt.Fprintf(&b, "*Take Profit 1:* $%.4f\n", sig.TakeProfit)
	if sig.TakeProfit2 > 0 {
		fmt.Fprintf(&b, "*Take Profit 2:* $%.4f\n", sig.TakeProfit2)
	}
	if sig.TakeProfit3 > 0 {
		fmt.Fprintf(&b, "*Take Profit 3:* $%.4f\n", sig.TakeProfit3)
	}
	if sig.RiskReward > 0 {
		fmt.Fprintf(&b, "*R:R Ratio:* %.2f:1\n", sig.RiskReward)
	}

	if sig.Rationale != "" {
		fmt.Fprintf(&b, "\n%s", truncate(sig.Rationale, 3500))
	}

	return b.String()
}
