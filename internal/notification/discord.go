package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/analyzer"
	"binance-signal-engine/internal/fusion"
)

const (
	discordAPIBase = "https://discord.com/api/v10"

	colorLong  = 0x00FF00
	colorShort = 0xFF0000
	colorInfo  = 0x3498DB

	embedFooter = "Educational purposes only • Not financial advice"
)

// DiscordNotifier posts signal embeds to a channel using a bot token.
type DiscordNotifier struct {
	botToken  string
	channelID string
	enabled   bool
	apiBase   string
	client    *http.Client
	logger    zerolog.Logger
}

// NewDiscordNotifier creates a Discord notifier. It is disabled when either
// credential is missing.
func NewDiscordNotifier(cfg config.DiscordConfig, logger zerolog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		botToken:  cfg.BotToken,
		channelID: cfg.ChannelID,
		enabled:   cfg.Enabled(),
		apiBase:   discordAPIBase,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With().Str("component", "discord").Logger(),
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) Enabled() bool {
	return d.enabled
}

// discordEmbed mirrors the subset of the embed object the notifier uses.
type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

// SendSignal posts the signal as a rich embed and returns the created
// message id.
func (d *DiscordNotifier) SendSignal(ctx context.Context, sig *fusion.Signal) (string, error) {
	if !d.enabled {
		return "", nil
	}
	return d.postEmbed(ctx, signalEmbed(sig))
}

// SendText posts a plain informational embed.
func (d *DiscordNotifier) SendText(ctx context.Context, title, message string) error {
	if !d.enabled {
		return nil
	}
	_, err := d.postEmbed(ctx, discordEmbed{
		Title:       title,
		Description: message,
		Color:       colorInfo,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      &discordEmbedFooter{Text: embedFooter},
	})
	return err
}

func (d *DiscordNotifier) postEmbed(ctx context.Context, embed discordEmbed) (string, error) {
	payload := map[string]interface{}{
		"embeds": []discordEmbed{embed},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", d.apiBase, d.channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("discord API returned status %d: %s", resp.StatusCode, string(body))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode discord response: %w", err)
	}
	return created.ID, nil
}

// signalEmbed renders a signal into the embed layout: price targets,
// risk/reward, pattern context, then the analysis rationale.
func signalEmbed(sig *fusion.Signal) discordEmbed {
	color := colorLong
	if sig.Direction == analyzer.DirectionShort {
		color = colorShort
	}

	embed := discordEmbed{
		Title: fmt.Sprintf("🎯 %s Signal: %s", sig.Direction, sig.Symbol),
		Description: fmt.Sprintf("**Timeframe:** %s\n**Confidence:** %.1f%%",
			sig.Interval, sig.Confidence*100),
		Color:     color,
		Timestamp: sig.CreatedAt.UTC().Format(time.RFC3339),
		Footer:    &discordEmbedFooter{Text: embedFooter},
	}

	var targets strings.Builder
	fmt.Fprintf(&targets, "**Entry:** $%.4f\n", sig.EntryPrice)
	if sig.StopLoss > 0 {
		fmt.Fprintf(&targets, "**Stop Loss:** $%.4f\n\n", sig.StopLoss)
	}
	fmt.Fprintf(&targets, "**Take Profit 1:** $%.4f\n", sig.TakeProfit)
	if sig.TakeProfit2 > 0 {
		fmt.Fprintf(&targets, "**Take Profit 2:** $%.4f\n", sig.TakeProfit2)
	}
	if sig.TakeProfit3 > 0 {
		fmt.Fprintf(&targets, "**Take Profit 3:** $%.4f\n", sig.TakeProfit3)
	}
	embed.Fields = append(embed.Fields, discordEmbedField{
		Name:  "📊 Price Targets",
		Value: targets.String(),
	})

	if sig.RiskReward > 0 {
		riskPct, rewardPct := riskRewardPercents(sig)
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name: "⚖️ Risk/Reward",
			Value: fmt.Sprintf("**R:R Ratio:** %.2f:1\n**Risk:** %.2f%%\n**Reward:** %.2f%%",
				sig.RiskReward, riskPct, rewardPct),
			Inline: true,
		})
	}

	if sig.WyckoffPhase != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   "📈 Wyckoff Phase",
			Value:  titleCase(string(sig.WyckoffPhase)),
			Inline: true,
		})
	}
	if sig.ElliottWaveCount != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   "🌊 Elliott Wave",
			Value:  sig.ElliottWaveCount,
			Inline: true,
		})
	}

	if sig.Rationale != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:  "💡 Analysis",
			Value: truncate(sig.Rationale, 1024),
		})
	}

	return embed
}

func riskRewardPercents(sig *fusion.Signal) (risk, reward float64) {
	if sig.EntryPrice == 0 {
		return 0, 0
	}
	risk = abs(sig.EntryPrice-sig.StopLoss) / sig.EntryPrice * 100
	reward = abs(sig.TakeProfit-sig.EntryPrice) / sig.EntryPrice * 100
	return risk, reward
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-4] + "..."
}
