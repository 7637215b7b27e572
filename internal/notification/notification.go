// Package notification delivers operator-facing alerts (CRITICAL threat
// alerts, emergency stop, exit-retry exhaustion) over Telegram/Discord,
// independent of the Control API's own push stream.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Type is the category of a notification.
type Type string

const (
	NotifyTradeOpen  Type = "trade_open"
	NotifyTradeClose Type = "trade_close"
	NotifyAlert      Type = "alert"
	NotifyEmergency  Type = "emergency"
	NotifyError      Type = "error"
	NotifyInfo       Type = "info"
)

// Notification is one message to deliver to every enabled provider.
type Notification struct {
	Type        Type
	Title       string
	Message     string
	MintAddress string
	Price       float64
	PnL         float64
	PnLPercent  float64
	Timestamp   time.Time
}

// Notifier is one outbound channel (Telegram, Discord, ...).
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans a Notification out to every enabled Notifier.
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a manager with no notifiers registered.
func NewManager() *Manager {
	return &Manager{enabled: true}
}

// AddNotifier registers a notification channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// SetEnabled toggles all outbound notifications at once. While disabled,
// Send drops every notification, alerts and errors included.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled = enabled
}

// Send delivers n to every enabled provider, collecting the last error
// seen (per-provider failures are independent; one bad webhook should
// not block the others).
func (m *Manager) Send(n *Notification) error {
	if !m.enabled {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var lastErr error
	for _, notifier := range m.notifiers {
		if notifier.IsEnabled() {
			if err := notifier.Send(n); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendTradeOpen announces a new fill.
func (m *Manager) SendTradeOpen(mint, strategyTag string, price, quantity float64) error {
	return m.Send(&Notification{
		Type:        NotifyTradeOpen,
		Title:       fmt.Sprintf("Position opened: %s", shortMint(mint)),
		Message:     fmt.Sprintf("strategy=%s entry=%.8f qty=%.4f", strategyTag, price, quantity),
		MintAddress: mint,
		Price:       price,
	})
}

// SendTradeClose announces a closed position's outcome.
func (m *Manager) SendTradeClose(mint string, entryPrice, exitPrice, pnl, pnlPercent float64, reason string) error {
	return m.Send(&Notification{
		Type:        NotifyTradeClose,
		Title:       fmt.Sprintf("Position closed: %s", shortMint(mint)),
		Message:     fmt.Sprintf("entry=%.8f exit=%.8f pnl=%.8f (%.2f%%) reason=%s", entryPrice, exitPrice, pnl, pnlPercent, reason),
		MintAddress: mint,
		Price:       exitPrice,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
	})
}

// SendAlert forwards a WARNING/CRITICAL threat alert.
func (m *Manager) SendAlert(mint, severity, reason string) error {
	alertType := NotifyAlert
	if severity == "CRITICAL" {
		alertType = NotifyEmergency
	}
	return m.Send(&Notification{
		Type:        alertType,
		Title:       fmt.Sprintf("%s alert: %s", severity, shortMint(mint)),
		Message:     reason,
		MintAddress: mint,
	})
}

// SendError reports an internal error condition to operators.
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{Type: NotifyError, Title: title, Message: message})
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + "…" + mint[len(mint)-4:]
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string    { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(n *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string    { return "discord" }
func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(n *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x2ECC71
	switch n.Type {
	case NotifyError, NotifyEmergency:
		color = 0xE74C3C
	case NotifyTradeClose:
		if n.PnL < 0 {
			color = 0xE74C3C
		}
	}

	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
	}

	var fields []map[string]interface{}
	if n.MintAddress != "" {
		fields = append(fields, map[string]interface{}{"name": "Mint", "value": n.MintAddress, "inline": true})
	}
	if n.Price > 0 {
		fields = append(fields, map[string]interface{}{"name": "Price", "value": fmt.Sprintf("%.8f", n.Price), "inline": true})
	}
	if n.PnL != 0 {
		fields = append(fields, map[string]interface{}{"name": "P&L", "value": fmt.Sprintf("%.8f (%.2f%%)", n.PnL, n.PnLPercent), "inline": true})
	}
	if len(fields) > 0 {
		embed["fields"] = fields
	}

	payload := map[string]interface{}{"embeds": []map[string]interface{}{embed}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
