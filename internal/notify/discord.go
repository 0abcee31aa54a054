// Package notify sends watch-list price alerts.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/domain"
)

// Sender delivers a direct message to a user.
type Sender interface {
	SendDirect(userID, message string) error
}

// WatchSource lists the watched products that are under their maximum.
type WatchSource interface {
	WatchedBelowMax(ctx context.Context) ([]domain.Product, error)
}

// DiscordSender sends direct messages through a Discord bot.
type DiscordSender struct {
	session *discordgo.Session
}

// NewDiscordSender creates a REST-only bot session; no gateway connection
// is opened.
func NewDiscordSender(token string) (*DiscordSender, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSender{session: s}, nil
}

// SendDirect implements Sender.
func (d *DiscordSender) SendDirect(userID, message string) error {
	ch, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	if _, err := d.session.ChannelMessageSend(ch.ID, message); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}

// discordMessageLimit is the maximum length of one Discord message.
const discordMessageLimit = 2000

// WatchAlerter messages a user about watched products below their maximum.
type WatchAlerter struct {
	source WatchSource
	sender Sender
	logger *zap.Logger
}

func NewWatchAlerter(source WatchSource, sender Sender, logger *zap.Logger) *WatchAlerter {
	return &WatchAlerter{source: source, sender: sender, logger: logger.Named("notify")}
}

// Alert sends one or more messages and returns the number of products
// reported.
func (a *WatchAlerter) Alert(ctx context.Context, userID string) (int, error) {
	products, err := a.source.WatchedBelowMax(ctx)
	if err != nil {
		return 0, err
	}
	if len(products) == 0 {
		return 0, nil
	}

	for _, msg := range FormatAlerts(products, discordMessageLimit) {
		if err := a.sender.SendDirect(userID, msg); err != nil {
			return 0, err
		}
	}
	a.logger.Info("watch alert delivered", zap.String("user", userID), zap.Int("products", len(products)))
	return len(products), nil
}

// FormatAlerts renders products as message bodies no longer than limit.
func FormatAlerts(products []domain.Product, limit int) []string {
	var (
		out []string
		b   strings.Builder
	)
	header := "Watched products under your maximum price:\n"
	b.WriteString(header)

	for _, p := range products {
		line := fmt.Sprintf("- %s: %s %s (max %s) %s\n",
			p.Title, FormatMinor(p.LastPrice), p.Currency, FormatMinor(p.WatchMaxPrice), p.Link)
		if b.Len()+len(line) > limit && b.Len() > len(header) {
			out = append(out, strings.TrimRight(b.String(), "\n"))
			b.Reset()
			b.WriteString(header)
		}
		b.WriteString(line)
	}
	return append(out, strings.TrimRight(b.String(), "\n"))
}

// FormatMinor prints a minor-unit amount with two decimals.
func FormatMinor(v *int64) string {
	if v == nil {
		return domain.NotAvailable
	}
	return decimal.New(*v, -2).StringFixed(2)
}
