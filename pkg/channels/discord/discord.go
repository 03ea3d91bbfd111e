// Package discord is a secondary delivery channel. Outbound only:
// responses routed to Discord chat ids are posted to the matching
// Discord channel (chat id = channel snowflake).
package discord

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/grvsrs/codexbot/pkg/logger"
)

// Channel is a connected Discord bot used for outbound delivery.
type Channel struct {
	session *discordgo.Session
}

// NewChannel creates a Discord channel from a bot token.
func NewChannel(token string) (*Channel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Channel{session: session}, nil
}

// Start opens the gateway connection.
func (c *Channel) Start() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	logger.InfoC("discord", "Discord channel started")
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop() {
	if err := c.session.Close(); err != nil {
		logger.WarnCF("discord", "Error closing session", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.InfoC("discord", "Discord channel stopped")
}

// SendMessage posts a message to the Discord channel identified by the
// chat id. Discord has no Telegram-style parse modes; markup is sent
// as-is.
func (c *Channel) SendMessage(_ context.Context, chatID int64, text, _ string) error {
	channelID := strconv.FormatInt(chatID, 10)
	if _, err := c.session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("discord send to %s: %w", channelID, err)
	}
	return nil
}
