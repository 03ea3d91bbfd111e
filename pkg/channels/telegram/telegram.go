// Package telegram is the Telegram channel: it long-polls for incoming
// messages, publishing each as a UserMessageEvent, and implements the
// outbound Sender used by notification delivery.
package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/logger"
)

// Channel is a connected Telegram bot.
type Channel struct {
	bot *telego.Bot
	bus *events.Bus

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannel creates a Telegram channel from a bot token.
func NewChannel(token string, bus *events.Bus) (*Channel, error) {
	bot, err := telego.NewBot(token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{bot: bot, bus: bus}, nil
}

// Start begins long polling for updates. Idempotent.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := c.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.consumeUpdates(updates, c.done)

	logger.InfoC("telegram", "Telegram channel started")
	return nil
}

// Stop ends long polling. Idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
	logger.InfoC("telegram", "Telegram channel stopped")
}

func (c *Channel) consumeUpdates(updates <-chan telego.Update, done chan struct{}) {
	defer close(done)

	for update := range updates {
		message := update.Message
		if message == nil || message.Text == "" {
			continue
		}

		var userID int64
		if message.From != nil {
			userID = message.From.ID
		}

		event := events.NewUserMessageEvent("telegram", userID, message.Chat.ID, message.Text, "")
		logger.DebugCF("telegram", "Message received", map[string]interface{}{
			"chat_id":  message.Chat.ID,
			"event_id": event.EventID(),
		})
		c.bus.Publish(event)
	}
}

// SendMessage delivers one message to a Telegram chat.
func (c *Channel) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	params := tu.Message(tu.ID(chatID), text)
	if parseMode != "" {
		params = params.WithParseMode(parseMode)
	}
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}
