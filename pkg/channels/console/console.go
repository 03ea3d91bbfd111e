// Package console is a local interactive channel: a readline REPL that
// publishes typed lines as UserMessageEvents and implements the
// outbound Sender for the console chat id. Useful for running codexbot
// without any chat platform credentials.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/logger"
)

// ChatID is the synthetic chat id for the local console. Route it to
// the channel so notification delivery lands here instead of a chat
// platform.
const ChatID int64 = -1

// Channel is the interactive console channel.
type Channel struct {
	bus *events.Bus
	out io.Writer

	mu      sync.Mutex
	running bool
	rl      *readline.Instance
	done    chan struct{}
}

// NewChannel creates a console channel.
func NewChannel(bus *events.Bus) *Channel {
	return &Channel{bus: bus, out: os.Stdout}
}

// Start begins the read loop. Idempotent.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}

	c.running = true
	c.rl = rl
	c.done = make(chan struct{})
	go c.readLoop(rl, c.done)

	logger.InfoC("console", "Console channel started")
	return nil
}

// Stop closes the readline instance, which ends the read loop.
// Idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	rl := c.rl
	done := c.done
	c.mu.Unlock()

	rl.Close()
	<-done
	logger.InfoC("console", "Console channel stopped")
}

func (c *Channel) readLoop(rl *readline.Instance, done chan struct{}) {
	defer close(done)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return
			}
			logger.WarnCF("console", "Read error", map[string]interface{}{"error": err.Error()})
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.bus.Publish(events.NewUserMessageEvent("console", 0, ChatID, line, ""))
	}
}

// SendMessage writes a delivered response to the console. Parse mode
// has no meaning on a terminal and is ignored.
func (c *Channel) SendMessage(_ context.Context, _ int64, text, _ string) error {
	_, err := fmt.Fprintf(c.out, "bot> %s\n", text)
	return err
}
