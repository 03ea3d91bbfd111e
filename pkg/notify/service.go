// Package notify delivers agent responses to chat channels. It
// subscribes to agent response events on the bus and serializes
// delivery through a single sender loop so the platform's per-chat
// rate limit is respected no matter how many handlers run upstream.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/logger"
)

const (
	// Telegram allows roughly one message per second per chat; 1.1s
	// keeps us safely under it.
	defaultSendInterval = 1100 * time.Millisecond

	// Telegram's hard limit for a single message.
	defaultMaxMessageLength = 4096

	defaultQueueSize = 256
)

// Sender delivers one message to one chat. Implementations map the chat
// id onto a concrete platform (Telegram, Discord, ...).
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
}

// Options tunes a Service. Zero values take the platform defaults.
type Options struct {
	DefaultChatIDs   []int64
	ParseMode        string
	SendInterval     time.Duration
	MaxMessageLength int
	QueueSize        int
}

// Service queues agent responses and paces delivery per chat.
type Service struct {
	bus    *events.Bus
	sender Sender
	opts   Options

	queue chan *events.AgentResponseEvent

	// lastSend is touched only by the sender loop.
	lastSend map[int64]time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService creates a notification service.
func NewService(bus *events.Bus, sender Sender, opts Options) *Service {
	if opts.SendInterval <= 0 {
		opts.SendInterval = defaultSendInterval
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = defaultMaxMessageLength
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Service{
		bus:      bus,
		sender:   sender,
		opts:     opts,
		queue:    make(chan *events.AgentResponseEvent, opts.QueueSize),
		lastSend: make(map[int64]time.Time),
	}
}

// Register subscribes the service to agent response events.
func (s *Service) Register() {
	s.bus.Subscribe(events.TypeAgentResponse, s.HandleResponse)
}

// HandleResponse queues a response for delivery and returns immediately,
// handing off from the bus's dispatch concurrency to the serialized
// sender loop. When the queue is full the oldest entry is dropped.
func (s *Service) HandleResponse(_ context.Context, event events.Event) error {
	response, ok := event.(*events.AgentResponseEvent)
	if !ok {
		return nil
	}

	select {
	case s.queue <- response:
		return nil
	default:
	}
	select {
	case dropped := <-s.queue:
		logger.WarnCF("notify", "Send queue full, dropping oldest response", map[string]interface{}{
			"dropped_id": dropped.EventID(),
		})
	default:
	}
	select {
	case s.queue <- response:
	default:
		logger.WarnCF("notify", "Send queue still full, dropping response", map[string]interface{}{
			"event_id": response.EventID(),
		})
	}
	return nil
}

// Start begins the sender loop. Idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.processSendQueue(ctx, s.done)
	logger.InfoC("notify", "Notification service started")
}

// Stop cancels the sender loop and returns after it has exited. Queued
// responses are not drained. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	logger.InfoC("notify", "Notification service stopped")
}

func (s *Service) processSendQueue(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case response := <-s.queue:
			for _, chatID := range s.resolveChatIDs(response) {
				s.rateLimitedSend(ctx, chatID, response)
			}
		}
	}
}

// resolveChatIDs picks the destination chats: an explicit non-zero chat
// id wins, otherwise the configured defaults.
func (s *Service) resolveChatIDs(response *events.AgentResponseEvent) []int64 {
	if response.ChatID != 0 {
		return []int64{response.ChatID}
	}
	return append([]int64(nil), s.opts.DefaultChatIDs...)
}

// rateLimitedSend delivers one response to one chat, waiting out the
// per-chat minimum interval first and between chunks. Delivery failures
// are logged and do not affect other chats or responses.
func (s *Service) rateLimitedSend(ctx context.Context, chatID int64, response *events.AgentResponseEvent) {
	if wait := s.opts.SendInterval - time.Since(s.lastSend[chatID]); wait > 0 {
		if !sleepCtx(ctx, wait) {
			return
		}
	}

	parseMode := response.ParseMode
	if parseMode == "" {
		parseMode = s.opts.ParseMode
	}

	chunks := SplitMessage(response.Text, s.opts.MaxMessageLength)
	for i, chunk := range chunks {
		if err := s.sender.SendMessage(ctx, chatID, chunk, parseMode); err != nil {
			logger.ErrorCF("notify", "Failed to send notification", map[string]interface{}{
				"chat_id":  chatID,
				"event_id": response.EventID(),
				"error":    err.Error(),
			})
			return
		}
		s.lastSend[chatID] = time.Now()

		// Each chunk spends one unit of the rate budget.
		if i < len(chunks)-1 {
			if !sleepCtx(ctx, s.opts.SendInterval) {
				return
			}
		}
	}

	logger.InfoCF("notify", "Notification sent", map[string]interface{}{
		"chat_id":           chatID,
		"text_length":       len(response.Text),
		"chunks":            len(chunks),
		"originating_event": response.OriginatingEventID,
	})
}

// SplitMessage splits text into chunks of at most maxLength characters,
// preferring paragraph breaks, then single newlines, then spaces, and
// hard-cutting as a last resort.
func SplitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if len(text) <= maxLength {
			chunks = append(chunks, text)
			break
		}

		splitPos := strings.LastIndex(text[:maxLength], "\n\n")
		if splitPos <= 0 {
			splitPos = strings.LastIndex(text[:maxLength], "\n")
		}
		if splitPos <= 0 {
			splitPos = strings.LastIndex(text[:maxLength], " ")
		}
		if splitPos <= 0 {
			// Hard cut. maxLength is a byte offset and may land in
			// the middle of a multi-byte rune; walk back to the rune
			// start so every chunk stays valid UTF-8.
			splitPos = maxLength
			for splitPos > 0 && !utf8.RuneStart(text[splitPos]) {
				splitPos--
			}
			if splitPos == 0 {
				splitPos = maxLength
			}
		}

		chunks = append(chunks, text[:splitPos])
		text = strings.TrimLeftFunc(text[splitPos:], unicode.IsSpace)
	}

	return chunks
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns
// false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
