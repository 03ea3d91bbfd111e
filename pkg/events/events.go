// Package events defines the typed event contracts for codexbot and the
// asynchronous bus that routes them. Every input source (Telegram, webhook
// ingress, cron, console) and every sink (agent bridge, notification
// delivery) communicates exclusively through these types. No ad-hoc
// map[string]interface{} events.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies events for subscription routing. The type is an
// explicit tag, never derived from reflection, so the registry can key
// on it directly.
type EventType string

const (
	TypeUserMessage   EventType = "message.user"
	TypeWebhook       EventType = "webhook.received"
	TypeScheduled     EventType = "cron.triggered"
	TypeAgentResponse EventType = "agent.response"
)

// Event is the interface every bus event implements. Events are immutable
// after construction: one event instance may be shared by concurrently
// running handlers, so handlers must treat it as read-only.
type Event interface {
	// EventID returns the unique id assigned at construction.
	EventID() string
	// EventType returns the routing tag of the concrete kind.
	EventType() EventType
	// OccurredAt returns the creation timestamp.
	OccurredAt() time.Time
	// Origin returns the free-text source tag ("telegram", "webhook", ...).
	Origin() string
}

// BaseEvent carries the identity fields shared by all event kinds.
// The routing tag is intentionally not stored here; each concrete kind
// computes it, so tag and kind cannot desync.
type BaseEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) Origin() string        { return e.Source }

// NewBase creates the identity fields for a new event.
func NewBase(source string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// UserMessageEvent is a chat message from a user.
type UserMessageEvent struct {
	BaseEvent
	UserID           int64  `json:"user_id"`
	ChatID           int64  `json:"chat_id"`
	Text             string `json:"text"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

func (UserMessageEvent) EventType() EventType { return TypeUserMessage }

// NewUserMessageEvent creates a user message event.
func NewUserMessageEvent(source string, userID, chatID int64, text, workingDir string) *UserMessageEvent {
	return &UserMessageEvent{
		BaseEvent:        NewBase(source),
		UserID:           userID,
		ChatID:           chatID,
		Text:             text,
		WorkingDirectory: workingDir,
	}
}

// WebhookEvent is an external webhook delivery (GitHub, generic providers).
// Deduplication by DeliveryID happens in the ingress layer before the
// event reaches the bus.
type WebhookEvent struct {
	BaseEvent
	Provider      string                 `json:"provider"`
	EventTypeName string                 `json:"event_type_name"`
	Payload       map[string]interface{} `json:"payload"`
	DeliveryID    string                 `json:"delivery_id"`
}

func (WebhookEvent) EventType() EventType { return TypeWebhook }

// NewWebhookEvent creates a webhook event.
func NewWebhookEvent(provider, eventTypeName string, payload map[string]interface{}, deliveryID string) *WebhookEvent {
	return &WebhookEvent{
		BaseEvent:     NewBase("webhook"),
		Provider:      provider,
		EventTypeName: eventTypeName,
		Payload:       payload,
		DeliveryID:    deliveryID,
	}
}

// ScheduledEvent is a cron trigger firing.
type ScheduledEvent struct {
	BaseEvent
	JobID            string  `json:"job_id"`
	JobName          string  `json:"job_name"`
	Prompt           string  `json:"prompt"`
	SkillName        string  `json:"skill_name,omitempty"`
	TargetChatIDs    []int64 `json:"target_chat_ids,omitempty"`
	WorkingDirectory string  `json:"working_directory,omitempty"`
}

func (ScheduledEvent) EventType() EventType { return TypeScheduled }

// NewScheduledEvent creates a scheduled trigger event.
func NewScheduledEvent(jobID, jobName, prompt, skillName string, targetChatIDs []int64, workingDir string) *ScheduledEvent {
	return &ScheduledEvent{
		BaseEvent:        NewBase("scheduler"),
		JobID:            jobID,
		JobName:          jobName,
		Prompt:           prompt,
		SkillName:        skillName,
		TargetChatIDs:    targetChatIDs,
		WorkingDirectory: workingDir,
	}
}

// AgentResponseEvent is a produced agent response awaiting delivery.
// ChatID 0 means "broadcast to the configured default chats".
type AgentResponseEvent struct {
	BaseEvent
	ChatID             int64  `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode,omitempty"`
	ReplyToMessageID   int64  `json:"reply_to_message_id,omitempty"`
	OriginatingEventID string `json:"originating_event_id,omitempty"`
}

func (AgentResponseEvent) EventType() EventType { return TypeAgentResponse }

// NewAgentResponseEvent creates an agent response event.
func NewAgentResponseEvent(chatID int64, text, originatingEventID string) *AgentResponseEvent {
	return &AgentResponseEvent{
		BaseEvent:          NewBase("agent"),
		ChatID:             chatID,
		Text:               text,
		OriginatingEventID: originatingEventID,
	}
}
