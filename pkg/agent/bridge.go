package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/logger"
)

// Payload summarization bounds. Arbitrary third-party webhook payloads
// must never produce an unbounded or deeply nested prompt.
const (
	payloadMaxDepth    = 2
	payloadScalarLimit = 200
	payloadListPreview = 3
	payloadSummaryCap  = 2000
)

// Bridge translates input events into agent invocations and republishes
// the result as AgentResponseEvent. Agent-call failures are logged and
// swallowed: the bus never sees them.
type Bridge struct {
	bus                     *events.Bus
	runner                  Runner
	defaultWorkingDirectory string
	defaultUserID           int64
}

// NewBridge creates an agent bridge.
func NewBridge(bus *events.Bus, runner Runner, defaultWorkingDirectory string, defaultUserID int64) *Bridge {
	return &Bridge{
		bus:                     bus,
		runner:                  runner,
		defaultWorkingDirectory: defaultWorkingDirectory,
		defaultUserID:           defaultUserID,
	}
}

// Register subscribes the bridge to the events that need agent
// processing.
func (b *Bridge) Register() {
	b.bus.Subscribe(events.TypeWebhook, b.HandleWebhook)
	b.bus.Subscribe(events.TypeScheduled, b.HandleScheduled)
	b.bus.Subscribe(events.TypeUserMessage, b.HandleUserMessage)
}

// HandleWebhook processes a webhook event through the agent. The
// response is broadcast to default chats (chat id 0) since a webhook
// alone does not identify a destination.
func (b *Bridge) HandleWebhook(ctx context.Context, event events.Event) error {
	webhook, ok := event.(*events.WebhookEvent)
	if !ok {
		return nil
	}

	logger.InfoCF("agent", "Processing webhook event", map[string]interface{}{
		"provider":    webhook.Provider,
		"event_type":  webhook.EventTypeName,
		"delivery_id": webhook.DeliveryID,
	})

	prompt := b.buildWebhookPrompt(webhook)

	response, err := b.runner.RunCommand(ctx, prompt, b.defaultWorkingDirectory, b.defaultUserID)
	if err != nil {
		logger.ErrorCF("agent", "Agent execution failed for webhook event", map[string]interface{}{
			"provider": webhook.Provider,
			"event_id": webhook.EventID(),
			"error":    err.Error(),
		})
		return nil
	}

	if response.Content != "" {
		b.bus.Publish(events.NewAgentResponseEvent(0, response.Content, webhook.EventID()))
	}
	return nil
}

// HandleScheduled processes a scheduled trigger through the agent and
// publishes one response per target chat, or a single broadcast when no
// targets are set.
func (b *Bridge) HandleScheduled(ctx context.Context, event events.Event) error {
	scheduled, ok := event.(*events.ScheduledEvent)
	if !ok {
		return nil
	}

	logger.InfoCF("agent", "Processing scheduled event", map[string]interface{}{
		"job_id":   scheduled.JobID,
		"job_name": scheduled.JobName,
	})

	prompt := buildScheduledPrompt(scheduled)

	workingDir := scheduled.WorkingDirectory
	if workingDir == "" {
		workingDir = b.defaultWorkingDirectory
	}

	response, err := b.runner.RunCommand(ctx, prompt, workingDir, b.defaultUserID)
	if err != nil {
		logger.ErrorCF("agent", "Agent execution failed for scheduled event", map[string]interface{}{
			"job_id":   scheduled.JobID,
			"event_id": scheduled.EventID(),
			"error":    err.Error(),
		})
		return nil
	}

	if response.Content == "" {
		return nil
	}

	if len(scheduled.TargetChatIDs) == 0 {
		b.bus.Publish(events.NewAgentResponseEvent(0, response.Content, scheduled.EventID()))
		return nil
	}
	for _, chatID := range scheduled.TargetChatIDs {
		b.bus.Publish(events.NewAgentResponseEvent(chatID, response.Content, scheduled.EventID()))
	}
	return nil
}

// HandleUserMessage processes a direct chat message and replies to the
// originating chat.
func (b *Bridge) HandleUserMessage(ctx context.Context, event events.Event) error {
	message, ok := event.(*events.UserMessageEvent)
	if !ok {
		return nil
	}

	workingDir := message.WorkingDirectory
	if workingDir == "" {
		workingDir = b.defaultWorkingDirectory
	}

	response, err := b.runner.RunCommand(ctx, message.Text, workingDir, message.UserID)
	if err != nil {
		logger.ErrorCF("agent", "Agent execution failed for user message", map[string]interface{}{
			"chat_id":  message.ChatID,
			"event_id": message.EventID(),
			"error":    err.Error(),
		})
		return nil
	}

	if response.Content != "" {
		b.bus.Publish(events.NewAgentResponseEvent(message.ChatID, response.Content, message.EventID()))
	}
	return nil
}

func (b *Bridge) buildWebhookPrompt(event *events.WebhookEvent) string {
	return fmt.Sprintf(
		"A %s webhook event occurred.\nEvent type: %s\nPayload summary:\n%s\n\n"+
			"Analyze this event and provide a concise summary. Highlight anything that needs my attention.",
		event.Provider,
		event.EventTypeName,
		summarizePayload(event.Payload),
	)
}

func buildScheduledPrompt(event *events.ScheduledEvent) string {
	if event.SkillName == "" {
		return event.Prompt
	}
	if event.Prompt == "" {
		return "/" + event.SkillName
	}
	return fmt.Sprintf("/%s\n\n%s", event.SkillName, event.Prompt)
}

// summarizePayload renders a bounded, readable summary of an arbitrary
// payload: at most payloadMaxDepth levels deep, scalars truncated at
// payloadScalarLimit chars, the whole summary capped at
// payloadSummaryCap chars.
func summarizePayload(payload map[string]interface{}) string {
	var lines []string
	flattenValue(payload, &lines, "", 0)

	summary := strings.Join(lines, "\n")
	if len(summary) > payloadSummaryCap {
		summary = summary[:payloadSummaryCap] + "\n... (truncated)"
	}
	return summary
}

func flattenValue(data interface{}, lines *[]string, prefix string, depth int) {
	if depth >= payloadMaxDepth {
		*lines = append(*lines, prefix+": ...")
		return
	}

	switch value := data.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fullKey := key
			if prefix != "" {
				fullKey = prefix + "." + key
			}
			switch value[key].(type) {
			case map[string]interface{}, []interface{}:
				flattenValue(value[key], lines, fullKey, depth+1)
			default:
				*lines = append(*lines, fullKey+": "+scalarString(value[key]))
			}
		}
	case []interface{}:
		*lines = append(*lines, fmt.Sprintf("%s: [%d items]", prefix, len(value)))
		for i, item := range value {
			if i >= payloadListPreview {
				break
			}
			flattenValue(item, lines, fmt.Sprintf("%s[%d]", prefix, i), depth+1)
		}
	default:
		*lines = append(*lines, prefix+": "+scalarString(value))
	}
}

func scalarString(value interface{}) string {
	s := fmt.Sprintf("%v", value)
	if len(s) > payloadScalarLimit {
		s = s[:payloadScalarLimit] + "..."
	}
	return s
}
