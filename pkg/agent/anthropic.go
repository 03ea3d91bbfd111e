package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicRunner executes agent invocations against the Anthropic
// Messages API.
type AnthropicRunner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	pricing   Pricing
}

// Pricing converts token usage into a dollar cost. Zero rates yield a
// zero cost.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

func (p Pricing) cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

// NewAnthropicRunner creates an Anthropic-backed runner.
func NewAnthropicRunner(apiKey, model string, maxTokens int64, pricing Pricing) *AnthropicRunner {
	return &AnthropicRunner{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		pricing:   pricing,
	}
}

func (r *AnthropicRunner) RunCommand(ctx context.Context, prompt, workingDirectory string, userID int64) (*Response, error) {
	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: r.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(workingDirectory, userID)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var content strings.Builder
	var tools []ToolUse
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			tools = append(tools, ToolUse{Name: variant.Name})
		}
	}

	return &Response{
		Content:   content.String(),
		Cost:      r.pricing.cost(message.Usage.InputTokens, message.Usage.OutputTokens),
		ToolsUsed: tools,
		SessionID: message.ID,
	}, nil
}

func systemPrompt(workingDirectory string, userID int64) string {
	var sb strings.Builder
	sb.WriteString("You are codexbot, an assistant that reacts to chat messages, webhooks and scheduled jobs. ")
	sb.WriteString("Keep responses concise and suitable for a chat message.")
	if workingDirectory != "" {
		fmt.Fprintf(&sb, " Working directory: %s.", workingDirectory)
	}
	if userID != 0 {
		fmt.Fprintf(&sb, " Requesting user id: %d.", userID)
	}
	return sb.String()
}

var _ Runner = (*AnthropicRunner)(nil)
