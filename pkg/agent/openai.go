package agent

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIRunner executes agent invocations against the OpenAI chat
// completions API.
type OpenAIRunner struct {
	client  openai.Client
	model   string
	pricing Pricing
}

// NewOpenAIRunner creates an OpenAI-backed runner.
func NewOpenAIRunner(apiKey, model string, pricing Pricing) *OpenAIRunner {
	return &OpenAIRunner{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		pricing: pricing,
	}
}

func (r *OpenAIRunner) RunCommand(ctx context.Context, prompt, workingDirectory string, userID int64) (*Response, error) {
	completion, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(workingDirectory, userID)),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion: empty choices")
	}

	return &Response{
		Content:   completion.Choices[0].Message.Content,
		Cost:      r.pricing.cost(completion.Usage.PromptTokens, completion.Usage.CompletionTokens),
		SessionID: completion.ID,
	}, nil
}

var _ Runner = (*OpenAIRunner)(nil)
