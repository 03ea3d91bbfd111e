// Package agent bridges bus events to an external agent and republishes
// the agent's responses. The agent itself is opaque: prompt in, response
// text plus cost and tool usage out.
package agent

import "context"

// ToolUse records one tool invocation the agent made while producing a
// response.
type ToolUse struct {
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// Response is the result of one agent invocation.
type Response struct {
	Content   string    `json:"content"`
	Cost      float64   `json:"cost"`
	ToolsUsed []ToolUse `json:"tools_used,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	IsError   bool      `json:"is_error"`
}

// Runner executes one agent invocation. Implementations may take
// arbitrarily long and may fail; callers treat any error uniformly as
// "agent call failed".
type Runner interface {
	RunCommand(ctx context.Context, prompt, workingDirectory string, userID int64) (*Response, error)
}
