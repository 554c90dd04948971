// Package llm wraps the model providers behind a minimal text-in/text-out
// contract. The planner sends a system instruction plus one user message
// and reads back a single line of free text describing the next browser
// action; no structured schema is enforced on the reply.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const envProvider = "LLM_PROVIDER" // "anthropic" or "openai"

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

type Response struct {
	Text string
}

// FirstLine extracts the action line from a model reply: the first
// non-empty line, stripped of list markers and surrounding quotes.
func (r Response) FirstLine() string {
	for _, line := range strings.Split(r.Text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		line = strings.Trim(line, "\"'`")
		if line != "" {
			return line
		}
	}
	return ""
}

// NewClientWithLogger creates a provider client based on LLM_PROVIDER,
// defaulting to Anthropic.
func NewClientWithLogger(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}
	switch provider {
	case "openai":
		return NewOpenAIWithLogger(logger)
	case "anthropic":
		return NewAnthropicWithLogger(logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}
