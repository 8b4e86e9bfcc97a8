// Package model defines the provider-agnostic contract the engine uses to
// invoke LLM completions. Implementations wrap provider SDKs (OpenAI,
// Anthropic, Bedrock) and translate Request/Response to provider-specific
// formats, including cost computation from the pricing table. The engine
// never couples to an SDK directly.
package model

import (
	"context"
	"time"
)

type (
	// Client is the contract step execution uses to invoke a model. Clients
	// must be safe for concurrent use: a parallel group dispatches all of its
	// steps against the same client.
	Client interface {
		// Complete sends a single-turn completion request to the provider and
		// returns the normalized response. Errors are reported as *Error values
		// carrying a Kind the retry policy can act on.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters for one step invocation.
	Request struct {
		// Provider tags the backing provider ("openai", "anthropic", "bedrock").
		// Informational for clients that serve a single provider; gateways use
		// it for routing.
		Provider string

		// Model identifies the target model using the provider-specific
		// identifier (e.g. "gpt-4o", "claude-3.5-sonnet").
		Model string

		// SystemPrompt is the node's system instruction. May be empty.
		SystemPrompt string

		// UserMessage is the fully assembled step input: dependency outputs,
		// recalled memory, and the root user input for source nodes.
		UserMessage string

		// Temperature controls sampling temperature (0.0 to 2.0).
		Temperature float32

		// MaxTokens caps the number of completion tokens generated.
		MaxTokens int

		// Timeout bounds a single attempt. Zero means no per-attempt bound
		// beyond the request context. Implementations apply it with
		// context.WithTimeout.
		Timeout time.Duration
	}

	// Response wraps the generated content with the accounting fields the
	// enforcer and the event stream consume.
	Response struct {
		// Text is the generated completion text.
		Text string

		// Usage reports prompt and completion token counts. Zero values mean
		// the provider did not report usage.
		Usage TokenUsage

		// Model is the model identifier that actually served the request. May
		// differ from Request.Model when the provider resolves aliases.
		Model string

		// LatencyMS is the wall-clock duration of the provider call in
		// milliseconds, measured around the SDK invocation.
		LatencyMS int64

		// Cost is the computed cost in USD for this call, derived from the
		// pricing table and the reported usage.
		Cost float64
	}

	// TokenUsage records prompt/completion token counts for one call.
	TokenUsage struct {
		// Prompt counts tokens consumed by the system prompt and user message.
		Prompt int

		// Completion counts tokens produced by the model.
		Completion int
	}
)

// Total returns the aggregate token count for the call.
func (u TokenUsage) Total() int { return u.Prompt + u.Completion }

// Add accumulates another usage record into u and returns the sum.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Prompt:     u.Prompt + other.Prompt,
		Completion: u.Completion + other.Completion,
	}
}
