// Package openai provides a model.Client backed by the OpenAI Chat
// Completions API. It translates step requests into ChatCompletion calls
// using github.com/sashabaranov/go-openai, classifies provider failures into
// retryable kinds, and prices reported usage with the engine's pricing table.
package openai

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/pricing"
)

// Provider is the provider tag reported in errors, responses and records.
const Provider = "openai"

const opChatCompletion = "chat.completions"

// ChatClient captures the subset of the go-openai client used by the adapter.
// It is satisfied by *openai.Client so tests can substitute a mock.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	// Client issues the Chat Completions calls. Required.
	Client ChatClient

	// DefaultModel serves requests that do not name a model.
	DefaultModel string

	// Pricing prices reported usage. Defaults to the built-in table.
	Pricing *pricing.Table
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat    ChatClient
	model   string
	pricing *pricing.Table
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	table := opts.Pricing
	if table == nil {
		table = pricing.Default()
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel, pricing: table}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete renders a single-turn chat completion. The system prompt and the
// assembled step input become one system and one user message.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserMessage,
	})

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return model.Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, model.NewError(Provider, opChatCompletion, 0,
			model.KindInvalidResponse, "response contained no choices", nil)
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return model.Response{}, model.NewError(Provider, opChatCompletion, 0,
			model.KindInvalidResponse, "response contained no content", nil)
	}

	served := resp.Model
	if served == "" {
		served = modelID
	}
	usage := model.TokenUsage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
	}
	return model.Response{
		Text:      text,
		Usage:     usage,
		Model:     served,
		LatencyMS: latency,
		Cost:      c.pricing.Cost(Provider, modelID, usage.Prompt, usage.Completion),
	}, nil
}

// classify maps go-openai errors onto the engine's error kinds. Status 429
// is a throttle, 5xx is transient, and the 4xx family means the request
// itself is wrong and will not succeed on retry.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(Provider, opChatCompletion, 0, model.KindTimeout,
			"attempt deadline exceeded", err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return model.NewError(Provider, opChatCompletion, apiErr.HTTPStatusCode,
			kindForStatus(apiErr.HTTPStatusCode), apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return model.NewError(Provider, opChatCompletion, reqErr.HTTPStatusCode,
			kindForStatus(reqErr.HTTPStatusCode), reqErr.Error(), err)
	}
	return model.NewError(Provider, opChatCompletion, 0, model.KindTransient, "", err)
}

func kindForStatus(status int) model.ErrorKind {
	switch {
	case status == 429:
		return model.KindRateLimited
	case status >= 500:
		return model.KindTransient
	case status >= 400:
		return model.KindConfiguration
	default:
		return model.KindTransient
	}
}
