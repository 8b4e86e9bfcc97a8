// Package anthropic provides a model.Client backed by the Anthropic Claude
// Messages API. It translates step requests into anthropic.Message calls
// using github.com/anthropics/anthropic-sdk-go, classifies provider failures
// into retryable kinds, and prices reported usage with the engine's pricing
// table.
package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/pricing"
)

// Provider is the provider tag reported in errors, responses and records.
const Provider = "anthropic"

const opMessages = "messages.new"

// DefaultMaxTokens caps completions when neither the request nor the options
// specify one. The Messages API rejects requests without a cap.
const DefaultMaxTokens = 1024

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the Anthropic adapter.
	Options struct {
		// DefaultModel serves requests that do not name a model. Use the typed
		// model constants from github.com/anthropics/anthropic-sdk-go or the
		// identifiers from the Anthropic model reference.
		DefaultModel string

		// MaxTokens is the completion cap applied when a request does not
		// specify one. Defaults to DefaultMaxTokens.
		MaxTokens int

		// Aliases maps engine model names to concrete API identifiers, e.g.
		// "claude-3.5-sonnet" to a dated snapshot ID. Unmapped names pass
		// through unchanged.
		Aliases map[string]string

		// Pricing prices reported usage. Defaults to the built-in table.
		Pricing *pricing.Table
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg     MessagesClient
		model   string
		maxTok  int
		aliases map[string]string
		pricing *pricing.Table
	}
)

// New builds an Anthropic-backed model client from the provided Messages
// client and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = DefaultMaxTokens
	}
	table := opts.Pricing
	if table == nil {
		table = pricing.Default()
	}
	return &Client{
		msg:     msg,
		model:   opts.DefaultModel,
		maxTok:  maxTok,
		aliases: opts.Aliases,
		pricing: table,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request. The system prompt
// maps to the params' system blocks; the assembled step input becomes a
// single user message.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	apiModel := modelID
	if mapped, ok := c.aliases[modelID]; ok && mapped != "" {
		apiModel = mapped
	}
	maxTok := req.MaxTokens
	if maxTok <= 0 {
		maxTok = c.maxTok
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(apiModel),
		MaxTokens: int64(maxTok),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.UserMessage))},
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := c.msg.New(ctx, params)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return model.Response{}, classify(err)
	}
	if msg == nil {
		return model.Response{}, model.NewError(Provider, opMessages, 0,
			model.KindInvalidResponse, "response message is nil", nil)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return model.Response{}, model.NewError(Provider, opMessages, 0,
			model.KindInvalidResponse, "response contained no text blocks", nil)
	}

	usage := model.TokenUsage{
		Prompt:     int(msg.Usage.InputTokens),
		Completion: int(msg.Usage.OutputTokens),
	}
	served := string(msg.Model)
	if served == "" {
		served = apiModel
	}
	return model.Response{
		Text:      text.String(),
		Usage:     usage,
		Model:     served,
		LatencyMS: latency,
		// Rates are keyed by the engine model name, not the dated snapshot ID.
		Cost: c.pricing.Cost(Provider, modelID, usage.Prompt, usage.Completion),
	}, nil
}

// classify maps SDK errors onto the engine's error kinds using the HTTP
// status carried by *sdk.Error. 429 is a throttle, 529 is Anthropic's
// overloaded signal and retries like any other 5xx.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(Provider, opMessages, 0, model.KindTimeout,
			"attempt deadline exceeded", err)
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := model.KindTransient
		switch {
		case apiErr.StatusCode == 429:
			kind = model.KindRateLimited
		case apiErr.StatusCode >= 500:
			kind = model.KindTransient
		case apiErr.StatusCode >= 400:
			kind = model.KindConfiguration
		}
		return model.NewError(Provider, opMessages, apiErr.StatusCode, kind, apiErr.Error(), err)
	}
	return model.NewError(Provider, opMessages, 0, model.KindTransient, "", err)
}
