// Package bedrock provides a model.Client backed by the AWS Bedrock Converse
// API. It translates step requests into Converse calls, classifies smithy
// API errors into retryable kinds, and prices reported usage with the
// engine's pricing table.
package bedrock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/pricing"
)

// Provider is the provider tag reported in errors, responses and records.
const Provider = "bedrock"

const opConverse = "converse"

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass
// either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// DefaultModel serves requests that do not name a model, using the
	// Bedrock model identifier (e.g.
	// "anthropic.claude-3-5-sonnet-20240620-v1:0").
	DefaultModel string

	// Pricing prices reported usage. Defaults to the built-in table.
	Pricing *pricing.Table
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	pricing *pricing.Table
}

// New builds a Bedrock-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	table := opts.Pricing
	if table == nil {
		table = pricing.Default()
	}
	return &Client{runtime: opts.Runtime, model: opts.DefaultModel, pricing: table}, nil
}

// Complete issues a Converse request. The system prompt maps to the input's
// system blocks; the assembled step input becomes a single user message.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []brtypes.Message{{
			Role: brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: req.UserMessage},
			},
		}},
	}
	if req.SystemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}
	if cfg := inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	output, err := c.runtime.Converse(ctx, input)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return model.Response{}, classify(err)
	}
	if output == nil {
		return model.Response{}, model.NewError(Provider, opConverse, 0,
			model.KindInvalidResponse, "response is nil", nil)
	}

	var text strings.Builder
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if v, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text.WriteString(v.Value)
			}
		}
	}
	if text.Len() == 0 {
		return model.Response{}, model.NewError(Provider, opConverse, 0,
			model.KindInvalidResponse, "response contained no text blocks", nil)
	}

	var usage model.TokenUsage
	if u := output.Usage; u != nil {
		usage = model.TokenUsage{
			Prompt:     int(aws.ToInt32(u.InputTokens)),
			Completion: int(aws.ToInt32(u.OutputTokens)),
		}
	}
	return model.Response{
		Text:      text.String(),
		Usage:     usage,
		Model:     modelID,
		LatencyMS: latency,
		Cost:      c.pricing.Cost(Provider, modelID, usage.Prompt, usage.Completion),
	}, nil
}

func inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens)) //nolint:gosec // AWS SDK requires int32
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

// classify maps smithy errors onto the engine's error kinds. Bedrock signals
// throttling both by HTTP 429 and by error code, so both are checked.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(Provider, opConverse, 0, model.KindTimeout,
			"attempt deadline exceeded", err)
	}

	var (
		status int
		code   string
		msg    string
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	kind := model.KindTransient
	switch {
	case status == 429 || code == "ThrottlingException" || code == "TooManyRequestsException":
		kind = model.KindRateLimited
	case code == "ModelTimeoutException":
		kind = model.KindTimeout
	case status >= 500 || code == "ServiceUnavailableException" || code == "InternalServerException" || code == "ModelNotReadyException":
		kind = model.KindTransient
	case status >= 400 || code == "ValidationException" || code == "AccessDeniedException" || code == "ResourceNotFoundException":
		kind = model.KindConfiguration
	}
	if msg == "" {
		msg = code
	}
	return model.NewError(Provider, opConverse, status, kind, msg, err)
}
