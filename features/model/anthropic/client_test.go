package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/braidflow/braid/runtime/workflow/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestCompleteTextOnly(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stub.resp = &sdk.Message{
		Model: sdk.Model("claude-3-5-sonnet-20240620"),
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "world"},
		},
		Usage: sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}

	resp, err := cl.Complete(context.Background(), model.Request{
		SystemPrompt: "Be terse.",
		UserMessage:  "hello",
		Temperature:  0.5,
		MaxTokens:    128,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "world" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Model != "claude-3-5-sonnet-20240620" {
		t.Fatalf("unexpected model %q", resp.Model)
	}
	if resp.Usage.Prompt != 10 || resp.Usage.Completion != 5 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if want := 0.000105; resp.Cost != want {
		t.Fatalf("unexpected cost %v, want %v", resp.Cost, want)
	}

	params := stub.lastParams
	if got := string(params.Model); got != "claude-3.5-sonnet" {
		t.Fatalf("unexpected model param %q", got)
	}
	if params.MaxTokens != 128 {
		t.Fatalf("unexpected max tokens %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "Be terse." {
		t.Fatalf("unexpected system blocks: %+v", params.System)
	}
	if len(params.Messages) != 1 || params.Messages[0].Role != sdk.MessageParamRoleUser {
		t.Fatalf("unexpected messages: %+v", params.Messages)
	}
	if params.Temperature.Value != 0.5 {
		t.Fatalf("unexpected temperature %v", params.Temperature.Value)
	}
}

func TestCompleteJoinsTextBlocks(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "part one "},
			{Type: "tool_use"},
			{Type: "text", Text: "part two"},
		},
	}}
	cl, err := New(stub, Options{DefaultModel: "claude-3-haiku"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := cl.Complete(context.Background(), model.Request{UserMessage: "go"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "part one part two" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestCompleteAppliesAlias(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
		Usage:   sdk.Usage{InputTokens: 1000, OutputTokens: 1000},
	}}
	cl, err := New(stub, Options{
		DefaultModel: "claude-3.5-sonnet",
		Aliases:      map[string]string{"claude-3.5-sonnet": "claude-3-5-sonnet-20240620"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := cl.Complete(context.Background(), model.Request{UserMessage: "go"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := string(stub.lastParams.Model); got != "claude-3-5-sonnet-20240620" {
		t.Fatalf("alias not applied, model param %q", got)
	}
	// Pricing stays keyed by the engine name the alias resolved from.
	if want := 0.018; resp.Cost != want {
		t.Fatalf("unexpected cost %v, want %v", resp.Cost, want)
	}
}

func TestCompleteNoTextIsInvalidResponse(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "tool_use"}},
	}}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Complete(context.Background(), model.Request{UserMessage: "go"})
	merr, ok := model.AsError(err)
	if !ok {
		t.Fatalf("expected *model.Error, got %v", err)
	}
	if merr.Kind() != model.KindInvalidResponse {
		t.Fatalf("unexpected kind %q", merr.Kind())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status int
		kind   model.ErrorKind
	}{
		{"throttled", 429, model.KindRateLimited},
		{"overloaded", 529, model.KindTransient},
		{"bad request", 400, model.KindConfiguration},
		{"unauthorized", 401, model.KindConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubMessagesClient{err: &sdk.Error{StatusCode: tc.status}}
			cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet"})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			_, err = cl.Complete(context.Background(), model.Request{UserMessage: "go"})
			merr, ok := model.AsError(err)
			if !ok {
				t.Fatalf("expected *model.Error, got %v", err)
			}
			if merr.Kind() != tc.kind {
				t.Fatalf("unexpected kind %q", merr.Kind())
			}
			if merr.HTTPStatus() != tc.status {
				t.Fatalf("unexpected status %d", merr.HTTPStatus())
			}
		})
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(nil, Options{DefaultModel: "claude-3.5-sonnet"}); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := New(&stubMessagesClient{}, Options{}); err == nil {
		t.Fatal("expected error for missing default model")
	}
	if _, err := NewFromAPIKey("", "claude-3.5-sonnet"); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
