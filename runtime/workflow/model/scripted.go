package model

import "context"

// Scripted is a deterministic Client for tests and offline demos. Text
// selects the completion for each request; when nil, Complete echoes the
// user message. Usage is derived from the text lengths at four characters
// per token, the same ratio the pre-run estimator uses, so budget accounting
// behaves like a live provider.
type Scripted struct {
	// Text produces the completion text for a request.
	Text func(Request) string

	// Cost prices the call from the request and derived usage. Zero cost
	// when nil.
	Cost func(Request, TokenUsage) float64

	// LatencyMS is reported verbatim on every response.
	LatencyMS int64

	// Err, when set, fails every call with this error.
	Err error
}

// Complete returns the scripted response for req.
func (s Scripted) Complete(_ context.Context, req Request) (Response, error) {
	if s.Err != nil {
		return Response{}, s.Err
	}
	text := req.UserMessage
	if s.Text != nil {
		text = s.Text(req)
	}
	usage := TokenUsage{
		Prompt:     (len(req.SystemPrompt) + len(req.UserMessage)) / 4,
		Completion: len(text) / 4,
	}
	resp := Response{
		Text:      text,
		Usage:     usage,
		Model:     req.Model,
		LatencyMS: s.LatencyMS,
	}
	if s.Cost != nil {
		resp.Cost = s.Cost(req, usage)
	}
	return resp, nil
}
