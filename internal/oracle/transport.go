package oracle

import (
	"context"
	"errors"
	"net/http"

	"github.com/techdev-loop/leaderboard-sub002/pkg/anthropic"
	"github.com/techdev-loop/leaderboard-sub002/pkg/openai"
)

// TransportRequest is one provider round trip.
type TransportRequest struct {
	Model     string
	System    string
	User      string
	Image     []byte
	MediaType string
	MaxTokens int
}

// TransportResponse is the raw provider answer.
type TransportResponse struct {
	Model        string
	Content      string
	InputTokens  int64
	OutputTokens int64
}

// Transport sends a single request to a provider. Implementations return
// *Error so the client can decide what to retry.
type Transport interface {
	Name() string
	Send(ctx context.Context, req TransportRequest) (*TransportResponse, error)
}

// AnthropicTransport adapts pkg/anthropic.
type AnthropicTransport struct {
	client anthropic.Client
}

// NewAnthropicTransport wraps an Anthropic client.
func NewAnthropicTransport(c anthropic.Client) *AnthropicTransport {
	return &AnthropicTransport{client: c}
}

func (t *AnthropicTransport) Name() string { return "anthropic" }

func (t *AnthropicTransport) Send(ctx context.Context, req TransportRequest) (*TransportResponse, error) {
	msg := anthropic.Message{Role: "user", Content: req.User}
	if len(req.Image) > 0 {
		msg.Images = []anthropic.Image{{MediaType: mediaTypeOrPNG(req.MediaType), Data: req.Image}}
	}
	mr := anthropic.MessageRequest{
		Model:     req.Model,
		MaxTokens: int64(req.MaxTokens),
		Messages:  []anthropic.Message{msg},
	}
	if req.System != "" {
		mr.System = anthropic.CachedSystem(req.System)
	}

	resp, err := t.client.CreateMessage(ctx, mr)
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, classify(err, apiErr.StatusCode)
		}
		return nil, classify(err, 0)
	}
	u := resp.Usage
	out := &TransportResponse{
		Model:        resp.Model,
		Content:      resp.Text(),
		InputTokens:  u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens,
		OutputTokens: u.OutputTokens,
	}
	if resp.StopReason == "max_tokens" && out.Content == "" {
		return nil, tokenLimit(out)
	}
	return out, nil
}

// OpenAITransport adapts pkg/openai.
type OpenAITransport struct {
	client openai.Client
}

// NewOpenAITransport wraps an OpenAI client.
func NewOpenAITransport(c openai.Client) *OpenAITransport {
	return &OpenAITransport{client: c}
}

func (t *OpenAITransport) Name() string { return "openai" }

func (t *OpenAITransport) Send(ctx context.Context, req TransportRequest) (*TransportResponse, error) {
	resp, err := t.client.Complete(ctx, openai.CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		User:      req.User,
		Image:     req.Image,
		MediaType: mediaTypeOrPNG(req.MediaType),
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, classify(err, apiErr.StatusCode)
		}
		return nil, classify(err, 0)
	}
	out := &TransportResponse{
		Model:        resp.Model,
		Content:      resp.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if resp.FinishReason == "length" && out.Content == "" {
		return nil, tokenLimit(out)
	}
	return out, nil
}

// tokenLimit reports an answer cut off before any text. The provider still
// billed the tokens, so they ride along on the error.
func tokenLimit(r *TransportResponse) *Error {
	return &Error{
		Kind:       KindTokenLimit,
		StatusCode: http.StatusOK,
		Usage:      Usage{InputTokens: r.InputTokens, OutputTokens: r.OutputTokens},
		model:      r.Model,
	}
}

func mediaTypeOrPNG(mt string) string {
	if mt == "" {
		return "image/png"
	}
	return mt
}
