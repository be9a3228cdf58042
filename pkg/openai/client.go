// Package openai wraps go-openai chat completions with image input, as the
// alternate oracle transport.
package openai

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/rotisserie/eris"
	goopenai "github.com/sashabaranov/go-openai"
)

// Client defines the chat completion operation used by the oracle.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn vision request.
type CompletionRequest struct {
	Model     string
	System    string
	User      string
	Image     []byte
	MediaType string
	MaxTokens int
}

// CompletionResponse carries the first choice and token usage.
type CompletionResponse struct {
	Model        string
	Content      string
	FinishReason string
	InputTokens  int64
	OutputTokens int64
}

// APIError carries the HTTP status of a failed request.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string { return e.Err.Error() }

func (e *APIError) Unwrap() error { return e.Err }

// ErrNoChoices is returned when the API answers without any choice.
var ErrNoChoices = eris.New("openai: response has no choices")

type sdkClient struct {
	client *goopenai.Client
}

// NewClient creates a Client for apiKey. A non-empty baseURL overrides the
// API endpoint (proxies, tests).
func NewClient(apiKey, baseURL string) Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &sdkClient{client: goopenai.NewClientWithConfig(cfg)}
}

func (c *sdkClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, buildRequest(req))
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}

func buildRequest(req CompletionRequest) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	user := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser}
	if len(req.Image) > 0 {
		mediaType := req.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		user.MultiContent = []goopenai.ChatMessagePart{
			{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
					Detail: goopenai.ImageURLDetailHigh,
				},
			},
			{Type: goopenai.ChatMessagePartTypeText, Text: req.User},
		}
	} else {
		user.Content = req.User
	}
	messages = append(messages, user)

	out := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	return out
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Err: eris.Wrap(err, "openai: chat completion")}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Err: eris.Wrap(err, "openai: chat completion")}
	}
	return eris.Wrap(err, "openai: chat completion")
}
