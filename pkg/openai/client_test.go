package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete_SendsImageAsDataURL(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"confidence\": 88}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 900, "completion_tokens": 120, "total_tokens": 1020}
		}`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewClient("sk-test", ts.URL+"/v1")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		Model:     "gpt-4o",
		System:    "You audit leaderboards.",
		User:      "Look at this page",
		Image:     []byte("png-bytes"),
		MaxTokens: 512,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"confidence": 88}`, resp.Content)
	assert.Equal(t, int64(900), resp.InputTokens)
	assert.Equal(t, int64(120), resp.OutputTokens)
	assert.Equal(t, "stop", resp.FinishReason)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	parts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	url := parts[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
	assert.Equal(t, float64(512), body["max_tokens"])
}

func TestComplete_TextOnly(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	resp, err := NewClient("sk-test", ts.URL+"/v1").Complete(context.Background(), CompletionRequest{Model: "gpt-4o", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].(map[string]any)["content"])
}

func TestComplete_NoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`)) //nolint:errcheck
	}))
	defer ts.Close()

	_, err := NewClient("sk-test", ts.URL+"/v1").Complete(context.Background(), CompletionRequest{Model: "gpt-4o", User: "hi"})
	assert.True(t, errors.Is(err, ErrNoChoices))
}

func TestComplete_APIErrorCarriesStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	_, err := NewClient("sk-test", ts.URL+"/v1").Complete(context.Background(), CompletionRequest{Model: "gpt-4o", User: "hi"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}
