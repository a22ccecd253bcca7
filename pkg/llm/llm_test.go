package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer fakes the chat completions endpoint and records the last request body.
func chatServer(t *testing.T, content string, status int) (*httptest.Server, *map[string]any) {
	t.Helper()
	var last map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&last))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   last["model"],
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)
}

func TestOpenAI_Generate(t *testing.T) {
	srv, last := chatServer(t, "  Hey Asha!  ", http.StatusOK)

	gen, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), Request{
		System:      "You are Ella.",
		User:        "hi",
		Temperature: 0.7,
		MaxTokens:   150,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hey Asha!", out)

	body := *last
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.InDelta(t, 0.7, body["temperature"], 0.001)
	assert.EqualValues(t, 150, body["max_tokens"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "hi", messages[1].(map[string]any)["content"])
}

func TestOpenAI_SetModel(t *testing.T) {
	srv, last := chatServer(t, "ok", http.StatusOK)

	gen, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	gen.SetModel("gpt-4o")
	gen.SetModel("")
	assert.Equal(t, "gpt-4o", gen.Model())

	_, err = gen.Generate(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", (*last)["model"])
}

func TestOpenAI_EmptyCompletion(t *testing.T) {
	srv, _ := chatServer(t, "   ", http.StatusOK)

	gen, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), Request{User: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAI_ProviderError(t *testing.T) {
	srv, _ := chatServer(t, "", http.StatusInternalServerError)

	gen, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), Request{User: "hi"})
	assert.Error(t, err)
}

func TestNewRateLimited_Disabled(t *testing.T) {
	inner := GeneratorFunc(func(context.Context, Request) (string, error) { return "x", nil })
	gen := NewRateLimited(inner, 0, 0)
	_, isLimited := gen.(*RateLimited)
	assert.False(t, isLimited)
}

func TestRateLimited_Generate(t *testing.T) {
	var calls atomic.Int32
	inner := GeneratorFunc(func(context.Context, Request) (string, error) {
		calls.Add(1)
		return "x", nil
	})
	gen := NewRateLimited(inner, 1000, 1)

	for i := 0; i < 3; i++ {
		out, err := gen.Generate(context.Background(), Request{User: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "x", out)
	}
	assert.EqualValues(t, 3, calls.Load())
}

func TestRateLimited_ContextCancelled(t *testing.T) {
	inner := GeneratorFunc(func(context.Context, Request) (string, error) { return "x", nil })
	gen := NewRateLimited(inner, 0.001, 1)

	// drain the single token
	_, err := gen.Generate(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = gen.Generate(ctx, Request{})
	assert.Error(t, err)
}

func TestRateLimited_ForwardsModel(t *testing.T) {
	gen, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "a"})
	require.NoError(t, err)

	limited := NewRateLimited(gen, 10, 1).(*RateLimited)
	limited.SetModel("b")
	assert.Equal(t, "b", limited.Model())
	assert.Equal(t, "b", gen.Model())
}
