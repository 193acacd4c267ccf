package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no provider", Config{}},
		{"explicit none", Config{Provider: "none"}},
		{"openai without key", Config{Provider: "openai"}},
		{"gemini without key", Config{Provider: "gemini"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := New(context.Background(), tt.cfg)
			require.NoError(t, err)
			assert.Nil(t, gen)
		})
	}

	_, err := New(context.Background(), Config{Provider: "bard"})
	assert.Error(t, err)
}

func TestOpenAIGenerator(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Alpha changed."}}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	gen, err := New(context.Background(), Config{Provider: "openai", OpenAIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, "openai", gen.Name())

	out, err := gen.Generate(context.Background(), "system", "bullets")
	require.NoError(t, err)
	assert.Equal(t, "Alpha changed.", out)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.EqualValues(t, defaultMaxTokens, got["max_tokens"])
}

func TestOpenAIGeneratorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(Config{OpenAIKey: "sk-test", BaseURL: srv.URL, MaxTokens: 10})
	_, err := gen.Generate(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "no choices")
}
