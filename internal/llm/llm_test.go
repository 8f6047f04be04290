package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
)

func testSources() []citations.NumberedSource {
	ts := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	return []citations.NumberedSource{
		{ID: "1", SourceType: citations.SourceDocument, Title: "Eval report", Locator: "eval.pdf#page=2", Snippet: "Accuracy rose 40%."},
		{ID: "L1", SourceType: citations.SourceLiveData, Title: "", Locator: "https://news.example.com/ai", Snippet: strings.Repeat("é", 700), Timestamp: &ts},
	}
}

func TestBuildUserContent(t *testing.T) {
	out := BuildUserContent("  How accurate is it? ", testSources())

	assert.Contains(t, out, "[1] Eval report (eval.pdf#page=2)\n    Content: Accuracy rose 40%.\n")
	assert.Contains(t, out, "[L1] https://news.example.com/ai (https://news.example.com/ai, 2026-10-18T08:00:00Z)")
	assert.Contains(t, out, strings.Repeat("é", maxSnippetRunes)+"...")
	assert.NotContains(t, out, strings.Repeat("é", maxSnippetRunes+1))
	assert.True(t, strings.HasSuffix(out, "## Question:\nHow accurate is it?"))

	empty := BuildUserContent("q", nil)
	assert.Contains(t, empty, "(none)")
}

func TestServiceGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/agent/query", r.URL.Path)
		assert.Equal(t, "research_synthesizer", r.Header.Get("X-Agent-ID"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "large", body["model_tier"])
		assert.Contains(t, body["query"], "[L1]")
		ctxMap := body["context"].(map[string]interface{})
		assert.Equal(t, SystemPrompt, ctxMap["system_prompt"])
		_, _ = w.Write([]byte(`{"success":true,"response":"Accuracy rose 40% [1].","tokens_used":42,"model_used":"m","provider":"p"}`))
	}))
	defer srv.Close()

	g := NewServiceGenerator(Config{BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	text, err := g.Generate(context.Background(), "How accurate?", testSources())
	require.NoError(t, err)
	assert.Equal(t, "Accuracy rose 40% [1].", text)
}

func TestServiceGeneratorErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `boom`},
		{"service failure", http.StatusOK, `{"success":false,"error":"quota exceeded"}`},
		{"empty answer", http.StatusOK, `{"success":true,"response":"  "}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewServiceGenerator(Config{BaseURL: srv.URL}, zaptest.NewLogger(t)).Generate(context.Background(), "q", nil)
			assert.Error(t, err)
		})
	}
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Contains(t, body.Messages[1].Content, "[1] Eval report")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Accuracy rose 40% [1]."}}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	text, err := g.Generate(context.Background(), "How accurate?", testSources())
	require.NoError(t, err)
	assert.Equal(t, "Accuracy rose 40% [1].", text)
}

func TestOpenAIGeneratorEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(Config{APIKey: "k", BaseURL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAIGeneratorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(Config{APIKey: "k", BaseURL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "q", testSources())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "retries belong to the synthesis pass")
}

func TestNewSelectsProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	g, err := New(Config{BaseURL: "http://llm:8000"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &ServiceGenerator{}, g)

	_, err = New(Config{Provider: ProviderService}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = New(Config{Provider: ProviderOpenAI}, zaptest.NewLogger(t))
	assert.Error(t, err, "missing key")

	g, err = New(Config{Provider: "OpenAI", APIKey: "k"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, g)

	_, err = New(Config{Provider: "bard"}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
