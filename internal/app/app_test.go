package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/synthesis"
)

// fakeLLMService serves the agent, embedding and web_search endpoints.
func fakeLLMService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/agent/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"response":"Accuracy rose 40% [1] while live reports confirm continued gains [L1]."}`))
	})
	mux.HandleFunc("/embeddings/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]],"dimensions":3,"model":"m"}`))
	})
	mux.HandleFunc("/tools/execute", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"output": []map[string]any{{
				"title": "Wire report", "url": "https://news.example.com/ai",
				"snippet": "Gains continue.", "score": 0.8, "published_date": "2026-10-18T12:00:00Z",
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fakeQdrant(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"points":[
			{"id":"c1","score":0.9,"payload":{"text":"Accuracy rose 40% on the eval set.","title":"Eval","file_name":"eval.pdf","page":2}}
		]}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildWiresEveryCollaborator(t *testing.T) {
	llmSrv := fakeLLMService(t)
	qdrant := fakeQdrant(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	t.Setenv("LLM_SERVICE_URL", llmSrv.URL)
	t.Setenv("QDRANT_HOST", qdrant.URL)
	t.Setenv("REDIS_ADDR", mr.Addr())
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	cfg.Embeddings.EnableRedis = true
	cfg.Database.Driver = "sqlite3"
	cfg.Database.Path = ":memory:"

	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NotNil(t, a.Store)

	resp, err := a.Synthesizer.Synthesize(context.Background(), synthesis.Request{Query: "How accurate is the model?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "L1"}, resp.CitationOrder)
	require.Len(t, resp.Citations.Documents, 1)
	assert.Equal(t, "eval.pdf#page=2", resp.Citations.Documents[0].Locator)
	require.NotNil(t, resp.LiveDataBlock)
	assert.Equal(t, 1, resp.LiveDataBlock.SourceCount)

	credits, err := a.Store.Credits(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, credits)

	assert.NotEmpty(t, mr.Keys(), "live results and embeddings are cached in redis")
}

func TestBuildWithoutOptionalCollaborators(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	cfg.LLM.BaseURL = "http://127.0.0.1:1"

	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Store)
	assert.NotNil(t, a.Synthesizer)
}

func TestBuildRejectsMissingGenerator(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	_, err = Build(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err, "the service provider needs a base URL")
}
