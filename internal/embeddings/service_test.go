package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
)

func newEmbeddingServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embeddings/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Texts, 1)
		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float64{{0.25, -0.5, float64(len(req.Texts[0]))}},
			Dimensions: 3,
			ModelUsed:  req.Model,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUninitializedService(t *testing.T) {
	var s *Service
	_, err := s.GenerateEmbedding(context.Background(), "hello", "")
	assert.Error(t, err)
}

func TestGenerateEmbeddingUsesLRU(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbeddingServer(t, &calls)
	svc := NewService(Config{BaseURL: srv.URL + "/"}, nil, zaptest.NewLogger(t))

	v, err := svc.GenerateEmbedding(context.Background(), "quantum", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 7}, v)

	again, err := svc.GenerateEmbedding(context.Background(), "quantum", "")
	require.NoError(t, err)
	assert.Equal(t, v, again)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "text-embedding-3-small", svc.Config().DefaultModel)
}

func TestGenerateEmbeddingSharedRedisCache(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbeddingServer(t, &calls)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache, err := NewRedisCache(context.Background(), circuitbreaker.NewRedisWrapper(client, "embeddings-test", zaptest.NewLogger(t)))
	require.NoError(t, err)

	first := NewService(Config{BaseURL: srv.URL, CacheTTL: time.Minute}, cache, zaptest.NewLogger(t))
	v, err := first.GenerateEmbedding(context.Background(), "solar output", "m1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(MakeKey("m1", "solar output")))

	second := NewService(Config{BaseURL: srv.URL}, cache, zaptest.NewLogger(t))
	cached, err := second.GenerateEmbedding(context.Background(), "solar output", "m1")
	require.NoError(t, err)
	assert.Equal(t, v, cached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateEmbeddingErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusBadRequest)
	}))
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL}, nil, zaptest.NewLogger(t))
	_, err := svc.GenerateEmbedding(context.Background(), "text", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = svc.GenerateEmbedding(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestLocalLRUEvictsAndExpires(t *testing.T) {
	ctx := context.Background()
	lru := NewLocalLRU(2)
	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)
	_, _ = lru.Get(ctx, "a")
	lru.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok := lru.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = lru.Get(ctx, "a")
	assert.True(t, ok)

	lru.Set(ctx, "d", []float32{4}, -time.Second)
	_, ok = lru.Get(ctx, "d")
	assert.False(t, ok)
}

func TestMakeKeyIsModelScoped(t *testing.T) {
	assert.NotEqual(t, MakeKey("m1", "x"), MakeKey("m2", "x"))
	assert.Equal(t, MakeKey("m1", "x"), MakeKey("m1", "x"))
	assert.Regexp(t, `^emb:[0-9a-f]{32}$`, MakeKey("m1", "x"))
}
