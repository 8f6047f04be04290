package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/vectordb"
)

type mockEmbedder struct{ mock.Mock }

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, text, model string) ([]float32, error) {
	args := m.Called(ctx, text, model)
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) SearchDocumentChunks(ctx context.Context, vec []float32, limit int) ([]vectordb.DocumentHit, error) {
	args := m.Called(ctx, vec, limit)
	hits, _ := args.Get(0).([]vectordb.DocumentHit)
	return hits, args.Error(1)
}

func TestSearchMapsPayloads(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("GenerateEmbedding", mock.Anything, "battery density", "m1").Return([]float32{1, 0}, nil)
	srch := &mockSearcher{}
	srch.On("SearchDocumentChunks", mock.Anything, []float32{1, 0}, 4).Return([]vectordb.DocumentHit{
		{ID: "c1", Score: 0.55, Payload: map[string]interface{}{"content": "Cells reached 400 Wh/kg.", "file_name": "cells.pdf", "page": float64(3)}},
		{ID: "c2", Score: 0.91, Payload: map[string]interface{}{"text": "Roadmap targets 500 Wh/kg.", "title": "Roadmap", "url": "https://lab.example/roadmap", "page": float64(2)}},
		{ID: "c3", Score: 0.99, Payload: map[string]interface{}{"text": "   "}},
		{ID: "c4", Score: 0.55, Payload: map[string]interface{}{"text": "No metadata at all."}},
	}, nil)

	r := NewDocumentRetriever(emb, srch, Config{TopK: 4, EmbeddingModel: "m1"}, zaptest.NewLogger(t))
	ev, err := r.Search(context.Background(), "battery density")
	require.NoError(t, err)
	require.Len(t, ev, 3)

	assert.Equal(t, "Roadmap", ev[0].Title)
	assert.Equal(t, "https://lab.example/roadmap", ev[0].Locator, "page anchors only apply to files")
	assert.Equal(t, 0.91, ev[0].RelevanceScore)

	assert.Equal(t, "cells.pdf", ev[1].Title)
	assert.Equal(t, "cells.pdf#page=3", ev[1].Locator)
	assert.Equal(t, "Cells reached 400 Wh/kg.", ev[1].Text)
	assert.Nil(t, ev[1].Timestamp)

	assert.Equal(t, "chunk:c4", ev[2].Locator, "ties keep search order")
}

func TestSearchPropagatesErrors(t *testing.T) {
	embErr := errors.New("embedding down")
	emb := &mockEmbedder{}
	emb.On("GenerateEmbedding", mock.Anything, mock.Anything, mock.Anything).Return(nil, embErr)
	r := NewDocumentRetriever(emb, &mockSearcher{}, Config{}, zaptest.NewLogger(t))
	_, err := r.Search(context.Background(), "q")
	assert.ErrorIs(t, err, embErr)

	searchErr := errors.New("qdrant down")
	emb2 := &mockEmbedder{}
	emb2.On("GenerateEmbedding", mock.Anything, mock.Anything, mock.Anything).Return([]float32{1}, nil)
	srch := &mockSearcher{}
	srch.On("SearchDocumentChunks", mock.Anything, mock.Anything, 8).Return(nil, searchErr)
	r = NewDocumentRetriever(emb2, srch, Config{}, zaptest.NewLogger(t))
	_, err = r.Search(context.Background(), "q")
	assert.ErrorIs(t, err, searchErr)
}

func TestSearchMMRPrefersDiverseChunks(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("GenerateEmbedding", mock.Anything, mock.Anything, mock.Anything).Return([]float32{1, 0}, nil)
	srch := &mockSearcher{}
	srch.On("SearchDocumentChunks", mock.Anything, mock.Anything, 2).Return([]vectordb.DocumentHit{
		{ID: "a", Score: 0.95, Vector: []float32{0.8, 0.6}, Payload: map[string]interface{}{"text": "original", "source": "a.pdf"}},
		{ID: "b", Score: 0.94, Vector: []float32{0.8, 0.6}, Payload: map[string]interface{}{"text": "copy", "source": "b.pdf"}},
		{ID: "c", Score: 0.70, Vector: []float32{0.8, -0.6}, Payload: map[string]interface{}{"text": "different angle", "source": "c.pdf"}},
	}, nil)

	r := NewDocumentRetriever(emb, srch, Config{TopK: 2, MMREnabled: true, MMRLambda: 0.5}, zaptest.NewLogger(t))
	ev, err := r.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, ev, 2)
	assert.Equal(t, "a.pdf", ev[0].Locator)
	assert.Equal(t, "c.pdf", ev[1].Locator)
}

func TestCosineSim(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSim([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, 0.0, cosineSim([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSim([]float32{0, 0}, []float32{1, 1}))
}
