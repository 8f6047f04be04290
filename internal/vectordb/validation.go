package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError reports a collection whose vector size differs from
// the configured embedding dimension.
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ReceivedDimension int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d; check the embedding model or recreate the collection",
		e.Collection, e.ExpectedDimension, e.ReceivedDimension)
}

// ValidateEmbeddingDimensions checks the document collection against
// ExpectedEmbeddingDim. Unreachable collections are logged, not fatal.
func (c *Client) ValidateEmbeddingDimensions(ctx context.Context) error {
	if c == nil || !c.cfg.Enabled || c.cfg.ExpectedEmbeddingDim <= 0 {
		return nil
	}
	collection := c.cfg.DocumentChunks
	info, err := c.CollectionInfo(ctx, collection)
	if err != nil {
		c.log.Warn("Failed to get collection info during validation",
			zap.String("collection", collection),
			zap.Error(err))
		return nil
	}
	if info.VectorSize != c.cfg.ExpectedEmbeddingDim {
		return DimensionMismatchError{
			Collection:        collection,
			ExpectedDimension: c.cfg.ExpectedEmbeddingDim,
			ReceivedDimension: info.VectorSize,
		}
	}
	c.log.Info("Collection dimension validated",
		zap.String("collection", collection),
		zap.Int("dimension", info.VectorSize),
		zap.Int64("points", info.PointsCount))
	return nil
}

// CollectionInfo fetches the vector size and point count of a collection.
func (c *Client) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.base, collection), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:        collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}
