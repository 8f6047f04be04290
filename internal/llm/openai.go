package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
	ometrics "github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// OpenAIGenerator answers through the OpenAI chat completions API or any
// compatible endpoint.
type OpenAIGenerator struct {
	client openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAIGenerator builds a generator. The key falls back to OPENAI_API_KEY;
// a non-empty BaseURL targets a compatible endpoint.
func NewOpenAIGenerator(cfg Config, logger *zap.Logger) (*OpenAIGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.withDefaults()
	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided in config or OPENAI_API_KEY environment variable")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: c.Timeout}),
		option.WithMaxRetries(0),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), cfg: c, logger: logger}, nil
}

// Generate implements the synthesis text generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, query string, sources []citations.NumberedSource) (string, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "llm.openai.chat")
	defer span.End()

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(BuildUserContent(query, sources)),
		},
		Model:       openai.ChatModel(g.cfg.Model),
		Temperature: openai.Float(g.cfg.Temperature),
		MaxTokens:   openai.Int(int64(g.cfg.MaxTokens)),
	})
	if err != nil {
		ometrics.RecordGenerationMetrics(ProviderOpenAI, "error", time.Since(start).Seconds())
		span.RecordError(err)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		ometrics.RecordGenerationMetrics(ProviderOpenAI, "empty", time.Since(start).Seconds())
		return "", ErrEmptyCompletion
	}
	ometrics.RecordGenerationMetrics(ProviderOpenAI, "ok", time.Since(start).Seconds())
	g.logger.Debug("OpenAI answer received",
		zap.String("model", resp.Model),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// Generator is the answer-writing contract shared by both providers.
type Generator interface {
	Generate(ctx context.Context, query string, sources []citations.NumberedSource) (string, error)
}

// ErrUnknownProvider is returned by New for unsupported providers.
var ErrUnknownProvider = errors.New("unknown llm provider")

// New builds the generator selected by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Generator, error) {
	switch strings.ToLower(cfg.withDefaults().Provider) {
	case ProviderService:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("llm.base_url is required for the %q provider", ProviderService)
		}
		return NewServiceGenerator(cfg, logger), nil
	case ProviderOpenAI:
		return NewOpenAIGenerator(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
