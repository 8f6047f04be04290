package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/citations"
	ometrics "github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// Providers selectable in configuration.
const (
	ProviderService = "service"
	ProviderOpenAI  = "openai"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("llm returned an empty answer")

// Config selects and tunes the generator.
type Config struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	ModelTier   string        `mapstructure:"model_tier" yaml:"model_tier"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderService
	}
	if c.ModelTier == "" {
		c.ModelTier = "large"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// ServiceGenerator asks the LLM service's agent endpoint for an answer.
type ServiceGenerator struct {
	cfg    Config
	httpw  *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// NewServiceGenerator builds a generator for the LLM service at cfg.BaseURL.
func NewServiceGenerator(cfg Config, logger *zap.Logger) *ServiceGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.withDefaults()
	return &ServiceGenerator{
		cfg:    c,
		httpw:  circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: c.Timeout}, "agent-query", "llm-service", logger),
		logger: logger,
	}
}

type agentResponse struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	Error      string `json:"error"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Provider   string `json:"provider"`
}

// Generate implements the synthesis text generator.
func (g *ServiceGenerator) Generate(ctx context.Context, query string, sources []citations.NumberedSource) (string, error) {
	start := time.Now()
	text, err := g.call(ctx, query, sources)
	status := "ok"
	if err != nil {
		status = "error"
	}
	ometrics.RecordGenerationMetrics(ProviderService, status, time.Since(start).Seconds())
	return text, err
}

func (g *ServiceGenerator) call(ctx context.Context, query string, sources []citations.NumberedSource) (string, error) {
	url := g.cfg.BaseURL + "/agent/query"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	reqBody := map[string]interface{}{
		"query":       BuildUserContent(query, sources),
		"max_tokens":  g.cfg.MaxTokens,
		"temperature": g.cfg.Temperature,
		"agent_id":    "research_synthesizer",
		"model_tier":  g.cfg.ModelTier,
		"context": map[string]interface{}{
			"system_prompt": SystemPrompt,
		},
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", "research_synthesizer")
	tracing.InjectTraceparent(ctx, req)

	resp, err := g.httpw.Do(req)
	if err != nil {
		return "", fmt.Errorf("LLM service call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("HTTP %d from LLM service: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ar agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", fmt.Errorf("failed to parse LLM response: %w", err)
	}
	if !ar.Success && ar.Error != "" {
		return "", fmt.Errorf("LLM service error: %s", ar.Error)
	}
	if strings.TrimSpace(ar.Response) == "" {
		return "", ErrEmptyCompletion
	}
	g.logger.Debug("LLM answer received",
		zap.String("model", ar.ModelUsed),
		zap.String("provider", ar.Provider),
		zap.Int("tokens_used", ar.TokensUsed),
	)
	return ar.Response, nil
}
