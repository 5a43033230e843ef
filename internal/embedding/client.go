// Package embedding turns text into unit-normalized vectors via an OpenAI-compatible API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/metrics"
	"github.com/casebot/backend/internal/vector"
	"github.com/casebot/backend/pkg/circuitbreaker"
	"github.com/casebot/backend/pkg/logger"
)

var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// Embedder returns one embedding per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dim is the expected dimensionality; 0 accepts whatever the provider returns.
	Dim     int
	Timeout time.Duration
}

// Client calls the provider once per Embed. Failures are not retried.
type Client struct {
	client  *openai.Client
	model   string
	dim     int
	timeout time.Duration
	cb      *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OnStateChange:    metrics.BreakerStateChanged,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Embedding client initialized",
		zap.String("model", cfg.Model),
		zap.Int("dim", cfg.Dim),
	)

	return &Client{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		dim:     cfg.Dim,
		timeout: timeout,
		cb:      cb,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: input %d is empty", ErrEmbeddingUnavailable, i)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out [][]float32
	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.model),
		})
		if err != nil {
			return err
		}

		vecs, err := c.collect(resp.Data, len(texts))
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(out)))
	return out, nil
}

// collect orders the response by index and validates shape.
func (c *Client) collect(data []openai.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(data), want)
	}

	out := make([][]float32, want)
	for _, d := range data {
		if d.Index < 0 || d.Index >= want || out[d.Index] != nil {
			return nil, fmt.Errorf("provider returned invalid index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("provider returned an empty embedding at %d", d.Index)
		}
		if c.dim > 0 && len(d.Embedding) != c.dim {
			return nil, fmt.Errorf("%w: got %d, want %d", vector.ErrDimensionMismatch, len(d.Embedding), c.dim)
		}
		out[d.Index] = vector.Normalize(d.Embedding)
	}

	return out, nil
}
