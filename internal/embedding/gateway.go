package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/retry"
	"github.com/docqa/backend/pkg/utils"
)

var (
	ErrNoInput           = errors.New("no embedding possible for blank input")
	ErrTransport         = errors.New("embedding request failed in transport")
	ErrAPI               = errors.New("embedding API returned an error")
	ErrMalformedResponse = errors.New("malformed embedding response")
)

const (
	DefaultModel         = string(openai.AdaEmbeddingV2)
	DefaultMaxInputChars = 8000
	DefaultTimeout       = 45 * time.Second
)

type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32) error
}

type Config struct {
	Model string
	// Dimensions pins the expected vector length. Zero accepts the length of
	// the first vector returned and requires it from then on.
	Dimensions     int
	MaxInputChars  int
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

type Gateway struct {
	client      *openai.Client
	cfg         Config
	cache       Cache
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	logger      *zap.Logger
	dimensions  atomic.Int64
}

type Option func(*Gateway)

func WithCache(cache Cache) Option {
	return func(g *Gateway) {
		g.cache = cache
	}
}

// WithBreaker fast-fails embedding calls while the API keeps timing out.
// Only transport failures count towards its threshold.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(g *Gateway) {
		g.cb = cb
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGateway(client *openai.Client, cfg Config, opts ...Option) *Gateway {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}

	g := &Gateway{
		client: client,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.dimensions.Store(int64(cfg.Dimensions))

	g.retryConfig = retry.Config{
		MaxAttempts:  cfg.MaxRetries + 1,
		InitialDelay: cfg.InitialBackoff,
		MaxDelay:     8 * cfg.InitialBackoff,
		Multiplier:   2.0,
		Retryable:    IsTransport,
		Logger:       g.logger,
	}

	return g
}

func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

func (g *Gateway) Model() string {
	return g.cfg.Model
}

func (g *Gateway) Dimensions() int {
	return int(g.dimensions.Load())
}

// Embed returns nil whenever no vector could be produced. Callers proceed
// without an embedding in that case.
func (g *Gateway) Embed(ctx context.Context, text string) []float32 {
	v, err := g.TryEmbed(ctx, text)
	if err == nil {
		return v
	}

	switch {
	case errors.Is(err, ErrNoInput):
	case errors.Is(err, ErrMalformedResponse):
		g.logger.Error("Embedding response could not be parsed", zap.Error(err))
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		g.logger.Debug("Embedding skipped while circuit is open", zap.Error(err))
	default:
		g.logger.Warn("Embedding failed", zap.Error(err))
	}
	return nil
}

func (g *Gateway) TryEmbed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		metrics.EmbeddingsTotal.WithLabelValues("no_input").Inc()
		return nil, ErrNoInput
	}

	input := truncate(text, g.cfg.MaxInputChars)
	key := utils.ContentKey(g.cfg.Model, input)

	if v, ok := g.fromCache(ctx, key); ok {
		metrics.EmbeddingsTotal.WithLabelValues("cache_hit").Inc()
		return v, nil
	}

	var vec []float32
	call := func() error {
		return retry.Do(ctx, g.retryConfig, func() error {
			v, err := g.request(ctx, input)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	}

	var err error
	if g.cb != nil {
		err = g.cb.Execute(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		metrics.EmbeddingsTotal.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	metrics.EmbeddingsTotal.WithLabelValues("ok").Inc()
	g.toCache(ctx, key, vec)
	return vec, nil
}

func (g *Gateway) request(ctx context.Context, input string) ([]float32, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := g.client.CreateEmbeddings(attemptCtx, openai.EmbeddingRequest{
		Input: []string{input},
		Model: openai.EmbeddingModel(g.cfg.Model),
	})
	if err != nil {
		return nil, classify(err)
	}

	metrics.LLMTokensUsed.WithLabelValues(g.cfg.Model, "embedding").Add(float64(resp.Usage.PromptTokens))

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: response carried no data", ErrMalformedResponse)
	}
	vec := resp.Data[0].Embedding
	if err := g.validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (g *Gateway) validate(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrMalformedResponse)
	}
	for _, x := range vec {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: non-finite component", ErrMalformedResponse)
		}
	}

	want := g.dimensions.Load()
	if want == 0 && g.dimensions.CompareAndSwap(0, int64(len(vec))) {
		return nil
	}
	if want == 0 {
		want = g.dimensions.Load()
	}
	if int64(len(vec)) != want {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrMalformedResponse, len(vec), want)
	}
	return nil
}

func (g *Gateway) fromCache(ctx context.Context, key string) ([]float32, bool) {
	if g.cache == nil {
		return nil, false
	}

	v, ok, err := g.cache.GetEmbedding(ctx, key)
	if err != nil {
		g.logger.Warn("Embedding cache read failed", zap.Error(err))
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		return nil, false
	}
	if !ok || g.validate(v) != nil {
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("embedding").Inc()
	return v, true
}

func (g *Gateway) toCache(ctx context.Context, key string, v []float32) {
	if g.cache == nil {
		return
	}
	if err := g.cache.SetEmbedding(ctx, key, v); err != nil {
		g.logger.Warn("Embedding cache write failed", zap.Error(err))
	}
}

// classify separates error responses from the API, which are final, from
// transport failures and timeouts, which are retried.
func classify(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	switch {
	case errors.As(err, &apiErr), errors.As(err, &reqErr):
		return fmt.Errorf("%w: %w", ErrAPI, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrAPI):
		return "api"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "cancelled"
	}
}

func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}
