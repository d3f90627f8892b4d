package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/retrieval"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/retry"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

const (
	DefaultModel           = openai.GPT3Dot5Turbo
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 3000
	DefaultTimeout         = 60 * time.Second
	DefaultMaxContextChars = 13000
)

type Config struct {
	Model           string
	Temperature     float32
	MaxTokens       int
	Timeout         time.Duration
	MaxContextChars int
	RetryAttempts   int
	RetryDelay      time.Duration
	// FailureThreshold and Cooldown configure the breaker in front of the
	// chat API.
	FailureThreshold uint32
	Cooldown         time.Duration
}

func DefaultConfig() Config {
	return Config{
		Model:            DefaultModel,
		Temperature:      DefaultTemperature,
		MaxTokens:        DefaultMaxTokens,
		Timeout:          DefaultTimeout,
		MaxContextChars:  DefaultMaxContextChars,
		RetryAttempts:    3,
		RetryDelay:       500 * time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

type Client struct {
	client      *openai.Client
	cfg         Config
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	logger      *zap.Logger
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Answer is a generated reply. General is set when no document material
// was available and the question was answered without context.
type Answer struct {
	Content string
	Model   string
	Tokens  int
	General bool
}

// NewOpenAIClient builds a go-openai client. An empty baseURL keeps the
// public OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

func NewClient(client *openai.Client, cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = def.MaxContextChars
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		IsFailure:        isTransient,
		Logger:           logger,
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
	})

	retryConfig := retry.Config{
		MaxAttempts:    cfg.RetryAttempts,
		InitialDelay:   cfg.RetryDelay,
		MaxDelay:       10 * cfg.RetryDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      isTransient,
		Logger:         logger,
	}

	logger.Info("LLM client initialized", zap.String("model", cfg.Model))

	return &Client{
		client:      client,
		cfg:         cfg,
		cb:          cb,
		retryConfig: retryConfig,
		logger:      logger,
	}
}

func (c *Client) Model() string {
	return c.cfg.Model
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()

			resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
				Model:       c.cfg.Model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return ErrEmptyCompletion
			}

			c.logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: strings.TrimSpace(resp.Choices[0].Message.Content),
				Model:   resp.Model,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(c.cfg.Model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.cfg.Model, "completion").Add(float64(result.Usage.CompletionTokens))

	return result, nil
}

// Answer asks the question against the retrieved context. A context that
// carries no document material sends the bare question instead.
func (c *Client) Answer(ctx context.Context, question, docContext string) (*Answer, error) {
	general := docContext == "" || retrieval.IsNoMaterial(docContext)

	prompt := question
	if !general {
		prompt = DocumentPrompt(docContext, question, c.cfg.MaxContextChars)
	} else {
		c.logger.Info("No document context, answering generally")
	}

	resp, err := c.Complete(ctx, CompletionRequest{UserPrompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to answer question: %w", err)
	}

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Answer{
		Content: resp.Content,
		Model:   model,
		Tokens:  resp.Usage.TotalTokens,
		General: general,
	}, nil
}

// DocumentPrompt embeds context, cut to maxChars runes, ahead of the
// question.
func DocumentPrompt(docContext, question string, maxChars int) string {
	if runes := []rune(docContext); maxChars > 0 && len(runes) > maxChars {
		docContext = string(runes[:maxChars]) + "..."
	}
	return fmt.Sprintf("Based on following document parts:\n\n%s\n\n"+
		"Answer this question in the same language as the question: %s\n\n"+
		"Give a detailed answer based only on the provided text.", docContext, question)
}

// isTransient is true for transport failures, rate limiting and server
// errors. Rejected requests are final.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyCompletion) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
