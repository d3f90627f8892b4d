package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/pkg/circuitbreaker"
)

type fakeAPI struct {
	calls   atomic.Int32
	mu      sync.Mutex
	inputs  []string
	handler func(w http.ResponseWriter, r *http.Request, call int32)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := f.calls.Add(1)

	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.inputs = append(f.inputs, req.Input...)
	f.mu.Unlock()

	f.handler(w, r, call)
}

func writeVector(w http.ResponseWriter, vec []float32) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  "text-embedding-ada-002",
		"data": []map[string]any{
			{"object": "embedding", "index": 0, "embedding": vec},
		},
		"usage": map[string]int{"prompt_tokens": 3, "total_tokens": 3},
	})
}

func newGateway(t *testing.T, api *fakeAPI, cfg Config, opts ...Option) *Gateway {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	clientCfg := openai.DefaultConfig("test-key")
	clientCfg.BaseURL = srv.URL + "/v1"

	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	return NewGateway(openai.NewClientWithConfig(clientCfg), cfg, opts...)
}

func TestEmbedSuccess(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		writeVector(w, []float32{0.1, 0.2, 0.3})
	}}
	g := newGateway(t, api, Config{MaxRetries: 2})

	v := g.Embed(context.Background(), "hello world")
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	assert.Equal(t, 3, g.Dimensions())
	assert.Equal(t, []string{"hello world"}, api.inputs)
}

func TestBlankInputSkipsNetwork(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		writeVector(w, []float32{1})
	}}
	g := newGateway(t, api, Config{})

	_, err := g.TryEmbed(context.Background(), "  \n\t ")
	assert.ErrorIs(t, err, ErrNoInput)
	assert.Nil(t, g.Embed(context.Background(), ""))
	assert.Zero(t, api.calls.Load())
}

func TestInputIsTruncated(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		writeVector(w, []float32{1, 0})
	}}
	g := newGateway(t, api, Config{MaxInputChars: 10})

	require.NotNil(t, g.Embed(context.Background(), strings.Repeat("é", 25)))
	require.Len(t, api.inputs, 1)
	assert.Equal(t, strings.Repeat("é", 10), api.inputs[0])
}

func TestTimeoutIsRetried(t *testing.T) {
	api := &fakeAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request, call int32) {
		if call < 3 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		writeVector(w, []float32{1, 1})
	}
	g := newGateway(t, api, Config{Timeout: 50 * time.Millisecond, MaxRetries: 2})

	v, err := g.TryEmbed(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, v)
	assert.Equal(t, int32(3), api.calls.Load())
}

func TestTimeoutsExhaustRetries(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request, _ int32) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}}
	g := newGateway(t, api, Config{Timeout: 30 * time.Millisecond, MaxRetries: 2})

	_, err := g.TryEmbed(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(3), api.calls.Load())
	assert.Nil(t, g.Embed(context.Background(), "slow"))
}

func TestErrorResponseIsNotRetried(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}}
	g := newGateway(t, api, Config{MaxRetries: 2})

	_, err := g.TryEmbed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrAPI)
	assert.Equal(t, int32(1), api.calls.Load())
}

func TestMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"data": nope}`},
		{"no data", `{"object":"list","data":[]}`},
		{"empty vector", `{"object":"list","data":[{"index":0,"embedding":[]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{handler: func(w http.ResponseWriter, _ *http.Request, _ int32) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}}
			g := newGateway(t, api, Config{MaxRetries: 2})

			_, err := g.TryEmbed(context.Background(), "text")
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, int32(1), api.calls.Load())
		})
	}
}

func TestInconsistentDimensionsRejected(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, _ *http.Request, call int32) {
		if call == 1 {
			writeVector(w, []float32{1, 2, 3})
			return
		}
		writeVector(w, []float32{1, 2})
	}}
	g := newGateway(t, api, Config{})

	require.NotNil(t, g.Embed(context.Background(), "first"))
	_, err := g.TryEmbed(context.Background(), "second")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestConfiguredDimensionsEnforced(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		writeVector(w, []float32{1, 2})
	}}
	g := newGateway(t, api, Config{Dimensions: 4})

	_, err := g.TryEmbed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
}

func (m *mapCache) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) SetEmbedding(_ context.Context, key string, v []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	return nil
}

func TestCacheAvoidsSecondCall(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		writeVector(w, []float32{0.5, 0.5})
	}}
	cache := &mapCache{data: map[string][]float32{}}
	g := newGateway(t, api, Config{}, WithCache(cache))

	first := g.Embed(context.Background(), "same text")
	second := g.Embed(context.Background(), "same text")
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), api.calls.Load())
	assert.Len(t, cache.data, 1)
}

func TestBreakerFastFailsAfterTransportFailures(t *testing.T) {
	api := &fakeAPI{handler: func(w http.ResponseWriter, r *http.Request, _ int32) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}}
	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		IsFailure:        IsTransport,
	})
	g := newGateway(t, api, Config{Timeout: 20 * time.Millisecond}, WithBreaker(cb))

	for i := 0; i < 2; i++ {
		_, err := g.TryEmbed(context.Background(), "text")
		assert.ErrorIs(t, err, ErrTransport)
	}
	calls := api.calls.Load()

	_, err := g.TryEmbed(context.Background(), "text")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, calls, api.calls.Load())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "éé", truncate("ééé", 2))
}
