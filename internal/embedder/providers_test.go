package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer answers OpenAI-compatible requests with handler's status
// and vectors; calls counts requests
func embeddingServer(t *testing.T, calls *atomic.Int32, handler func(n int32, texts []string) (int, []map[string]interface{})) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		status, data := handler(n, body.Input)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": body.Model, "data": data})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestProvider(t *testing.T, endpoint string, cache *Cache) *HTTPProvider {
	t.Helper()
	emb, err := New(Config{Provider: ProviderJina, APIKey: "test-key", Endpoint: endpoint})
	require.NoError(t, err)
	provider := emb.(*HTTPProvider)
	provider.cache = cache
	provider.retry = RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	return provider
}

func vectorsFor(texts []string) []map[string]interface{} {
	data := make([]map[string]interface{}, len(texts))
	for i := range texts {
		data[i] = map[string]interface{}{"index": i, "embedding": []float32{float32(i + 1), 0.5}}
	}
	return data
}

func TestHTTPProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("successful single embedding", func(t *testing.T) {
		var calls atomic.Int32
		server := embeddingServer(t, &calls, func(_ int32, texts []string) (int, []map[string]interface{}) {
			return http.StatusOK, vectorsFor(texts)
		})
		provider := newTestProvider(t, server.URL, nil)

		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "space horror"})
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0.5}, emb.Vector)
		assert.Equal(t, 2, emb.Dimension)
		assert.Equal(t, ProviderJina, emb.Provider)
		assert.Equal(t, DefaultJinaModel, emb.Model)
		assert.Equal(t, ComputeHash("space horror"), emb.Hash)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("retry on server error", func(t *testing.T) {
		var calls atomic.Int32
		server := embeddingServer(t, &calls, func(n int32, texts []string) (int, []map[string]interface{}) {
			if n < 3 {
				return http.StatusInternalServerError, nil
			}
			return http.StatusOK, vectorsFor(texts)
		})
		provider := newTestProvider(t, server.URL, nil)

		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "retry me"})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("no retry on client error", func(t *testing.T) {
		var calls atomic.Int32
		server := embeddingServer(t, &calls, func(int32, []string) (int, []map[string]interface{}) {
			return http.StatusUnauthorized, nil
		})
		provider := newTestProvider(t, server.URL, nil)

		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "denied"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("throttling is retried", func(t *testing.T) {
		var calls atomic.Int32
		server := embeddingServer(t, &calls, func(n int32, texts []string) (int, []map[string]interface{}) {
			if n == 1 {
				return http.StatusTooManyRequests, nil
			}
			return http.StatusOK, vectorsFor(texts)
		})
		provider := newTestProvider(t, server.URL, nil)

		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "slow down"})
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("empty vector is rejected", func(t *testing.T) {
		var calls atomic.Int32
		server := embeddingServer(t, &calls, func(int32, []string) (int, []map[string]interface{}) {
			return http.StatusOK, []map[string]interface{}{{"index": 0, "embedding": []float32{}}}
		})
		provider := newTestProvider(t, server.URL, nil)

		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "nothing"})
		assert.ErrorIs(t, err, ErrEmptyEmbedding)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("batch results follow input order", func(t *testing.T) {
		var calls atomic.Int32
		server := embeddingServer(t, &calls, func(_ int32, texts []string) (int, []map[string]interface{}) {
			data := vectorsFor(texts)
			data[0], data[1] = data[1], data[0]
			return http.StatusOK, data
		})
		provider := newTestProvider(t, server.URL, nil)

		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"first", "second"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)
		assert.Equal(t, []float32{1, 0.5}, resp.Embeddings[0].Vector)
		assert.Equal(t, []float32{2, 0.5}, resp.Embeddings[1].Vector)
	})

	t.Run("cache hit avoids api call", func(t *testing.T) {
		var calls atomic.Int32
		server := embeddingServer(t, &calls, func(_ int32, texts []string) (int, []map[string]interface{}) {
			return http.StatusOK, vectorsFor(texts)
		})
		provider := newTestProvider(t, server.URL, NewCache(10))

		for i := 0; i < 3; i++ {
			_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "cached"})
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("batch too large", func(t *testing.T) {
		provider := newTestProvider(t, "http://127.0.0.1:0", nil)
		texts := make([]string, MaxBatchSize+1)
		for i := range texts {
			texts[i] = fmt.Sprintf("t%d", i)
		}
		_, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})
}

func TestHTTPProvider_RateLimit(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, &calls, func(_ int32, texts []string) (int, []map[string]interface{}) {
		return http.StatusOK, vectorsFor(texts)
	})

	emb, err := New(Config{Provider: ProviderOpenAI, APIKey: "test-key", Endpoint: server.URL, RequestsPerSecond: 20})
	require.NoError(t, err)
	provider := emb.(*HTTPProvider)
	require.NotNil(t, provider.limiter)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: fmt.Sprintf("q%d", i)})
		require.NoError(t, err)
	}
	// Burst of one, then 50ms between requests
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestProviderMetadata(t *testing.T) {
	jina, err := NewJinaProvider("test-key", nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderJina, jina.Provider())
	assert.Equal(t, JinaDimension, jina.Dimension())
	assert.Equal(t, DefaultJinaModel, jina.Model())
	assert.Equal(t, JinaEndpoint, jina.endpoint)
	assert.NoError(t, jina.Close())

	openai, err := NewOpenAIProvider("test-key", nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, openai.Provider())
	assert.Equal(t, OpenAIDimension, openai.Dimension())
	assert.Equal(t, DefaultOpenAIModel, openai.Model())
	assert.Equal(t, OpenAIEndpoint, openai.endpoint)

	_, err = NewJinaProvider("", nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
	_, err = NewOpenAIProvider("", nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestRetryWithBackoff(t *testing.T) {
	fast := RetryConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after transient error", func(t *testing.T) {
		callCount := 0
		result, err := retryWithBackoff(context.Background(), fast, func() (string, error) {
			callCount++
			if callCount < 2 {
				return "", fmt.Errorf("transient error")
			}
			return "success", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, 2, callCount)
	})

	t.Run("exponential backoff timing", func(t *testing.T) {
		callCount := 0
		start := time.Now()
		_, err := retryWithBackoff(context.Background(), fast, func() (int, error) {
			callCount++
			return 0, fmt.Errorf("error %d", callCount)
		})
		assert.EqualError(t, err, "error 3")
		assert.Equal(t, 3, callCount)
		// 10ms + 20ms between three attempts
		assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(30))
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		callCount := 0
		cause := fmt.Errorf("bad request")
		_, err := retryWithBackoff(context.Background(), fast, func() (int, error) {
			callCount++
			return 0, permanent(cause)
		})
		assert.Equal(t, cause, err)
		assert.Equal(t, 1, callCount)
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := RetryConfig{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2}

		callCount := 0
		_, err := retryWithBackoff(ctx, cfg, func() (string, error) {
			callCount++
			if callCount == 2 {
				cancel()
			}
			return "", fmt.Errorf("error")
		})
		assert.Equal(t, context.Canceled, err)
		assert.Equal(t, 2, callCount)
	})

	t.Run("zero retries still attempts once", func(t *testing.T) {
		callCount := 0
		result, err := retryWithBackoff(context.Background(), RetryConfig{}, func() (int, error) {
			callCount++
			return 42, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 42, result)
		assert.Equal(t, 1, callCount)
	})

	t.Run("default config", func(t *testing.T) {
		cfg := DefaultRetryConfig()
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 100*time.Millisecond, cfg.BaseDelay)
		assert.Equal(t, 5000*time.Millisecond, cfg.MaxDelay)
		assert.Equal(t, 2.0, cfg.Multiplier)
	})
}
