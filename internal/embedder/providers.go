package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hash"

	// Endpoints
	JinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	OpenAIEndpoint = "https://api.openai.com/v1/embeddings"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	defaultHTTPTimeout = 30 * time.Second
)

// HTTPProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint. Jina and OpenAI share the wire format and differ
// only in endpoint, model and dimension.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	limiter    *rate.Limiter
	retry      RetryConfig
}

// httpProviderOptions holds the knobs shared by the HTTP providers
type httpProviderOptions struct {
	endpoint          string
	model             string
	timeout           time.Duration
	requestsPerSecond float64
}

func newHTTPProvider(name, apiKey string, dimension int, cache *Cache, opts httpProviderOptions) *HTTPProvider {
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	var limiter *rate.Limiter
	if opts.requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.requestsPerSecond), 1)
	}

	return &HTTPProvider{
		name:       name,
		endpoint:   opts.endpoint,
		apiKey:     apiKey,
		model:      opts.model,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		limiter:    limiter,
		retry:      DefaultRetryConfig(),
	}
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	return newHTTPProvider(ProviderJina, apiKey, JinaDimension, cache, httpProviderOptions{
		endpoint: JinaEndpoint,
		model:    DefaultJinaModel,
	}), nil
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	return newHTTPProvider(ProviderOpenAI, apiKey, OpenAIDimension, cache, httpProviderOptions{
		endpoint: OpenAIEndpoint,
		model:    DefaultOpenAIModel,
	}), nil
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if p.cache != nil {
		if emb, ok := p.cache.Get(hash); ok {
			return emb, nil
		}
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	embeddings, err := retryWithBackoff(ctx, p.retry, func() ([]*Embedding, error) {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, permanent(err)
			}
		}
		return p.callAPI(ctx, req.Texts, model)
	})
	if err != nil {
		if errors.Is(err, ErrEmptyEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.name, err)
	}

	if len(embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts",
			ErrProviderFailed, p.name, len(embeddings), len(req.Texts))
	}

	for i, emb := range embeddings {
		emb.Hash = ComputeHash(req.Texts[i])
		if p.cache != nil {
			p.cache.Set(emb.Hash, emb)
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      model,
	}, nil
}

// embeddingsResponse is the OpenAI-compatible response body
type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": model,
	})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		// Client errors other than throttling will not succeed on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The API may return items out of input order
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	responseModel := apiResp.Model
	if responseModel == "" {
		responseModel = model
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		emb := &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     responseModel,
		}
		if err := checkEmbedding(emb); err != nil {
			return nil, permanent(err)
		}
		embeddings[i] = emb
	}

	return embeddings, nil
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.name
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider derives deterministic unit vectors from a text hash. It needs
// no network access and is used offline and in tests; nearby vectors carry no
// semantic meaning.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: LocalDimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    hashVector(req.Text, l.dimension),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}

	return emb, nil
}

// hashVector expands SHA-256 digests of text into a unit vector of dim values
// in [-1, 1] before normalization
func hashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	var counter [8]byte
	for block := 0; block*8 < dim; block++ {
		binary.LittleEndian.PutUint64(counter[:], uint64(block))
		h := sha256.New()
		h.Write(counter[:])
		h.Write([]byte(text))
		sum := h.Sum(nil)
		for i := 0; i < 8 && block*8+i < dim; i++ {
			bits := binary.LittleEndian.Uint32(sum[i*4:])
			vector[block*8+i] = float32(bits)/float32(math.MaxUint32)*2 - 1
		}
	}
	return NormalizeVector(vector)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
