package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment variables read by NewFromEnv and DetectProvider
const (
	EnvProvider     = "MOVIESEARCH_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string // Optional: override the provider's default model
	Endpoint  string // Optional: override the provider's default endpoint
	CacheSize int

	// RequestsPerSecond caps outbound API calls; zero disables limiting
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. MOVIESEARCH_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	cfg := Config{
		Provider:  DetectProvider(),
		CacheSize: DefaultCacheSize,
	}
	switch cfg.Provider {
	case ProviderJina:
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	return New(cfg)
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case ProviderJina, ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s requires an API key", ErrNoProviderEnabled, provider)
		}
		opts := httpProviderOptions{
			endpoint:          JinaEndpoint,
			model:             DefaultJinaModel,
			timeout:           cfg.Timeout,
			requestsPerSecond: cfg.RequestsPerSecond,
		}
		dimension := JinaDimension
		if provider == ProviderOpenAI {
			opts.endpoint = OpenAIEndpoint
			opts.model = DefaultOpenAIModel
			dimension = OpenAIDimension
		}
		if cfg.Endpoint != "" {
			opts.endpoint = cfg.Endpoint
		}
		if cfg.Model != "" {
			opts.model = cfg.Model
		}
		return newHTTPProvider(provider, cfg.APIKey, dimension, cache, opts), nil
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
