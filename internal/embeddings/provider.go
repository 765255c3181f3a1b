package embeddings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/syncforge/crmsync/internal/config"
)

// Provider turns rendered documents into embedding vectors.
// Implementations must be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// New constructs the configured provider. The "local" provider needs no
// external service and is the default for development and tests.
func New(cfg config.EmbedderConfig) (Provider, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "local":
		return newLocal(cfg.Dimensions), nil
	case "openai":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedder requires an API key in $%s", cfg.APIKeyEnv)
		}
		return newOpenAI(cfg.Model, cfg.BaseURL, apiKey, timeout), nil
	case "ollama":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("ollama embedder requires base_url")
		}
		return newOllama(cfg.Model, cfg.BaseURL, cfg.Dimensions, timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}
