package embedding

import (
	"context"
	"errors"
	"time"
)

// Provider generates vector embeddings from text using a named model.
// Implementations must be safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ErrModelUnknown is returned when the embedding server does not recognise
// the requested model.
var ErrModelUnknown = errors.New("embedding: unknown model")

// Config holds embedding provider configuration.
type Config struct {
	Provider string        `json:"provider"` // "api" or "ollama"
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout"`
}

// defaultTimeout bounds a single embedding-server round trip.
const defaultTimeout = 30 * time.Second

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}
