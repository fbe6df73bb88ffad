package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"docchat-backend/internal/shared/retry"
)

// Embedder turns chunk or query text into fixed-width vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Provider failures are classified with the shared retry types so the
// pipeline's retry policy can tell them apart.
type (
	TransientError = retry.TransientError
	PermanentError = retry.PermanentError
)

// Options selects and configures an embedder.
type Options struct {
	Provider string
	Model    string
	Dim      int
	RPS      float64
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// New builds the embedder named by opts.Provider ("hash" or "openai").
func New(opts Options) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "hash", "hashing", "local":
		return NewHashing(opts.Dim), nil
	case "openai":
		return NewOpenAI(opts)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
