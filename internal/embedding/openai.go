package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"docchat-backend/internal/shared/retry"
)

var defaultBaseURL = "https://api.openai.com/v1"

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAI calls an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	model      string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu  sync.RWMutex
	dim int
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAI builds the HTTP embedder. The bearer token is attached by an
// oauth2 static token source and requests are paced by opts.RPS.
func NewOpenAI(opts Options) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
		burst = int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
	}

	client := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.APIKey}))
	client.Timeout = timeout

	return &OpenAI{
		model:      model,
		endpoint:   base + "/embeddings",
		httpClient: client,
		limiter:    rate.NewLimiter(limit, burst),
		dim:        opts.Dim,
	}, nil
}

// Dimension is the configured width, or the width of the first response when
// none was configured.
func (o *OpenAI) Dimension() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dim
}

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(embeddingRequest{Model: o.model, Input: texts, Dimensions: o.Dimension()})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("openai embeddings request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient("openai embeddings", err)
	}
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, retry.Permanent("openai embeddings", fmt.Errorf("response parse: %w", err))
	}
	if parsed.Error != nil {
		return nil, retry.Permanent("openai embeddings", fmt.Errorf("%s (%s)", parsed.Error.Message, parsed.Error.Type))
	}
	if len(parsed.Data) != len(texts) {
		return nil, retry.Permanent("openai embeddings", fmt.Errorf("expected %d vectors, got %d", len(texts), len(parsed.Data)))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		out[i] = item.Embedding
	}
	if err := o.checkDimension(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OpenAI) checkDimension(vectors [][]float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, v := range vectors {
		if o.dim == 0 {
			o.dim = len(v)
		}
		if len(v) != o.dim {
			return retry.Permanent("openai embeddings", fmt.Errorf("vector width %d, expected %d", len(v), o.dim))
		}
	}
	return nil
}

// classifyStatus maps rate limiting and server errors to transient failures
// and every other 4xx to a permanent one.
func classifyStatus(status int, body []byte) error {
	if status < 400 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	var parsed embeddingResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		msg = fmt.Sprintf("%s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	err := fmt.Errorf("openai http status %d: %s", status, msg)
	if status == http.StatusTooManyRequests || status >= 500 {
		return retry.Transient("openai embeddings", err)
	}
	return retry.Permanent("openai embeddings", err)
}
