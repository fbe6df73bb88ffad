package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"docchat-backend/internal/llm"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/telemetry"
)

var apiURL = "https://api.openai.com/v1/chat/completions"

const defaultTimeout = 120 * time.Second

// Options configures the chat completions client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// NoTemperatureModels lists models that reject an explicit temperature.
	NoTemperatureModels []string
}

// Client implements llm.Client using OpenAI Chat Completions.
type Client struct {
	model      string
	endpoint   string
	noTemp     map[string]bool
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client. The API key is attached by an
// oauth2 static token source transport.
func NewClient(opts Options) (*Client, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	endpoint := apiURL
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		endpoint = base + "/chat/completions"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	noTemp := make(map[string]bool, len(opts.NoTemperatureModels))
	for _, m := range opts.NoTemperatureModels {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			noTemp[m] = true
		}
	}

	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.APIKey}))
	httpClient.Timeout = timeout
	return &Client{
		model:      model,
		endpoint:   endpoint,
		noTemp:     noTemp,
		httpClient: httpClient,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *chatResponseUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type chatResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// errTemperatureUnsupported marks a model that only accepts its default
// temperature.
var errTemperatureUnsupported = errors.New("temperature unsupported")

func (c *Client) Answer(ctx context.Context, q llm.Question) (llm.Reply, error) {
	if len(q.Passages) == 0 {
		return llm.Reply{Text: llm.NoContextAnswer, Model: c.model}, nil
	}
	messages := BuildPrompt(q)
	hash := hashPromptString(promptStringFromMessages(messages))

	withTemp := c.acceptsTemperature()
	content, usage, err := c.complete(ctx, messages, withTemp)
	if withTemp && errors.Is(err, errTemperatureUnsupported) {
		content, usage, err = c.complete(ctx, messages, false)
	}
	if err != nil {
		return llm.Reply{}, err
	}
	logUsage(c.model, hash, usage)
	return llm.Reply{Text: content, Model: c.model, PromptHash: hash}, nil
}

func (c *Client) acceptsTemperature() bool {
	if isGPT5(c.model) {
		return false
	}
	return !c.noTemp[strings.ToLower(c.model)]
}

func (c *Client) complete(ctx context.Context, messages []Message, withTemp bool) (string, *chatResponseUsage, error) {
	reqMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		reqMessages = append(reqMessages, chatMessage{Role: m.Role, Content: m.Content})
	}
	reqBody := chatRequest{Model: c.model, Messages: reqMessages}
	if withTemp {
		temp := float32(0)
		reqBody.Temperature = &temp
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return "", nil, retry.Transient("openai chat", fmt.Errorf("openai request timeout: %w", err))
		}
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, retry.Transient("openai chat", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode >= 400 {
			return "", nil, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return "", nil, fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		if withTemp && strings.Contains(parsed.Error.Message, "'temperature'") {
			return "", nil, errTemperatureUnsupported
		}
		return "", nil, statusError(resp.StatusCode, fmt.Sprintf("%s (%s)", parsed.Error.Message, parsed.Error.Type))
	}
	if resp.StatusCode >= 400 {
		return "", nil, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(parsed.Choices) == 0 {
		return "", nil, fmt.Errorf("openai response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", nil, fmt.Errorf("openai response empty content")
	}
	return content, parsed.Usage, nil
}

func statusError(status int, msg string) error {
	err := fmt.Errorf("openai http status %d: %s", status, msg)
	if status == http.StatusTooManyRequests || status >= 500 {
		return retry.Transient("openai chat", err)
	}
	if status >= 400 {
		return retry.Permanent("openai chat", err)
	}
	return err
}

func logUsage(model, promptHash string, usage *chatResponseUsage) {
	fields := map[string]any{"model": model, "prompt_hash": promptHash}
	if usage != nil {
		fields["prompt_tokens"] = usage.PromptTokens
		fields["completion_tokens"] = usage.CompletionTokens
		fields["total_tokens"] = usage.TotalTokens
	}
	telemetry.Info("llm.response", fields)
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

var _ llm.Client = (*Client)(nil)
