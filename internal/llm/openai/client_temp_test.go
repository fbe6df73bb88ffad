package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"docchat-backend/internal/llm"
	"docchat-backend/internal/shared/retry"
)

var question = llm.Question{
	Text: "what does the invoice total?",
	Passages: []llm.Passage{
		{DocumentID: "d1", ChunkID: "d1:0", Content: "Invoice total: 420 EUR", Score: 0.9},
	},
}

type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	auth   []string
}

func (r *recorder) record(t *testing.T, req *http.Request) int {
	t.Helper()
	defer req.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		t.Errorf("decode request: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, payload)
	r.auth = append(r.auth, req.Header.Get("Authorization"))
	return len(r.bodies)
}

func newTestClient(t *testing.T, url, model string, noTemp ...string) *Client {
	t.Helper()
	client, err := NewClient(Options{APIKey: "test-key", Model: model, BaseURL: url, NoTemperatureModels: noTemp})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestAnswerSendsPassagesAndToken(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		rec.record(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"The total is 420 EUR [1]."}}],"usage":{"prompt_tokens":12,"completion_tokens":6,"total_tokens":18}}`))
	}))
	defer server.Close()

	reply, err := newTestClient(t, server.URL, "gpt-4o-mini").Answer(context.Background(), question)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Text != "The total is 420 EUR [1]." {
		t.Fatalf("unexpected answer %q", reply.Text)
	}
	if reply.PromptHash == "" || reply.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected reply metadata %+v", reply)
	}
	if rec.auth[0] != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", rec.auth[0])
	}
	msgs := rec.bodies[0]["messages"].([]any)
	user := msgs[len(msgs)-1].(map[string]any)["content"].(string)
	if !strings.Contains(user, "[1] Invoice total: 420 EUR") || !strings.Contains(user, "what does the invoice total?") {
		t.Fatalf("user prompt missing passage or question: %q", user)
	}
}

func TestAnswerOmitsTemperatureForDenylist(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	for _, model := range []string{"o3-mini", "gpt-5-mini"} {
		if _, err := newTestClient(t, server.URL, model, "o3-mini").Answer(context.Background(), question); err != nil {
			t.Fatalf("Answer(%s): %v", model, err)
		}
	}
	for i, body := range rec.bodies {
		if _, ok := body["temperature"]; ok {
			t.Fatalf("request %d: expected temperature to be omitted", i)
		}
	}
}

func TestAnswerRetriesWithoutTemperature(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := rec.record(t, r)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Unsupported value: 'temperature' does not support 0 with this model. Only the default (1) value is supported.","type":"invalid_request_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	if _, err := newTestClient(t, server.URL, "gpt-4o-mini").Answer(context.Background(), question); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(rec.bodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(rec.bodies))
	}
	if _, ok := rec.bodies[0]["temperature"]; !ok {
		t.Fatalf("expected first request to include temperature")
	}
	if _, ok := rec.bodies[1]["temperature"]; ok {
		t.Fatalf("expected retry request to omit temperature")
	}
}

func TestAnswerNoInfiniteRetry(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Unsupported value: 'temperature' does not support 0 with this model.","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, "gpt-4o-mini").Answer(context.Background(), question)
	if err == nil {
		t.Fatalf("expected error on repeated temperature unsupported response")
	}
	if retry.IsTransient(err) {
		t.Fatalf("a 400 must not be retried: %v", err)
	}
	if len(rec.bodies) != 2 {
		t.Fatalf("expected 2 requests (one retry), got %d", len(rec.bodies))
	}
}

func TestAnswerRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, "gpt-4o-mini").Answer(context.Background(), question)
	if !retry.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestPromptHashDeterministic(t *testing.T) {
	hash1 := hashPromptString(promptStringFromMessages(BuildPrompt(question)))
	hash2 := hashPromptString(promptStringFromMessages(BuildPrompt(question)))
	if hash1 != hash2 {
		t.Fatalf("expected deterministic prompt hash, got %q and %q", hash1, hash2)
	}

	alt := question
	alt.Text = "who signed it?"
	if hash1 == hashPromptString(promptStringFromMessages(BuildPrompt(alt))) {
		t.Fatalf("expected prompt hash to change when input changes")
	}
}

func TestNewClientRequiresModelAndKey(t *testing.T) {
	if _, err := NewClient(Options{APIKey: "k"}); err == nil {
		t.Fatalf("expected error without model")
	}
	if _, err := NewClient(Options{Model: "gpt-4o-mini"}); err == nil {
		t.Fatalf("expected error without key")
	}
}

func TestAnswerWithoutPassagesSkipsTheModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	reply, err := newTestClient(t, server.URL, "gpt-4o-mini").Answer(context.Background(), llm.Question{Text: "anything?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Text != llm.NoContextAnswer {
		t.Fatalf("expected the no-context answer, got %q", reply.Text)
	}
}
