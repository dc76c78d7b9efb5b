// Package llm generalizes the teacher's multi-provider ai/router.Router to
// the single configurable model-runtime collaborator this spec calls for
// (SPEC_FULL.md excludes the multi-provider routing frame as out of scope —
// the core only needs one model server, reachable at a configurable base
// URL, the way the teacher's callOllama path talks to a local runtime).
// Chat completions keep the teacher's JSON-extraction defensiveness
// (extractContent, stripThinkingTags, ParseJSONFromResponse) since the
// ingestion pipeline depends on exactly this robustness when parsing LLM
// output.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/jsonx"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// ChatChunk is one piece of a streamed completion.
type ChatChunk struct {
	Content string
	Done    bool
}

// Service is the LLM collaborator used by the extraction/resolution/
// temporal stages of the ingestion pipeline (§4.6) and by chat jobs (§6).
type Service interface {
	ChatCompletions(ctx context.Context, req ChatRequest) (string, error)
	StreamChatCompletions(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error)

	ServeFor(ctx context.Context, model string) error
	UnloadFor(ctx context.Context, model string) error
	Models(ctx context.Context) ([]string, error)

	SetCurrentModel(model string)
	OnCurrentModelChange(fn func(model string))
}

// Config configures the HTTP LLM service.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPService talks an OpenAI/Ollama-shaped chat API over HTTP, trimmed from
// the teacher's router.Router to one base URL.
type HTTPService struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu           sync.RWMutex
	currentModel string
	onChange     []func(string)
}

// NewHTTPService builds an HTTPService.
func NewHTTPService(cfg Config, logger *zap.Logger) *HTTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	return &HTTPService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// ChatCompletions issues a non-streaming chat completion and returns the
// parsed, thinking-tag-stripped content.
func (s *HTTPService) ChatCompletions(ctx context.Context, req ChatRequest) (string, error) {
	req.Stream = false
	body, err := jsonx.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", errkind.Wrap(errkind.ModelUnavailable, "llm request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errkind.Wrap(errkind.ModelUnavailable, "read llm response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errkind.New(errkind.ModelUnavailable, fmt.Sprintf("llm returned %d: %s", resp.StatusCode, string(respBody)))
	}

	var result map[string]any
	if err := jsonx.Unmarshal(respBody, &result); err != nil {
		return "", errkind.Wrap(errkind.ModelUnavailable, "parse llm response", err)
	}

	content, err := extractContent(result)
	if err != nil {
		return "", errkind.Wrap(errkind.ModelUnavailable, "extract llm content", err)
	}
	return stripThinkingTags(content), nil
}

// StreamChatCompletions issues a streaming chat completion and pumps chunks
// (newline-delimited JSON, the Ollama/OpenAI SSE-ish convention) into the
// returned channel, which closes when the stream ends or ctx is cancelled.
func (s *HTTPService) StreamChatCompletions(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	req.Stream = true
	body, err := jsonx.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, errkind.Wrap(errkind.ModelUnavailable, "llm stream request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errkind.New(errkind.ModelUnavailable, fmt.Sprintf("llm stream returned %d", resp.StatusCode))
	}

	out := make(chan ChatChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "data:"))
			if line == "" || line == "[DONE]" {
				continue
			}
			var chunk map[string]any
			if err := jsonx.UnmarshalFromString(line, &chunk); err != nil {
				continue
			}
			content, _ := extractContent(chunk)
			if content != "" {
				out <- ChatChunk{Content: content}
			}
		}
		out <- ChatChunk{Done: true}
	}()
	return out, nil
}

// ServeFor asks the runtime to load model by POSTing to /api/pull; a
// transport failure or a non-200 reply comes back as ModelUnavailable.
func (s *HTTPService) ServeFor(ctx context.Context, model string) error {
	return s.post(ctx, "/api/pull", map[string]any{"model": model})
}

// UnloadFor asks the runtime to unload model.
func (s *HTTPService) UnloadFor(ctx context.Context, model string) error {
	return s.post(ctx, "/api/unload", map[string]any{"model": model})
}

func (s *HTTPService) post(ctx context.Context, path string, payload any) error {
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.ModelUnavailable, "runtime control request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errkind.New(errkind.ModelUnavailable, fmt.Sprintf("runtime control returned %d", resp.StatusCode))
	}
	return nil
}

// Models lists models the runtime currently reports as available.
func (s *HTTPService) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.ModelUnavailable, "list models failed", err)
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errkind.Wrap(errkind.ModelUnavailable, "decode models response", err)
	}
	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// SetCurrentModel updates the active model and notifies observers, backing
// the shared-storage `current_model` key in §4.9.
func (s *HTTPService) SetCurrentModel(model string) {
	s.mu.Lock()
	s.currentModel = model
	observers := append([]func(string){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(model)
	}
}

// OnCurrentModelChange registers an observer called after every
// SetCurrentModel.
func (s *HTTPService) OnCurrentModelChange(fn func(model string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

func stripThinkingTags(content string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(content, ""))
}

// extractContent pulls the assistant content out of whichever of the
// OpenAI/Ollama response shapes the runtime returned.
func extractContent(result map[string]any) (string, error) {
	if choices, ok := result["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if delta, ok := choice["delta"].(map[string]any); ok {
				if content, ok := delta["content"].(string); ok {
					return content, nil
				}
			}
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}
	if message, ok := result["message"].(map[string]any); ok {
		if content, ok := message["content"].(string); ok {
			return content, nil
		}
	}
	if content, ok := result["response"].(string); ok {
		return content, nil
	}
	return "", fmt.Errorf("could not extract content from llm response")
}

// ParseJSONFromResponse defensively extracts the first well-formed JSON
// value from content, stripping markdown code fences first; used by the
// ingestion pipeline's extraction stages (§4.6 steps 2/4/7), which must
// never fail a job just because the model wrapped its JSON in prose.
func ParseJSONFromResponse(content string) (any, error) {
	content = stripCodeFences(content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	startIdx := -1
	for i, c := range content {
		if c == '[' || c == '{' {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil, nil
	}

	toParse := content[startIdx:]
	closer := byte('}')
	if content[startIdx] == '[' {
		closer = ']'
	}

	for i := len(toParse) - 1; i >= 0; i-- {
		if toParse[i] != closer {
			continue
		}
		candidate := toParse[:i+1]
		var v any
		if err := jsonx.UnmarshalFromString(candidate, &v); err == nil {
			return v, nil
		}
	}
	return nil, nil
}

var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func stripCodeFences(content string) string {
	if m := codeFencePattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return content
}
