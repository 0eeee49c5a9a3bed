package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mingmingshen/neomind/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client. Streaming responses can
// run for minutes, so the overall client timeout is disabled and the
// request context controls cancellation.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
}

// chatRequest is the wire format for the Ollama chat endpoint.
type chatRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Think    *bool            `json:"think,omitempty"`
	Options  map[string]any   `json:"options,omitempty"`
}

// chatChunk is one NDJSON line of an Ollama chat response. The final
// chunk carries done=true plus usage counters.
type chatChunk struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		Thinking  string     `json:"thinking,omitempty"`
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	Done bool `json:"done"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	LoadDuration    int64 `json:"load_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	EvalDuration    int64 `json:"eval_duration,omitempty"`
}

func wireOptions(opts *Options) map[string]any {
	if opts == nil {
		return nil
	}
	m := map[string]any{}
	if opts.Temperature != 0 {
		m["temperature"] = opts.Temperature
	}
	if opts.NumPredict != 0 {
		m["num_predict"] = opts.NumPredict
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Chat sends a non-streaming chat completion request.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts *Options) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, opts, nil)
}

// ChatStream sends a chat request. With a non-nil callback the request
// streams and each NDJSON chunk is forwarded as it arrives; otherwise a
// single response is read.
func (c *OllamaClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, opts *Options, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil

	req := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Tools:    tools,
		Options:  wireOptions(opts),
	}
	if opts != nil {
		req.Think = opts.Think
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	if !stream {
		var chunk chatChunk
		if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return chunkToResponse(&chunk, chunk.Message.Content, chunk.Message.Thinking, chunk.Message.ToolCalls), nil
	}

	// Streaming: newline-delimited JSON until done=true.
	var (
		content   strings.Builder
		thinking  strings.Builder
		toolCalls []ToolCall
		final     chatChunk
	)
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk chatChunk
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}

		if chunk.Message.Content != "" || chunk.Message.Thinking != "" {
			content.WriteString(chunk.Message.Content)
			thinking.WriteString(chunk.Message.Thinking)
			callback(Chunk{Content: chunk.Message.Content, Thinking: chunk.Message.Thinking})
		}

		// Native tool calls arrive on the final message.
		if len(chunk.Message.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.Message.ToolCalls...)
		}

		if chunk.Done {
			final = chunk
			break
		}
	}

	return chunkToResponse(&final, content.String(), thinking.String(), toolCalls), nil
}

func chunkToResponse(chunk *chatChunk, content, thinking string, calls []ToolCall) *ChatResponse {
	created, _ := time.Parse(time.RFC3339Nano, chunk.CreatedAt)
	return &ChatResponse{
		Model:         chunk.Model,
		CreatedAt:     created,
		Content:       content,
		Thinking:      thinking,
		ToolCalls:     calls,
		Done:          true,
		InputTokens:   chunk.PromptEvalCount,
		OutputTokens:  chunk.EvalCount,
		TotalDuration: time.Duration(chunk.TotalDuration),
		LoadDuration:  time.Duration(chunk.LoadDuration),
		EvalDuration:  time.Duration(chunk.EvalDuration),
	}
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}

// ListModels returns the names of models available on the server.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}
