package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// OpenAICompatible is a Provider for the OpenAI chat-completions streaming
// API, and any endpoint that speaks the same wire format (Groq, OpenRouter,
// vLLM, ...) by pointing BaseURL elsewhere.
type OpenAICompatible struct {
	HTTPClient *http.Client
}

// NewOpenAICompatible returns an OpenAICompatible provider with a generous
// client timeout suited to long-lived streams.
func NewOpenAICompatible() *OpenAICompatible {
	return &OpenAICompatible{HTTPClient: &http.Client{Timeout: 10 * time.Minute}}
}

func (p *OpenAICompatible) Name() string { return "openai-compatible" }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
}

type wireDelta struct {
	Content string `json:"content"`
}

type wireChoice struct {
	Delta        wireDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

type wireStreamChunk struct {
	Choices []wireChoice `json:"choices"`
}

func (p *OpenAICompatible) Stream(ctx context.Context, profile v1.PersonaProfile, messages []Message) (<-chan Chunk, error) {
	req := wireRequest{
		Model:       profile.Model,
		Stream:      true,
		Temperature: profile.Temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai-compatible: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(profile.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai-compatible: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+profile.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai-compatible: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai-compatible: HTTP %d: %s", resp.StatusCode, string(b))
	}

	chunks := make(chan Chunk, 64)
	go func() {
		defer resp.Body.Close()
		defer close(chunks)
		scanSSE(resp.Body, chunks)
	}()
	return chunks, nil
}

// scanSSE reads a text/event-stream body line by line, decoding each
// "data: {...}" line as a streaming chat chunk until a "[DONE]" sentinel or
// EOF.
func scanSSE(body io.Reader, chunks chan<- Chunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			chunks <- Chunk{Done: true}
			return
		}

		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- Chunk{Content: choice.Delta.Content}
		}
		if choice.FinishReason != nil {
			chunks <- Chunk{Done: true}
			return
		}
	}
	chunks <- Chunk{Done: true}
}

func (p *OpenAICompatible) Health(ctx context.Context, profile v1.PersonaProfile) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(profile.BaseURL, "/")+"/models", nil)
	if err != nil {
		return fmt.Errorf("openai-compatible: build health request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+profile.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai-compatible: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("openai-compatible: health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}
