package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/winghv/newhorse/internal/domain"
	"github.com/winghv/newhorse/internal/i18n"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIRunner streams turn-based chat completions from any
// OpenAI-compatible API (OpenAI, Deepseek, Qwen, GLM, ...). Stateless per
// call: prior turns are resent as a flat message list.
type OpenAIRunner struct {
	httpClient *http.Client
	locale     string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewOpenAIRunner creates a turn-based runner.
func NewOpenAIRunner(locale string) *OpenAIRunner {
	return &OpenAIRunner{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for streaming
		},
		locale: locale,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions map[string]any `json:"stream_options,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usageData `json:"usage"`
}

type usageData struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Stream opens a streaming completion, accumulates incremental text and
// emits exactly one chat message (when non-empty) followed by exactly one
// session_complete message. Backend failures produce a single error message
// instead; nothing is partially emitted.
func (r *OpenAIRunner) Stream(ctx context.Context, route *domain.ResolvedRoute, req Request, emit Emit) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	messages := buildMessages(req)
	log.Printf("INFO: openai runner: model=%s, messages=%d", route.ModelID, len(messages))

	start := time.Now()
	content, usage, err := r.streamCompletion(ctx, route, messages)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if ctx.Err() != nil {
			// interrupted; the caller acknowledges cancellation itself
			return nil
		}
		log.Printf("ERROR: openai runner: %v", err)
		emit(domain.NewMessage(req.ProjectID, req.SessionID, domain.RoleSystem, domain.TypeError,
			fmt.Sprintf("Model error: %v", err),
			map[string]any{"runner": "openai", "model": route.ModelID}))
		return nil
	}

	content = strings.TrimSpace(content)
	if content != "" {
		emit(domain.NewMessage(req.ProjectID, req.SessionID, domain.RoleAssistant, domain.TypeChat,
			content,
			map[string]any{"runner": "openai", "model": route.ModelID}))
	}

	resultContent := fmt.Sprintf("%s, %s", i18n.T(r.locale, i18n.KeySessionComplete), FormatDuration(durationMs))
	metadata := map[string]any{
		"runner":      "openai",
		"model":       route.ModelID,
		"duration_ms": durationMs,
	}
	if usage != nil {
		total := usage.PromptTokens + usage.CompletionTokens
		if total > 0 {
			resultContent += fmt.Sprintf(" | Tokens: %d", total)
		}
		metadata["usage"] = map[string]any{
			"input_tokens":  usage.PromptTokens,
			"output_tokens": usage.CompletionTokens,
		}
	}
	emit(domain.NewMessage(req.ProjectID, req.SessionID, domain.RoleSystem, domain.TypeSessionComplete,
		resultContent, metadata))

	return nil
}

// Interrupt cancels the in-flight completion request.
func (r *OpenAIRunner) Interrupt(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// buildMessages assembles the flat message list: optional system preamble,
// optional working-directory hint, prior turns, then the instruction.
func buildMessages(req Request) []chatMessage {
	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	if req.WorkingDir != "" {
		messages = append(messages, chatMessage{Role: "system", Content: "Working directory: " + req.WorkingDir})
	}
	for _, h := range req.History {
		messages = append(messages, chatMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: instructionWithImages(req)})
	return messages
}

func instructionWithImages(req Request) string {
	if len(req.Images) == 0 {
		return req.Instruction
	}
	var refs []string
	for i, img := range req.Images {
		if img.Path != "" {
			refs = append(refs, fmt.Sprintf("Image #%d: %s", i+1, img.Path))
		}
	}
	if len(refs) == 0 {
		return req.Instruction
	}
	return req.Instruction + "\n\nUploaded files:\n" + strings.Join(refs, "\n")
}

func (r *OpenAIRunner) streamCompletion(ctx context.Context, route *domain.ResolvedRoute, messages []chatMessage) (string, *usageData, error) {
	baseURL := route.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	body, err := json.Marshal(chatCompletionRequest{
		Model:         route.ModelID,
		Messages:      messages,
		Stream:        true,
		StreamOptions: map[string]any{"include_usage": true},
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+route.APIKey)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var full strings.Builder
	var usage *usageData

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", nil, fmt.Errorf("failed to read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks
			continue
		}
		if len(chunk.Choices) > 0 {
			full.WriteString(chunk.Choices[0].Delta.Content)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	return full.String(), usage, nil
}
