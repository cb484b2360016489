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
	"github.com/winghv/newhorse/internal/policy"
)

// AgentRunner drives a stateful agent backend over SSE. The backend executes
// tools in a workspace and supports native multi-turn continuation via an
// opaque session handle; the runner reports that handle back the moment the
// backend announces it.
type AgentRunner struct {
	baseURL    string
	httpClient *http.Client
	policy     *policy.Engine
	locale     string

	mu        sync.Mutex
	sessionID string // upstream handle of the in-flight stream
	cancel    context.CancelFunc
}

// NewAgentRunner creates a stateful-agent runner.
func NewAgentRunner(baseURL string, engine *policy.Engine, locale string) *AgentRunner {
	return &AgentRunner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute, // agent turns can run long
		},
		policy: engine,
		locale: locale,
	}
}

// sseEvent is a parsed SSE event.
type sseEvent struct {
	Event string
	Data  string
}

type agentStreamRequest struct {
	Instruction  string   `json:"instruction"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Cwd          string   `json:"cwd,omitempty"`
	Resume       string   `json:"resume,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

type systemEventData struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type assistantEventData struct {
	Content []contentBlock `json:"content"`
}

type resultEventData struct {
	DurationMs   int     `json:"duration_ms"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int     `json:"num_turns"`
	Usage        *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorEventData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stream drives one agent turn. Tool invocation blocks become individual
// tool_use messages, accumulated text becomes at most one trailing chat
// message per backend turn, and the terminal result event becomes exactly
// one session_complete message.
func (r *AgentRunner) Stream(ctx context.Context, route *domain.ResolvedRoute, req Request, emit Emit) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	// a fresh stream has no handle until the init event arrives; a stale one
	// would aim Interrupt at the previous turn's session
	r.sessionID = ""
	r.mu.Unlock()
	defer cancel()

	baseURL := r.baseURL
	if route.BaseURL != "" {
		baseURL = strings.TrimSuffix(route.BaseURL, "/")
	}

	model := ResolveModelAlias(route.ModelID)
	resume := req.Resume
	if req.FreshSession {
		resume = ""
	}

	body, err := json.Marshal(agentStreamRequest{
		Instruction:  instructionWithImages(req),
		Model:        model,
		SystemPrompt: req.SystemPrompt,
		Cwd:          req.WorkingDir,
		Resume:       resume,
		AllowedTools: req.AllowedTools,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/agent/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+route.APIKey)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to open agent stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent backend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return r.consumeStream(ctx, resp.Body, req, model, emit)
}

func (r *AgentRunner) consumeStream(ctx context.Context, body io.Reader, req Request, model string, emit Emit) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event sseEvent
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				done, err := r.handleEvent(ctx, event, req, model, emit)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
				event = sseEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
		// Ignore comments and other fields
	}
	if event.Event != "" || event.Data != "" {
		if _, err := r.handleEvent(ctx, event, req, model, emit); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// handleEvent normalizes one backend event. Returns done=true on the
// terminal result event.
func (r *AgentRunner) handleEvent(ctx context.Context, event sseEvent, req Request, model string, emit Emit) (bool, error) {
	switch event.Event {
	case "system":
		var data systemEventData
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			log.Printf("WARN: failed to parse system event: %v", err)
			return false, nil
		}
		if data.Subtype == "init" {
			if req.FreshSession {
				if req.OnUpstreamSession != nil {
					req.OnUpstreamSession("")
				}
				log.Printf("INFO: session cleared for project %s", req.ProjectID)
				emit(domain.NewMessage(req.ProjectID, req.SessionID, domain.RoleSystem, domain.TypeSystem,
					i18n.T(r.locale, i18n.KeySessionCleared),
					map[string]any{"runner": "agent", "subtype": "init"}))
				return false, nil
			}
			r.mu.Lock()
			r.sessionID = data.SessionID
			r.mu.Unlock()
			if req.OnUpstreamSession != nil {
				req.OnUpstreamSession(data.SessionID)
			}
		}
		emit(domain.NewMessage(req.ProjectID, req.SessionID, domain.RoleSystem, domain.TypeSystem,
			i18n.T(r.locale, i18n.KeyAgentInitialized, model),
			map[string]any{"runner": "agent", "hidden_from_ui": true}))
		return false, nil

	case "assistant":
		var data assistantEventData
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			log.Printf("WARN: failed to parse assistant event: %v", err)
			return false, nil
		}
		var text strings.Builder
		for _, block := range data.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				emit(r.toolMessage(ctx, req, block))
			}
		}
		if content := strings.TrimSpace(text.String()); content != "" {
			emit(domain.NewMessage(req.ProjectID, req.SessionID, domain.RoleAssistant, domain.TypeChat,
				content, map[string]any{"runner": "agent"}))
		}
		return false, nil

	case "result":
		var data resultEventData
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			log.Printf("WARN: failed to parse result event: %v", err)
			return false, nil
		}
		emit(r.resultMessage(req, data))
		return true, nil

	case "error":
		var data errorEventData
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			return false, fmt.Errorf("agent error: %s", event.Data)
		}
		return false, fmt.Errorf("agent error: %s", data.Message)
	}

	return false, nil
}

func (r *AgentRunner) toolMessage(ctx context.Context, req Request, block contentBlock) *domain.Message {
	metadata := map[string]any{
		"runner":     "agent",
		"tool_name":  block.Name,
		"tool_input": block.Input,
		"tool_id":    block.ID,
	}
	if r.policy != nil {
		decision, err := r.policy.Evaluate(ctx, policy.ToolInput{
			ToolName: NormalizeToolName(block.Name),
			Args:     block.Input,
		})
		if err != nil {
			log.Printf("WARN: tool policy evaluation failed: %v", err)
		} else {
			metadata["policy_decision"] = decision
		}
	}
	log.Printf("INFO: %s", ToolDisplay(block.Name, block.Input))
	return domain.NewMessage(req.ProjectID, req.SessionID, domain.RoleAssistant, domain.TypeToolUse,
		ToolSummary(block.Name, block.Input), metadata)
}

func (r *AgentRunner) resultMessage(req Request, data resultEventData) *domain.Message {
	usage := map[string]any{}
	totalTokens := 0
	if data.Usage != nil {
		usage["input_tokens"] = data.Usage.InputTokens
		usage["output_tokens"] = data.Usage.OutputTokens
		totalTokens = data.Usage.InputTokens + data.Usage.OutputTokens
	}

	parts := []string{fmt.Sprintf("%s, %s", i18n.T(r.locale, i18n.KeySessionComplete), FormatDuration(data.DurationMs))}
	if totalTokens > 0 {
		parts = append(parts, fmt.Sprintf("Tokens: %d", totalTokens))
	}
	if data.NumTurns > 0 {
		parts = append(parts, fmt.Sprintf("Turns: %d", data.NumTurns))
	}
	if data.TotalCostUSD > 0 {
		parts = append(parts, fmt.Sprintf("Cost: $%.4f", data.TotalCostUSD))
	}
	content := strings.Join(parts, " | ")
	log.Printf("INFO: %s", content)

	return domain.NewMessage(req.ProjectID, req.SessionID, domain.RoleSystem, domain.TypeSessionComplete,
		content, map[string]any{
			"runner":         "agent",
			"duration_ms":    data.DurationMs,
			"total_cost_usd": data.TotalCostUSD,
			"num_turns":      data.NumTurns,
			"usage":          usage,
		})
}

// Interrupt asks the backend to stop the in-flight turn, then cancels the
// stream context.
func (r *AgentRunner) Interrupt(ctx context.Context) error {
	r.mu.Lock()
	sessionID := r.sessionID
	cancel := r.cancel
	r.mu.Unlock()

	if sessionID != "" {
		body, _ := json.Marshal(map[string]string{"session_id": sessionID})
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/agent/interrupt", bytes.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
			if resp, err := r.httpClient.Do(httpReq); err != nil {
				log.Printf("WARN: agent interrupt request failed: %v", err)
			} else {
				resp.Body.Close()
			}
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}
