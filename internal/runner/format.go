package runner

import (
	"fmt"
	"strings"
)

// modelAliases maps friendly model names to full model IDs for the
// stateful-agent backend. Known full IDs map to themselves.
var modelAliases = map[string]string{
	"sonnet-4":   "claude-sonnet-4-20250514",
	"sonnet-4.5": "claude-sonnet-4-5-20250929",
	"opus-4":     "claude-opus-4-20250514",
	"opus-4.5":   "claude-opus-4-5-20251101",
	"haiku-3.5":  "claude-3-5-haiku-20241022",

	"claude-sonnet-4-20250514":   "claude-sonnet-4-20250514",
	"claude-sonnet-4-5-20250929": "claude-sonnet-4-5-20250929",
	"claude-opus-4-20250514":     "claude-opus-4-20250514",
	"claude-opus-4-5-20251101":   "claude-opus-4-5-20251101",
	"claude-3-5-haiku-20241022":  "claude-3-5-haiku-20241022",
}

// defaultAgentModel is used when no model is resolved for the agent backend.
const defaultAgentModel = "claude-sonnet-4-5-20250929"

// ResolveModelAlias expands a friendly model name to its full ID. Unknown
// or empty names fall back to the default agent model rather than reaching
// the backend unvalidated.
func ResolveModelAlias(model string) string {
	if full, ok := modelAliases[model]; ok {
		return full
	}
	return defaultAgentModel
}

// toolNameMapping normalizes backend-specific tool names to unified labels.
// Lookup is case-insensitive; unmapped names pass through unchanged.
var toolNameMapping = map[string]string{
	"read_file":            "Read",
	"read":                 "Read",
	"write_file":           "Write",
	"write":                "Write",
	"edit_file":            "Edit",
	"edit":                 "Edit",
	"shell":                "Bash",
	"run_terminal_command": "Bash",
	"search_file_content":  "Grep",
	"grep":                 "Grep",
	"find_files":           "Glob",
	"glob":                 "Glob",
	"web_search":           "WebSearch",
	"google_web_search":    "WebSearch",
}

// NormalizeToolName maps a backend tool name to its unified label.
func NormalizeToolName(toolName string) string {
	if normalized, ok := toolNameMapping[strings.ToLower(toolName)]; ok {
		return normalized
	}
	return toolName
}

// FormatDuration renders a millisecond duration: plain milliseconds below one
// second, seconds with two decimals below a minute, else minutes plus
// one-decimal seconds.
func FormatDuration(durationMs int) string {
	if durationMs >= 1000 {
		seconds := float64(durationMs) / 1000
		if seconds >= 60 {
			minutes := int(seconds) / 60
			remaining := seconds - float64(minutes*60)
			return fmt.Sprintf("%dm %.1fs", minutes, remaining)
		}
		return fmt.Sprintf("%.2fs", seconds)
	}
	return fmt.Sprintf("%dms", durationMs)
}

// ToolSummary builds the short human-readable summary shown for one tool
// invocation. File tools show only the file name, shell shows a truncated
// command, search tools show the pattern.
func ToolSummary(toolName string, toolInput map[string]any) string {
	normalized := NormalizeToolName(toolName)

	switch normalized {
	case "Read":
		return fmt.Sprintf("📖 **Read** `%s`", fileNameFromInput(toolInput))
	case "Write":
		return fmt.Sprintf("✏️ **Write** `%s`", fileNameFromInput(toolInput))
	case "Edit":
		return fmt.Sprintf("📝 **Edit** `%s`", fileNameFromInput(toolInput))
	case "Bash":
		cmd := stringField(toolInput, "command")
		if len(cmd) > 40 {
			return fmt.Sprintf("**Bash** `%s...`", cmd[:40])
		}
		return fmt.Sprintf("**Bash** `%s`", cmd)
	case "Grep":
		return fmt.Sprintf("🔍 **Search** `%s`", stringField(toolInput, "pattern"))
	case "Glob":
		return fmt.Sprintf("🔍 **Glob** `%s`", stringField(toolInput, "pattern"))
	case "WebSearch":
		return fmt.Sprintf("🌐 **WebSearch** `%s`", truncate(stringField(toolInput, "query"), 40))
	case "Task":
		return fmt.Sprintf("🤖 **Task** `%s`", truncate(stringField(toolInput, "description"), 40))
	default:
		return fmt.Sprintf("**%s** `executing...`", toolName)
	}
}

// ToolDisplay builds the terse log line for one tool invocation: file name
// for file tools, first token of the command for shell.
func ToolDisplay(toolName string, toolInput map[string]any) string {
	normalized := NormalizeToolName(toolName)

	switch normalized {
	case "Read":
		return "Reading " + fileNameFromInput(toolInput)
	case "Write":
		return "Writing " + fileNameFromInput(toolInput)
	case "Bash":
		cmd := stringField(toolInput, "command")
		if fields := strings.Fields(cmd); len(fields) > 0 {
			return "Running " + fields[0]
		}
		return "Running command"
	default:
		return "Using " + toolName
	}
}

func fileNameFromInput(toolInput map[string]any) string {
	path := stringField(toolInput, "file_path")
	if path == "" {
		path = stringField(toolInput, "path")
	}
	if path == "" {
		return "file"
	}
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
