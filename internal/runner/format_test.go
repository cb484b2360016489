package runner

import (
	"strings"
	"testing"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		ms   int
		want string
	}{
		{0, "0ms"},
		{650, "650ms"},
		{999, "999ms"},
		{1000, "1.00s"},
		{12340, "12.34s"},
		{59990, "59.99s"},
		{60000, "1m 0.0s"},
		{125000, "2m 5.0s"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.ms); got != tc.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}

func TestNormalizeToolName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"read_file", "Read"},
		{"READ", "Read"},
		{"shell", "Bash"},
		{"run_terminal_command", "Bash"},
		{"search_file_content", "Grep"},
		{"google_web_search", "WebSearch"},
		{"MyCustomTool", "MyCustomTool"},
	}
	for _, tc := range cases {
		if got := NormalizeToolName(tc.in); got != tc.want {
			t.Errorf("NormalizeToolName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestToolSummaryReadShowsFileNameOnly(t *testing.T) {
	got := ToolSummary("read_file", map[string]any{"file_path": "/a/b/report.md"})
	if !strings.Contains(got, "report.md") {
		t.Fatalf("summary should reference the file name: %q", got)
	}
	if strings.Contains(got, "/a/b") {
		t.Fatalf("summary should not contain the full path: %q", got)
	}
	if !strings.Contains(got, "Read") {
		t.Fatalf("summary should carry the normalized label: %q", got)
	}
}

func TestToolSummaryBashTruncates(t *testing.T) {
	long := strings.Repeat("x", 60)
	got := ToolSummary("shell", map[string]any{"command": long})
	if !strings.Contains(got, strings.Repeat("x", 40)+"...") {
		t.Fatalf("expected truncated command, got %q", got)
	}

	short := ToolSummary("Bash", map[string]any{"command": "ls -la"})
	if !strings.Contains(short, "ls -la") || strings.Contains(short, "...") {
		t.Fatalf("unexpected short command summary: %q", short)
	}
}

func TestToolSummaryUnknownTool(t *testing.T) {
	got := ToolSummary("custom_analyzer", map[string]any{"arg": "v"})
	if !strings.Contains(got, "custom_analyzer") {
		t.Fatalf("unknown tool should pass through: %q", got)
	}
}

func TestToolDisplay(t *testing.T) {
	if got := ToolDisplay("read", map[string]any{"path": "/x/y/main.go"}); got != "Reading main.go" {
		t.Fatalf("unexpected display: %q", got)
	}
	if got := ToolDisplay("shell", map[string]any{"command": "git status --short"}); got != "Running git" {
		t.Fatalf("unexpected display: %q", got)
	}
	if got := ToolDisplay("WebSearch", map[string]any{"query": "go"}); got != "Using WebSearch" {
		t.Fatalf("unexpected display: %q", got)
	}
}

func TestResolveModelAlias(t *testing.T) {
	if got := ResolveModelAlias("sonnet-4.5"); got != "claude-sonnet-4-5-20250929" {
		t.Fatalf("alias not resolved: %q", got)
	}
	if got := ResolveModelAlias("claude-opus-4-5-20251101"); got != "claude-opus-4-5-20251101" {
		t.Fatalf("full id should pass through: %q", got)
	}
	if got := ResolveModelAlias(""); got != defaultAgentModel {
		t.Fatalf("empty model should default: %q", got)
	}
	if got := ResolveModelAlias("gpt-4o"); got != defaultAgentModel {
		t.Fatalf("unknown model should default: %q", got)
	}
}
