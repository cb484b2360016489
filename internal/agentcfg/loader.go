// Package agentcfg loads and saves agent behavior profiles. A profile is an
// agent.yaml file; resolution walks project-level config, then builtin and
// user templates, then code defaults.
package agentcfg

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// AgentConfig describes an agent's behavior profile.
type AgentConfig struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	Skills       []string `yaml:"skills" json:"skills"`
	Model        string   `yaml:"model" json:"model"`
	AllowedTools []string `yaml:"allowed_tools" json:"allowed_tools"`

	// Source records where the config came from, for debugging.
	Source string `yaml:"-" json:"source,omitempty"`
}

// Default returns the code-default profile.
func Default() AgentConfig {
	return AgentConfig{
		Name:         "Default Agent",
		Description:  "A helpful AI assistant",
		SystemPrompt: "You are a helpful AI assistant.",
		Model:        "claude-sonnet-4-5-20250929",
		AllowedTools: []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
		Source:       "default",
	}
}

// TemplateInfo is a listing entry for an available agent template.
type TemplateInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
	Source      string `json:"source"`
}

// Loader resolves agent profiles against the filesystem layout:
// builtinRoot holds shipped templates, agentsRoot holds user templates.
type Loader struct {
	builtinRoot string
	agentsRoot  string
}

// NewLoader creates a loader over the given template roots.
func NewLoader(builtinRoot, agentsRoot string) *Loader {
	return &Loader{builtinRoot: builtinRoot, agentsRoot: agentsRoot}
}

// ProjectConfigPath returns the project-level profile location.
func ProjectConfigPath(projectPath string) string {
	return filepath.Join(projectPath, ".claude", "agent.yaml")
}

func (l *Loader) templatePath(agentType string) string {
	builtin := filepath.Join(l.builtinRoot, agentType, "agent.yaml")
	if _, err := os.Stat(builtin); err == nil {
		return builtin
	}
	user := filepath.Join(l.agentsRoot, agentType, "agent.yaml")
	if _, err := os.Stat(user); err == nil {
		return user
	}
	return builtin
}

func parseYAMLFile(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Load resolves the profile for a project. Priority: project-level
// agent.yaml, then the agentType template, then defaults. A malformed file
// is logged and skipped rather than failing the load.
func (l *Loader) Load(projectPath, agentType string) AgentConfig {
	projectCfg := ProjectConfigPath(projectPath)
	if cfg, err := parseYAMLFile(projectCfg); err == nil {
		cfg.Source = "project:" + projectCfg
		return *cfg
	} else if !os.IsNotExist(err) {
		log.Printf("WARN: failed to parse %s: %v", projectCfg, err)
	}

	if agentType != "" {
		tpl := l.templatePath(agentType)
		if cfg, err := parseYAMLFile(tpl); err == nil {
			cfg.Source = "template:" + agentType
			return *cfg
		} else if !os.IsNotExist(err) {
			log.Printf("WARN: failed to parse %s: %v", tpl, err)
		}
	}

	return Default()
}

func writeYAML(path string, cfg AgentConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// SaveProjectConfig writes the profile into the project workspace.
func (l *Loader) SaveProjectConfig(projectPath string, cfg AgentConfig) error {
	path := ProjectConfigPath(projectPath)
	if err := writeYAML(path, cfg); err != nil {
		return fmt.Errorf("save project config: %w", err)
	}
	return nil
}

// SaveUserTemplate stores the profile as a reusable user template and
// returns its id.
func (l *Loader) SaveUserTemplate(cfg AgentConfig) (string, error) {
	id := uuid.New().String()[:8]
	path := filepath.Join(l.agentsRoot, id, "agent.yaml")
	if err := writeYAML(path, cfg); err != nil {
		return "", fmt.Errorf("save user template: %w", err)
	}
	return id, nil
}

// DeleteUserTemplate removes a user-created template. Builtin templates are
// never deleted.
func (l *Loader) DeleteUserTemplate(id string) bool {
	path := filepath.Join(l.agentsRoot, id)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.RemoveAll(path); err != nil {
		log.Printf("ERROR: failed to delete template %s: %v", id, err)
		return false
	}
	return true
}

// Template returns a specific template's profile, or false if absent.
func (l *Loader) Template(id string) (AgentConfig, bool) {
	cfg, err := parseYAMLFile(l.templatePath(id))
	if err != nil {
		return AgentConfig{}, false
	}
	cfg.Source = "template:" + id
	return *cfg, true
}

// ListTemplates enumerates builtin then user templates.
func (l *Loader) ListTemplates() []TemplateInfo {
	var out []TemplateInfo
	out = append(out, l.scanTemplates(l.builtinRoot, "builtin")...)
	out = append(out, l.scanTemplates(l.agentsRoot, "user")...)
	return out
}

func (l *Loader) scanTemplates(root, source string) []TemplateInfo {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []TemplateInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name(), "agent.yaml")
		cfg, err := parseYAMLFile(path)
		if err != nil {
			continue
		}
		name := cfg.Name
		if name == "" {
			name = e.Name()
		}
		out = append(out, TemplateInfo{
			ID:          e.Name(),
			Name:        name,
			Description: cfg.Description,
			Path:        path,
			Source:      source,
		})
	}
	return out
}

// ArtifactMtime reports the modification time of a project's agent.yaml,
// or ok=false if the file does not exist. Used to detect a profile written
// during a generation.
func ArtifactMtime(projectPath string) (time.Time, bool) {
	info, err := os.Stat(ProjectConfigPath(projectPath))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
