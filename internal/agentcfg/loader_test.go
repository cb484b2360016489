package agentcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T) (*Loader, string, string) {
	t.Helper()
	builtin := t.TempDir()
	agents := t.TempDir()
	return NewLoader(builtin, agents), builtin, agents
}

func writeTemplate(t *testing.T, root, id, body string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.yaml"), []byte(body), 0o644))
}

func TestLoadDefaultsWhenNothingExists(t *testing.T) {
	l, _, _ := newTestLoader(t)
	cfg := l.Load(t.TempDir(), "missing")
	assert.Equal(t, "Default Agent", cfg.Name)
	assert.Equal(t, "default", cfg.Source)
	assert.Contains(t, cfg.AllowedTools, "Bash")
}

func TestLoadPrefersProjectConfig(t *testing.T) {
	l, builtin, _ := newTestLoader(t)
	writeTemplate(t, builtin, "hello", "name: Template Agent\n")

	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".claude"), 0o755))
	require.NoError(t, os.WriteFile(
		ProjectConfigPath(project),
		[]byte("name: Project Agent\nmodel: gpt-4o\nskills:\n  - review\n"),
		0o644,
	))

	cfg := l.Load(project, "hello")
	assert.Equal(t, "Project Agent", cfg.Name)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, []string{"review"}, cfg.Skills)
	assert.Contains(t, cfg.Source, "project:")
}

func TestLoadFallsBackToTemplate(t *testing.T) {
	l, builtin, _ := newTestLoader(t)
	writeTemplate(t, builtin, "hello", "name: Template Agent\ndescription: from template\n")

	cfg := l.Load(t.TempDir(), "hello")
	assert.Equal(t, "Template Agent", cfg.Name)
	assert.Equal(t, "template:hello", cfg.Source)
}

func TestBuiltinTemplateShadowsUser(t *testing.T) {
	l, builtin, agents := newTestLoader(t)
	writeTemplate(t, builtin, "hello", "name: Builtin\n")
	writeTemplate(t, agents, "hello", "name: User\n")

	cfg, ok := l.Template("hello")
	require.True(t, ok)
	assert.Equal(t, "Builtin", cfg.Name)
}

func TestSaveUserTemplateRoundTrip(t *testing.T) {
	l, _, _ := newTestLoader(t)
	in := Default()
	in.Name = "Reviewer"
	in.Skills = []string{"code-review"}

	id, err := l.SaveUserTemplate(in)
	require.NoError(t, err)
	require.Len(t, id, 8)

	got, ok := l.Template(id)
	require.True(t, ok)
	assert.Equal(t, "Reviewer", got.Name)
	assert.Equal(t, []string{"code-review"}, got.Skills)
}

func TestDeleteUserTemplate(t *testing.T) {
	l, _, _ := newTestLoader(t)
	id, err := l.SaveUserTemplate(Default())
	require.NoError(t, err)

	assert.True(t, l.DeleteUserTemplate(id))
	assert.False(t, l.DeleteUserTemplate(id))
	_, ok := l.Template(id)
	assert.False(t, ok)
}

func TestListTemplates(t *testing.T) {
	l, builtin, agents := newTestLoader(t)
	writeTemplate(t, builtin, "hello", "name: Hello\ndescription: builtin one\n")
	writeTemplate(t, agents, "abc12345", "name: Custom\n")

	templates := l.ListTemplates()
	require.Len(t, templates, 2)
	assert.Equal(t, "builtin", templates[0].Source)
	assert.Equal(t, "Hello", templates[0].Name)
	assert.Equal(t, "user", templates[1].Source)
}

func TestArtifactMtime(t *testing.T) {
	project := t.TempDir()
	_, ok := ArtifactMtime(project)
	assert.False(t, ok)

	require.NoError(t, os.MkdirAll(filepath.Join(project, ".claude"), 0o755))
	require.NoError(t, os.WriteFile(ProjectConfigPath(project), []byte("name: X\n"), 0o644))

	mtime, ok := ArtifactMtime(project)
	require.True(t, ok)
	assert.False(t, mtime.IsZero())
}
