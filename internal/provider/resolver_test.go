package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winghv/newhorse/internal/crypto"
	"github.com/winghv/newhorse/internal/domain"
	"github.com/winghv/newhorse/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewResolver(st, crypto.New("")), st
}

func addProvider(t *testing.T, st *store.SQLiteStore, p domain.Provider) domain.Provider {
	t.Helper()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	require.NoError(t, st.CreateProvider(context.Background(), &p))
	return p
}

func setProviderKey(t *testing.T, st *store.SQLiteStore, providerID, key string) {
	t.Helper()
	ctx := context.Background()
	p, err := st.GetProvider(ctx, providerID)
	require.NoError(t, err)
	require.NotNil(t, p)
	p.APIKey = key
	require.NoError(t, st.UpdateProvider(ctx, p))
}

func builtinByName(t *testing.T, st *store.SQLiteStore, name string) domain.Provider {
	t.Helper()
	providers, err := st.ListProviders(context.Background())
	require.NoError(t, err)
	for _, p := range providers {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("provider %s not found", name)
	return domain.Provider{}
}

func TestResolveNoProviderConfigured(t *testing.T) {
	r, _ := newTestResolver(t)

	// Builtin providers are seeded but none has a credential.
	_, err := r.Resolve(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrNoProvider))
}

func TestResolveExplicitProviderWins(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	openai := builtinByName(t, st, "OpenAI")
	deepseek := builtinByName(t, st, "Deepseek")
	setProviderKey(t, st, openai.ID, "sk-openai")
	setProviderKey(t, st, deepseek.ID, "sk-deepseek")

	route, err := r.Resolve(ctx, Request{ProviderID: deepseek.ID})
	require.NoError(t, err)
	assert.Equal(t, deepseek.ID, route.ProviderID)
	assert.Equal(t, "deepseek-chat", route.ModelID)
	assert.Equal(t, "sk-deepseek", route.APIKey)
}

func TestResolveDisabledProviderSkipped(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	openai := builtinByName(t, st, "OpenAI")
	deepseek := builtinByName(t, st, "Deepseek")
	setProviderKey(t, st, openai.ID, "sk-openai")
	setProviderKey(t, st, deepseek.ID, "sk-deepseek")

	p, _ := st.GetProvider(ctx, deepseek.ID)
	p.Enabled = false
	require.NoError(t, st.UpdateProvider(ctx, p))

	// Explicit but disabled provider falls through to the global default.
	route, err := r.Resolve(ctx, Request{ProviderID: deepseek.ID})
	require.NoError(t, err)
	assert.NotEqual(t, deepseek.ID, route.ProviderID)
}

func TestResolveProjectOverride(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	glm := builtinByName(t, st, "GLM")
	setProviderKey(t, st, glm.ID, "sk-glm")

	now := time.Now().UTC()
	require.NoError(t, st.CreateProject(ctx, &domain.Project{
		ID: "p1", Name: "demo", Status: "active", PreferredAgent: "hello",
		OverrideProviderID: glm.ID,
		CreatedAt:          now, UpdatedAt: now,
	}))

	route, err := r.Resolve(ctx, Request{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, glm.ID, route.ProviderID)
	assert.Equal(t, "glm-4-plus", route.ModelID)
}

func TestResolveModelOwnership(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	qwen := builtinByName(t, st, "Qwen")
	setProviderKey(t, st, qwen.ID, "sk-qwen")

	route, err := r.Resolve(ctx, Request{ModelID: "qwen-turbo"})
	require.NoError(t, err)
	assert.Equal(t, qwen.ID, route.ProviderID)
	assert.Equal(t, "qwen-turbo", route.ModelID)
}

func TestResolveGlobalDefaultPrefersBuiltin(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	addProvider(t, st, domain.Provider{
		ID: "custom01", Name: "Local", Protocol: domain.ProtocolOpenAI,
		APIKey: "sk-local", Enabled: true,
		Models: []domain.ProviderModel{{ProviderID: "custom01", ModelID: "llama3", DisplayName: "Llama 3", IsDefault: true}},
	})
	openai := builtinByName(t, st, "OpenAI")
	setProviderKey(t, st, openai.ID, "sk-openai")

	route, err := r.Resolve(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, openai.ID, route.ProviderID)
}

func TestResolveProjectSelectedModel(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	openai := builtinByName(t, st, "OpenAI")
	setProviderKey(t, st, openai.ID, "sk-openai")

	now := time.Now().UTC()
	require.NoError(t, st.CreateProject(ctx, &domain.Project{
		ID: "p1", Name: "demo", Status: "active", PreferredAgent: "hello",
		SelectedModel: "gpt-4o-mini",
		CreatedAt:     now, UpdatedAt: now,
	}))

	route, err := r.Resolve(ctx, Request{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", route.ModelID)
}

func TestResolveNoCredential(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	deepseek := builtinByName(t, st, "Deepseek")

	// Explicitly routed provider without a key must fail, not proceed.
	_, err := r.Resolve(ctx, Request{ProviderID: deepseek.ID})
	assert.True(t, errors.Is(err, ErrNoCredential))
}

func TestResolveProjectOverrideKey(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	openai := builtinByName(t, st, "OpenAI")
	setProviderKey(t, st, openai.ID, "sk-provider")

	now := time.Now().UTC()
	require.NoError(t, st.CreateProject(ctx, &domain.Project{
		ID: "p1", Name: "demo", Status: "active", PreferredAgent: "hello",
		OverrideProviderID: openai.ID,
		OverrideAPIKey:     "sk-project-override",
		CreatedAt:          now, UpdatedAt: now,
	}))

	route, err := r.Resolve(ctx, Request{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "sk-project-override", route.APIKey)
}
