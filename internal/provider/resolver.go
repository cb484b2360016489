// Package provider resolves which backend drives a turn: the (provider,
// model, credential) route for one instruction.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/winghv/newhorse/internal/crypto"
	"github.com/winghv/newhorse/internal/domain"
	"github.com/winghv/newhorse/internal/store"
)

var (
	// ErrNoProvider means no resolution step yielded a usable provider.
	// Surfaced to the user, never retried.
	ErrNoProvider = errors.New("no enabled provider available")
	// ErrNoModel means a provider was found but no model could be selected.
	ErrNoModel = errors.New("no model available for provider")
	// ErrNoCredential means the selected provider has no usable credential.
	// A route without a credential must never drive a runner.
	ErrNoCredential = errors.New("provider has no API key configured")
)

// Resolver maps a request's hints to one concrete route. Read-only against
// the store; routes are consumed immediately and never cached.
type Resolver struct {
	store  store.Store
	cipher *crypto.Cipher
}

// NewResolver creates a resolver.
func NewResolver(st store.Store, cipher *crypto.Cipher) *Resolver {
	return &Resolver{store: st, cipher: cipher}
}

// Request carries the caller's routing hints. All fields are optional.
type Request struct {
	ModelID    string
	ProviderID string
	ProjectID  string
}

// Resolve picks the provider, model and credential for one turn.
//
// Provider priority (first match wins):
//  1. Explicit provider_id from the instruction, if enabled.
//  2. Project override provider, if enabled.
//  3. The enabled provider whose catalog owns the explicit model_id.
//  4. First enabled provider with an API key, builtin first.
//
// Model priority once a provider is fixed: explicit model_id, project
// selected model, the provider's catalog default. Credential: project
// override key beats the provider key; both decrypted just-in-time.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*domain.ResolvedRoute, error) {
	var project *domain.Project
	if req.ProjectID != "" {
		p, err := r.store.GetProject(ctx, req.ProjectID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load project: %w", err)
		}
		// an unknown project id just means no override or selected model
		project = p
	}

	providers, err := r.store.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	provider := pickProvider(providers, project, req)
	if provider == nil {
		return nil, ErrNoProvider
	}

	modelID := req.ModelID
	if modelID == "" && project != nil {
		modelID = project.SelectedModel
	}
	if modelID == "" {
		for _, m := range provider.Models {
			if m.IsDefault {
				modelID = m.ModelID
				break
			}
		}
	}
	if modelID == "" {
		return nil, ErrNoModel
	}

	apiKey := ""
	if project != nil && project.OverrideAPIKey != "" {
		apiKey = r.cipher.Decrypt(project.OverrideAPIKey)
	} else if provider.APIKey != "" {
		apiKey = r.cipher.Decrypt(provider.APIKey)
	}
	if apiKey == "" {
		return nil, ErrNoCredential
	}

	return &domain.ResolvedRoute{
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		Protocol:     provider.Protocol,
		BaseURL:      provider.BaseURL,
		APIKey:       apiKey,
		ModelID:      modelID,
	}, nil
}

func pickProvider(providers []domain.Provider, project *domain.Project, req Request) *domain.Provider {
	byID := func(id string) *domain.Provider {
		for i := range providers {
			if providers[i].ID == id && providers[i].Enabled {
				return &providers[i]
			}
		}
		return nil
	}

	// 1. Explicit provider from the instruction
	if req.ProviderID != "" {
		if p := byID(req.ProviderID); p != nil {
			return p
		}
	}

	// 2. Project override
	if project != nil && project.OverrideProviderID != "" {
		if p := byID(project.OverrideProviderID); p != nil {
			return p
		}
	}

	// 3. Owner of the explicit model
	if req.ModelID != "" {
		for i := range providers {
			if !providers[i].Enabled {
				continue
			}
			for _, m := range providers[i].Models {
				if m.ModelID == req.ModelID {
					return &providers[i]
				}
			}
		}
	}

	// 4. Global default: first enabled provider with a key, builtin first.
	// ListProviders already orders builtin first.
	for i := range providers {
		if providers[i].Enabled && providers[i].APIKey != "" {
			return &providers[i]
		}
	}

	return nil
}
