// Package store defines the storage interface and implementations.
package store

import (
	"context"
	"errors"

	"github.com/winghv/newhorse/internal/domain"
)

// ErrNotFound is returned by the Get* lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for data persistence.
type Store interface {
	// Message operations. GetMessages returns up to limit messages for a
	// project ordered oldest to newest.
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, projectID string, limit int) ([]domain.Message, error)

	// Project operations
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, projectID string) error

	// Provider operations. Providers are returned with their model catalogs
	// loaded, builtin providers first.
	CreateProvider(ctx context.Context, provider *domain.Provider) error
	GetProvider(ctx context.Context, providerID string) (*domain.Provider, error)
	ListProviders(ctx context.Context) ([]domain.Provider, error)
	UpdateProvider(ctx context.Context, provider *domain.Provider) error
	DeleteProvider(ctx context.Context, providerID string) error

	// Provider model operations
	AddProviderModel(ctx context.Context, model *domain.ProviderModel) error
	DeleteProviderModel(ctx context.Context, providerID, modelID string) error
	SetDefaultModel(ctx context.Context, providerID, modelID string) error

	// Lifecycle
	Close() error
}
