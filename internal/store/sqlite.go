package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/winghv/newhorse/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store, runs migrations and seeds the
// builtin provider catalog.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: sqlite serializes writers anyway, and pooled
	// connections to :memory: would each see a different database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := store.seedProviders(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed providers: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			repo_path TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			preferred_agent TEXT NOT NULL DEFAULT 'hello',
			selected_model TEXT,
			override_provider_id TEXT,
			override_api_key TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT,
			role TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'chat',
			content TEXT,
			metadata TEXT,
			model_id TEXT,
			provider_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_project ON messages(project_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			protocol TEXT NOT NULL,
			base_url TEXT,
			api_key TEXT,
			is_builtin INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS provider_models (
			id TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (provider_id) REFERENCES providers(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_provider_models_provider ON provider_models(provider_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

type seedProvider struct {
	name     string
	protocol string
	baseURL  string
	models   []seedModel
}

type seedModel struct {
	modelID     string
	displayName string
	isDefault   bool
}

var builtinProviders = []seedProvider{
	{
		name:     "Anthropic",
		protocol: domain.ProtocolAgent,
		models: []seedModel{
			{"claude-sonnet-4-5-20250929", "Sonnet 4.5", true},
			{"claude-opus-4-5-20251101", "Opus 4.5", false},
			{"claude-3-5-haiku-20241022", "Haiku 3.5", false},
		},
	},
	{
		name:     "OpenAI",
		protocol: domain.ProtocolOpenAI,
		models: []seedModel{
			{"gpt-4o", "GPT-4o", true},
			{"gpt-4o-mini", "GPT-4o Mini", false},
		},
	},
	{
		name:     "Deepseek",
		protocol: domain.ProtocolOpenAI,
		baseURL:  "https://api.deepseek.com",
		models: []seedModel{
			{"deepseek-chat", "Deepseek V3", true},
			{"deepseek-reasoner", "Deepseek R1", false},
		},
	},
	{
		name:     "Qwen",
		protocol: domain.ProtocolOpenAI,
		baseURL:  "https://dashscope.aliyuncs.com/compatible-mode/v1",
		models: []seedModel{
			{"qwen-plus", "Qwen Plus", true},
			{"qwen-turbo", "Qwen Turbo", false},
			{"qwen-max", "Qwen Max", false},
		},
	},
	{
		name:     "GLM",
		protocol: domain.ProtocolOpenAI,
		baseURL:  "https://open.bigmodel.cn/api/paas/v4",
		models: []seedModel{
			{"glm-4-plus", "GLM-4 Plus", true},
			{"glm-4-flash", "GLM-4 Flash", false},
		},
	},
}

// seedProviders inserts the builtin provider catalog if it is not present yet.
func (s *SQLiteStore) seedProviders() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM providers WHERE is_builtin = 1`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, p := range builtinProviders {
		providerID := uuid.New().String()[:8]
		_, err := s.db.Exec(
			`INSERT INTO providers (id, name, protocol, base_url, api_key, is_builtin, enabled, created_at, updated_at)
			 VALUES (?, ?, ?, ?, NULL, 1, 1, ?, ?)`,
			providerID, p.name, p.protocol, nullString(p.baseURL), now, now)
		if err != nil {
			return err
		}
		for _, m := range p.models {
			_, err := s.db.Exec(
				`INSERT INTO provider_models (id, provider_id, model_id, display_name, is_default, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				uuid.New().String()[:8], providerID, m.modelID, m.displayName, boolInt(m.isDefault), now)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateMessage persists a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	var metadata any
	if message.Metadata != nil {
		data, err := json.Marshal(message.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, project_id, session_id, role, type, content, metadata, model_id, provider_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.ProjectID, nullString(message.SessionID), message.Role, message.Type,
		message.Content, metadata, nullString(message.ModelID), nullString(message.ProviderID), message.CreatedAt)
	return err
}

// GetMessages retrieves the most recent messages for a project, returned
// oldest to newest.
func (s *SQLiteStore) GetMessages(ctx context.Context, projectID string, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, session_id, role, type, content, metadata, model_id, provider_id, created_at
		 FROM messages WHERE project_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var sessionID, content, metadata, modelID, providerID sql.NullString
		if err := rows.Scan(&m.ID, &m.ProjectID, &sessionID, &m.Role, &m.Type,
			&content, &metadata, &modelID, &providerID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SessionID = sessionID.String
		m.Content = content.String
		m.ModelID = modelID.String
		m.ProviderID = providerID.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				m.Metadata = nil
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CreateProject creates a new project.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, repo_path, status, preferred_agent, selected_model,
		 override_provider_id, override_api_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, nullString(project.Description), nullString(project.RepoPath),
		project.Status, project.PreferredAgent, nullString(project.SelectedModel),
		nullString(project.OverrideProviderID), nullString(project.OverrideAPIKey),
		project.CreatedAt, project.UpdatedAt)
	return err
}

// GetProject retrieves a project by ID. Returns ErrNotFound when no row
// matches.
func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, repo_path, status, preferred_agent, selected_model,
		 override_provider_id, override_api_key, created_at, updated_at
		 FROM projects WHERE id = ?`, projectID)
	return scanProject(row)
}

// ListProjects lists all projects, newest first.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, repo_path, status, preferred_agent, selected_model,
		 override_provider_id, override_api_key, created_at, updated_at
		 FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// UpdateProject updates a project record.
func (s *SQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	project.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, repo_path = ?, status = ?, preferred_agent = ?,
		 selected_model = ?, override_provider_id = ?, override_api_key = ?, updated_at = ?
		 WHERE id = ?`,
		project.Name, nullString(project.Description), nullString(project.RepoPath), project.Status,
		project.PreferredAgent, nullString(project.SelectedModel), nullString(project.OverrideProviderID),
		nullString(project.OverrideAPIKey), project.UpdatedAt, project.ID)
	return err
}

// DeleteProject deletes a project and its messages.
func (s *SQLiteStore) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID)
	return err
}

// CreateProvider creates a provider with its models.
func (s *SQLiteStore) CreateProvider(ctx context.Context, provider *domain.Provider) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (id, name, protocol, base_url, api_key, is_builtin, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		provider.ID, provider.Name, provider.Protocol, nullString(provider.BaseURL),
		nullString(provider.APIKey), boolInt(provider.IsBuiltin), boolInt(provider.Enabled),
		provider.CreatedAt, provider.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range provider.Models {
		if err := s.AddProviderModel(ctx, &provider.Models[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetProvider retrieves a provider with its model catalog. Returns
// ErrNotFound when no row matches.
func (s *SQLiteStore) GetProvider(ctx context.Context, providerID string) (*domain.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, protocol, base_url, api_key, is_builtin, enabled, created_at, updated_at
		 FROM providers WHERE id = ?`, providerID)
	provider, err := scanProvider(row)
	if err != nil {
		return nil, err
	}
	models, err := s.providerModels(ctx, provider.ID)
	if err != nil {
		return nil, err
	}
	provider.Models = models
	return provider, nil
}

// ListProviders lists all providers with model catalogs, builtin first.
func (s *SQLiteStore) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, protocol, base_url, api_key, is_builtin, enabled, created_at, updated_at
		 FROM providers ORDER BY is_builtin DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range providers {
		models, err := s.providerModels(ctx, providers[i].ID)
		if err != nil {
			return nil, err
		}
		providers[i].Models = models
	}
	return providers, nil
}

// UpdateProvider updates a provider record (not its model catalog).
func (s *SQLiteStore) UpdateProvider(ctx context.Context, provider *domain.Provider) error {
	provider.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE providers SET name = ?, protocol = ?, base_url = ?, api_key = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		provider.Name, provider.Protocol, nullString(provider.BaseURL), nullString(provider.APIKey),
		boolInt(provider.Enabled), provider.UpdatedAt, provider.ID)
	return err
}

// DeleteProvider deletes a provider and its models.
func (s *SQLiteStore) DeleteProvider(ctx context.Context, providerID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_models WHERE provider_id = ?`, providerID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, providerID)
	return err
}

// AddProviderModel adds a model to a provider's catalog.
func (s *SQLiteStore) AddProviderModel(ctx context.Context, model *domain.ProviderModel) error {
	if model.ID == "" {
		model.ID = uuid.New().String()[:8]
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_models (id, provider_id, model_id, display_name, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		model.ID, model.ProviderID, model.ModelID, model.DisplayName, boolInt(model.IsDefault), model.CreatedAt)
	return err
}

// DeleteProviderModel removes a model from a provider's catalog.
func (s *SQLiteStore) DeleteProviderModel(ctx context.Context, providerID, modelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_models WHERE provider_id = ? AND model_id = ?`, providerID, modelID)
	return err
}

// SetDefaultModel marks one model as the provider's default.
func (s *SQLiteStore) SetDefaultModel(ctx context.Context, providerID, modelID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE provider_models SET is_default = 0 WHERE provider_id = ?`, providerID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE provider_models SET is_default = 1 WHERE provider_id = ? AND model_id = ?`, providerID, modelID)
	return err
}

func (s *SQLiteStore) providerModels(ctx context.Context, providerID string) ([]domain.ProviderModel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, model_id, display_name, is_default, created_at
		 FROM provider_models WHERE provider_id = ? ORDER BY created_at ASC`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []domain.ProviderModel
	for rows.Next() {
		var m domain.ProviderModel
		var isDefault int
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.ModelID, &m.DisplayName, &isDefault, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IsDefault = isDefault != 0
		models = append(models, m)
	}
	return models, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var description, repoPath, selectedModel, overrideProvider, overrideKey sql.NullString
	err := row.Scan(&p.ID, &p.Name, &description, &repoPath, &p.Status, &p.PreferredAgent,
		&selectedModel, &overrideProvider, &overrideKey, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.RepoPath = repoPath.String
	p.SelectedModel = selectedModel.String
	p.OverrideProviderID = overrideProvider.String
	p.OverrideAPIKey = overrideKey.String
	return &p, nil
}

func scanProvider(row rowScanner) (*domain.Provider, error) {
	var p domain.Provider
	var baseURL, apiKey sql.NullString
	var isBuiltin, enabled int
	err := row.Scan(&p.ID, &p.Name, &p.Protocol, &baseURL, &apiKey, &isBuiltin, &enabled, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.BaseURL = baseURL.String
	p.APIKey = apiKey.String
	p.IsBuiltin = isBuiltin != 0
	p.Enabled = enabled != 0
	return &p, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
