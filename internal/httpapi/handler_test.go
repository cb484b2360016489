package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/winghv/newhorse/internal/agentcfg"
	"github.com/winghv/newhorse/internal/config"
	"github.com/winghv/newhorse/internal/crypto"
	"github.com/winghv/newhorse/internal/domain"
	"github.com/winghv/newhorse/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		ProjectsRoot: t.TempDir(),
		HistoryLimit: 50,
	}
	agents := agentcfg.NewLoader(t.TempDir(), t.TempDir())
	return NewHandler(st, crypto.New(""), agents, cfg), st
}

func doJSON(t *testing.T, e *echo.Echo, h func(echo.Context) error, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	if len(names) > 0 {
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestCreateProjectValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := doJSON(t, e, h.CreateProject, http.MethodPost, "/api/projects", `{"description":"no name"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateAndGetProject(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := doJSON(t, e, h.CreateProject, http.MethodPost, "/api/projects", `{"name":"My App","selected_model":"gpt-4o"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if created.ID == "" || created.RepoPath == "" {
		t.Fatalf("project missing id or workspace: %+v", created)
	}
	if created.PreferredAgent != "hello" {
		t.Fatalf("expected default agent, got %q", created.PreferredAgent)
	}

	rec = doJSON(t, e, h.GetProject, http.MethodGet, "/api/projects/"+created.ID, "", "project_id", created.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUnknownIDsReturn404(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := doJSON(t, e, h.GetProject, http.MethodGet, "/api/projects/nope", "", "project_id", "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GetProject: expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "not found") {
		t.Fatalf("expected not-found body, got %s", rec.Body.String())
	}

	rec = doJSON(t, e, h.UpdateProject, http.MethodPut, "/api/projects/nope", `{"name":"x"}`, "project_id", "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("UpdateProject: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, e, h.GetProvider, http.MethodGet, "/api/providers/nope", "", "provider_id", "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GetProvider: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, e, h.UpdateProvider, http.MethodPut, "/api/providers/nope", `{"name":"x"}`, "provider_id", "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("UpdateProvider: expected 404, got %d", rec.Code)
	}
}

func TestProviderViewNeverLeaksCredential(t *testing.T) {
	e := echo.New()
	h, st := newTestHandler(t)

	providers, err := st.ListProviders(context.Background())
	if err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}
	target := providers[0]
	secret := "sk-very-secret-key-12345"

	rec := doJSON(t, e, h.UpdateProvider, http.MethodPut, "/api/providers/"+target.ID,
		`{"api_key":"`+secret+`"}`, "provider_id", target.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), secret) {
		t.Fatal("response leaked the raw credential")
	}

	var view map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if view["has_credential"] != true {
		t.Fatal("expected has_credential=true")
	}
	masked, _ := view["masked_key"].(string)
	if !strings.HasSuffix(masked, "***") {
		t.Fatalf("expected masked key, got %q", masked)
	}
}

func TestDeleteBuiltinProviderRejected(t *testing.T) {
	e := echo.New()
	h, st := newTestHandler(t)

	providers, err := st.ListProviders(context.Background())
	if err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}

	rec := doJSON(t, e, h.DeleteProvider, http.MethodDelete, "/api/providers/"+providers[0].ID, "", "provider_id", providers[0].ID)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for builtin delete, got %d", rec.Code)
	}
}

func TestCreateCustomProviderAndModel(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := doJSON(t, e, h.CreateProvider, http.MethodPost, "/api/providers",
		`{"name":"Local Ollama","protocol":"openai","base_url":"http://localhost:11434/v1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var view map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	id, _ := view["id"].(string)
	if id == "" {
		t.Fatal("missing provider id")
	}

	rec = doJSON(t, e, h.AddProviderModel, http.MethodPost, "/api/providers/"+id+"/models",
		`{"model_id":"llama3.1","is_default":true}`, "provider_id", id)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetMessagesReturnsEnvelopes(t *testing.T) {
	e := echo.New()
	h, st := newTestHandler(t)

	ctx := context.Background()
	if err := st.CreateProject(ctx, &domain.Project{ID: "p1", Name: "P", Status: "active"}); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	for _, content := range []string{"first", "second"} {
		msg := domain.NewMessage("p1", "s1", domain.RoleUser, domain.TypeChat, content, nil)
		if err := st.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	rec := doJSON(t, e, h.GetMessages, http.MethodGet, "/api/chat/p1/messages", "", "project_id", "p1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Messages []domain.Envelope `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if resp.Messages[0].Content != "first" {
		t.Fatalf("expected oldest first, got %q", resp.Messages[0].Content)
	}
}

func TestTemplateLifecycle(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	cfg := agentcfg.Default()
	cfg.Name = "Writer"
	id, err := h.agents.SaveUserTemplate(cfg)
	if err != nil {
		t.Fatalf("SaveUserTemplate failed: %v", err)
	}

	rec := doJSON(t, e, h.ListTemplates, http.MethodGet, "/api/agents/templates", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Writer") {
		t.Fatalf("template listing missing entry: %s", rec.Body.String())
	}

	rec = doJSON(t, e, h.GetTemplate, http.MethodGet, "/api/agents/templates/"+id, "", "template_id", id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, e, h.DeleteTemplate, http.MethodDelete, "/api/agents/templates/"+id, "", "template_id", id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, e, h.GetTemplate, http.MethodGet, "/api/agents/templates/"+id, "", "template_id", id)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}
