// Package orchestrator runs the per-conversation instruction loop: resolve a
// backend route, drive the runner, relay and persist every message it
// yields, recover stale upstream sessions with one silent retry, and honor
// out-of-band stop requests.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/winghv/newhorse/internal/agentcfg"
	"github.com/winghv/newhorse/internal/domain"
	"github.com/winghv/newhorse/internal/hub"
	"github.com/winghv/newhorse/internal/i18n"
	"github.com/winghv/newhorse/internal/policy"
	"github.com/winghv/newhorse/internal/provider"
	"github.com/winghv/newhorse/internal/runner"
	"github.com/winghv/newhorse/internal/store"
)

const clearCommand = "/clear"

// Instruction is one inbound unit of work for a conversation.
type Instruction struct {
	Content    string
	ModelID    string
	ProviderID string
	Images     []string
}

// Options wires the orchestrator's collaborators and policies.
type Options struct {
	Store        store.Store
	Hub          *hub.Hub
	Resolver     *provider.Resolver
	Agents       *agentcfg.Loader
	Policy       *policy.Engine
	AgentURL     string
	ProjectsRoot string
	Locale       string
	HistoryLimit int

	// NewRunner overrides runner construction; nil uses runner.New.
	NewRunner func(protocol string, opts runner.Options) (runner.Runner, error)
}

// Orchestrator drives one instruction at a time per conversation. The hub's
// serial queue guarantees Execute is never entered concurrently for the
// same project.
type Orchestrator struct {
	store        store.Store
	hub          *hub.Hub
	resolver     *provider.Resolver
	agents       *agentcfg.Loader
	policy       *policy.Engine
	agentURL     string
	projectsRoot string
	locale       string
	historyLimit int
	newRunner    func(protocol string, opts runner.Options) (runner.Runner, error)
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.NewRunner == nil {
		opts.NewRunner = runner.New
	}
	return &Orchestrator{
		store:        opts.Store,
		hub:          opts.Hub,
		resolver:     opts.Resolver,
		agents:       opts.Agents,
		policy:       opts.Policy,
		agentURL:     opts.AgentURL,
		projectsRoot: opts.ProjectsRoot,
		locale:       opts.Locale,
		historyLimit: opts.HistoryLimit,
		newRunner:    opts.NewRunner,
	}
}

// Execute processes one instruction for a conversation end to end. It
// returns only after the runner stream is fully drained and every yielded
// message has been relayed and persisted.
func (o *Orchestrator) Execute(ctx context.Context, projectID string, instr Instruction) {
	content := strings.TrimSpace(instr.Content)
	if content == "" {
		return
	}

	sessionID := uuid.New().String()

	userMsg := domain.NewMessage(projectID, sessionID, domain.RoleUser, domain.TypeChat, instr.Content, nil)
	o.deliver(projectID, userMsg, nil)

	route, err := o.resolver.Resolve(ctx, provider.Request{
		ModelID:    instr.ModelID,
		ProviderID: instr.ProviderID,
		ProjectID:  projectID,
	})
	if err != nil {
		log.Printf("ERROR: resolution failed for project %s: %v", projectID, err)
		o.deliver(projectID, domain.NewMessage(projectID, sessionID, domain.RoleSystem, domain.TypeError,
			fmt.Sprintf("Error: %v", err), nil), nil)
		return
	}

	r, err := o.newRunner(route.Protocol, runner.Options{
		AgentURL: o.agentURL,
		Policy:   o.policy,
		Locale:   o.locale,
	})
	if err != nil {
		log.Printf("ERROR: no runner for protocol %s: %v", route.Protocol, err)
		o.deliver(projectID, domain.NewMessage(projectID, sessionID, domain.RoleSystem, domain.TypeError,
			fmt.Sprintf("Error: %v", err), nil), route)
		return
	}

	if exec, ok := r.(hub.Interrupter); ok {
		if !o.hub.BeginExecution(projectID, exec) {
			log.Printf("WARN: generation already running for project %s, dropping instruction", projectID)
			return
		}
	} else {
		if !o.hub.BeginExecution(projectID, noInterrupt{}) {
			log.Printf("WARN: generation already running for project %s, dropping instruction", projectID)
			return
		}
	}
	defer o.hub.EndExecution(projectID)

	req := o.buildRequest(ctx, projectID, sessionID, content, instr, route)

	var mtimeBefore time.Time
	var hadArtifact bool
	if route.Protocol == domain.ProtocolAgent {
		mtimeBefore, hadArtifact = agentcfg.ArtifactMtime(req.WorkingDir)
	}

	err = o.drain(ctx, projectID, r, route, req)

	if o.hub.CancelRequested(projectID) {
		// Stop() owns the stopped message; nothing more to do this turn.
		return
	}
	if err != nil {
		log.Printf("ERROR: runner failed for project %s: %v", projectID, err)
		o.hub.SetUpstreamSession(projectID, "")
		o.deliver(projectID, domain.NewMessage(projectID, sessionID, domain.RoleSystem, domain.TypeError,
			fmt.Sprintf("Error: %v", err), nil), route)
		return
	}

	if route.Protocol == domain.ProtocolAgent {
		o.checkArtifact(ctx, projectID, sessionID, req.WorkingDir, mtimeBefore, hadArtifact, route)
	}
}

// drain runs the runner stream, holding back the completion message when a
// resumed upstream session produces no chat output. That shape means the
// backend silently discarded the handle: the attempt is replayed once,
// fresh, and the degenerate completion is dropped.
func (o *Orchestrator) drain(ctx context.Context, projectID string, r runner.Runner, route *domain.ResolvedRoute, req runner.Request) error {
	attemptedResume := req.Resume != "" && !req.FreshSession

	var sawChat bool
	var held *domain.Message
	emit := func(msg *domain.Message) {
		if msg.Type == domain.TypeChat {
			sawChat = true
		}
		if attemptedResume && msg.Type == domain.TypeSessionComplete && !sawChat {
			held = msg
			return
		}
		if held != nil {
			// chat arrived after the provisional completion; release in order
			o.deliver(projectID, held, route)
			held = nil
		}
		o.deliver(projectID, msg, route)
	}

	if err := r.Stream(ctx, route, req, emit); err != nil {
		return err
	}

	if attemptedResume && !sawChat {
		if o.hub.CancelRequested(projectID) {
			// an interrupt can end the resumed stream cleanly with no chat;
			// that is a cancellation, not a discarded handle
			return nil
		}
		log.Printf("WARN: resumed session produced no output for project %s, retrying fresh", projectID)
		o.hub.SetUpstreamSession(projectID, "")
		req.Resume = ""
		retryEmit := func(msg *domain.Message) {
			o.deliver(projectID, msg, route)
		}
		return r.Stream(ctx, route, req, retryEmit)
	}
	if held != nil {
		o.deliver(projectID, held, route)
	}
	return nil
}

// buildRequest assembles the runner request for one turn: agent protocol
// gets the workspace profile and resume handle, turn-based protocols get
// replayed chat history.
func (o *Orchestrator) buildRequest(ctx context.Context, projectID, sessionID, content string, instr Instruction, route *domain.ResolvedRoute) runner.Request {
	req := runner.Request{
		Instruction: content,
		ProjectID:   projectID,
		SessionID:   sessionID,
	}
	for _, img := range instr.Images {
		req.Images = append(req.Images, runner.ImageRef{Path: img})
	}

	workingDir := filepath.Join(o.projectsRoot, projectID)
	agentType := ""
	project, err := o.store.GetProject(ctx, projectID)
	switch {
	case err == nil:
		if project.RepoPath != "" {
			workingDir = project.RepoPath
		}
		agentType = project.PreferredAgent
	case errors.Is(err, store.ErrNotFound):
		// unknown conversation id still gets a turn; the default workspace
		// profile applies
		agentType = "hello"
	default:
		log.Printf("WARN: failed to load project %s: %v", projectID, err)
	}
	req.WorkingDir = workingDir

	isClear := content == clearCommand

	switch route.Protocol {
	case domain.ProtocolAgent:
		cfg := o.agents.Load(workingDir, agentType)
		req.SystemPrompt = cfg.SystemPrompt
		req.AllowedTools = cfg.AllowedTools
		if isClear {
			req.FreshSession = true
		} else {
			req.Resume = o.hub.UpstreamSession(projectID)
		}
		req.OnUpstreamSession = func(handle string) {
			o.hub.SetUpstreamSession(projectID, handle)
		}
	default:
		if isClear {
			// turn-based backends have no upstream session; clearing is just
			// an empty turn boundary
			req.Instruction = content
		}
		req.History = o.loadHistory(ctx, projectID)
	}
	return req
}

func (o *Orchestrator) loadHistory(ctx context.Context, projectID string) []runner.Turn {
	messages, err := o.store.GetMessages(ctx, projectID, o.historyLimit)
	if err != nil {
		log.Printf("WARN: failed to load history for project %s: %v", projectID, err)
		return nil
	}
	var turns []runner.Turn
	for _, m := range messages {
		if m.Type != domain.TypeChat {
			continue
		}
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, runner.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// Stop requests cancellation of the in-flight generation, if any, and
// acknowledges with exactly one stopped message either way.
func (o *Orchestrator) Stop(ctx context.Context, projectID string) {
	if exec := o.hub.RequestCancel(projectID); exec != nil {
		if err := exec.Interrupt(ctx); err != nil {
			log.Printf("WARN: interrupt failed for project %s: %v", projectID, err)
		}
	}
	msg := domain.NewMessage(projectID, "", domain.RoleSystem, domain.TypeStopped,
		i18n.T(o.locale, i18n.KeyExecutionStopped), nil)
	o.deliver(projectID, msg, nil)
}

// checkArtifact fires the template side effect when the workspace profile
// was written during this turn: save it as a reusable template, materialize
// a new project from it, and announce the new identity.
func (o *Orchestrator) checkArtifact(ctx context.Context, projectID, sessionID, workingDir string, before time.Time, hadBefore bool, route *domain.ResolvedRoute) {
	after, ok := agentcfg.ArtifactMtime(workingDir)
	if !ok {
		return
	}
	if hadBefore && !after.After(before) {
		return
	}

	cfg := o.agents.Load(workingDir, "")
	templateID, err := o.agents.SaveUserTemplate(cfg)
	if err != nil {
		log.Printf("ERROR: failed to save template from project %s: %v", projectID, err)
		return
	}
	log.Printf("INFO: saved agent template %s (%s)", templateID, cfg.Name)

	newProjectID := uuid.New().String()[:8]
	newPath := filepath.Join(o.projectsRoot, newProjectID)
	if err := os.MkdirAll(newPath, 0o755); err != nil {
		log.Printf("ERROR: failed to create workspace %s: %v", newPath, err)
		return
	}
	if err := o.agents.SaveProjectConfig(newPath, cfg); err != nil {
		log.Printf("ERROR: failed to seed workspace %s: %v", newPath, err)
	}
	newProject := &domain.Project{
		ID:             newProjectID,
		Name:           cfg.Name,
		Description:    cfg.Description,
		RepoPath:       newPath,
		Status:         "active",
		PreferredAgent: "hello",
		SelectedModel:  cfg.Model,
	}
	if err := o.store.CreateProject(ctx, newProject); err != nil {
		log.Printf("ERROR: failed to create project from template: %v", err)
	}

	msg := domain.NewMessage(projectID, sessionID, domain.RoleSystem, domain.TypeAgentCreated,
		i18n.T(o.locale, i18n.KeyAgentCreated, cfg.Name), map[string]any{
			"template_id":    templateID,
			"template_name":  cfg.Name,
			"new_project_id": newProjectID,
		})
	o.deliver(projectID, msg, route)
}

// deliver relays a message to every live endpoint and persists it. Relay
// and persistence failures are logged and swallowed; generation never
// stalls on a bad endpoint or a storage hiccup.
func (o *Orchestrator) deliver(projectID string, msg *domain.Message, route *domain.ResolvedRoute) {
	if route != nil && msg.Role != domain.RoleUser {
		msg.ModelID = route.ModelID
		msg.ProviderID = route.ProviderID
	}
	if err := o.hub.BroadcastJSON(projectID, msg.Envelope()); err != nil {
		log.Printf("WARN: failed to broadcast message %s: %v", msg.ID, err)
	}
	if err := o.store.CreateMessage(context.Background(), msg); err != nil {
		log.Printf("ERROR: failed to save message %s: %v", msg.ID, err)
	}
}

// noInterrupt marks a generation in flight for a runner without a
// cancellation hook.
type noInterrupt struct{}

func (noInterrupt) Interrupt(ctx context.Context) error { return nil }
