package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/winghv/newhorse/internal/agentcfg"
	"github.com/winghv/newhorse/internal/config"
	"github.com/winghv/newhorse/internal/crypto"
	"github.com/winghv/newhorse/internal/httpapi"
	"github.com/winghv/newhorse/internal/hub"
	"github.com/winghv/newhorse/internal/orchestrator"
	"github.com/winghv/newhorse/internal/policy"
	"github.com/winghv/newhorse/internal/provider"
	"github.com/winghv/newhorse/internal/store"
	"github.com/winghv/newhorse/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting newhorse server...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Agent backend: %s", cfg.AgentURL)

	if err := os.MkdirAll(cfg.ProjectsRoot, 0o755); err != nil {
		log.Fatalf("Failed to create projects root: %v", err)
	}
	if err := os.MkdirAll(cfg.AgentsRoot, 0o755); err != nil {
		log.Fatalf("Failed to create agents root: %v", err)
	}

	// Initialize storage
	st, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	// Initialize collaborators
	cipher := crypto.New(cfg.EncryptionKey)
	agents := agentcfg.NewLoader(cfg.BuiltinRoot, cfg.AgentsRoot)
	resolver := provider.NewResolver(st, cipher)

	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize conversation state and the orchestrator
	conversationHub := hub.NewHub()
	orch := orchestrator.New(orchestrator.Options{
		Store:        st,
		Hub:          conversationHub,
		Resolver:     resolver,
		Agents:       agents,
		Policy:       policyEngine,
		AgentURL:     cfg.AgentURL,
		ProjectsRoot: cfg.ProjectsRoot,
		Locale:       cfg.Locale,
		HistoryLimit: cfg.HistoryLimit,
	})

	// HTTP + WebSocket server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	apiHandler := httpapi.NewHandler(st, cipher, agents, cfg)
	apiHandler.RegisterRoutes(e)

	wsServer := ws.NewServer(cfg, conversationHub, orch)
	e.GET("/api/chat/:project_id", wsServer.HandleChat)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Server stopped")
}
