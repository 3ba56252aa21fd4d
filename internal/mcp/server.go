// Package mcp provides an MCP (Model Context Protocol) server for seekwalk.
// It lets an agent run batches, inspect their density and export archives.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/logging"
	"github.com/nvandessel/seekwalk/internal/ratelimit"
	"github.com/nvandessel/seekwalk/internal/store"
)

// Server wraps the MCP SDK server and provides seekwalk tools.
type Server struct {
	server       *sdk.Server
	store        store.HistoryStore
	ownsStore    bool
	settings     *config.SeekwalkConfig
	home         string
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	logger       *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "seekwalk")
	Version string // Server version

	// Settings supplies default walk parameters and budgets.
	Settings *config.SeekwalkConfig

	// Home is the seekwalk directory for archives and the audit log.
	// Defaults to ~/.seekwalk.
	Home string

	// Store overrides the history store opened from Settings. The server
	// does not close a store it was given.
	Store store.HistoryStore

	// Logger receives operational logs. Defaults to a discarding logger.
	Logger *slog.Logger

	// Audit overrides the audit log file under Home.
	Audit *AuditLogger
}

// NewServer creates a new MCP server with seekwalk tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	home := cfg.Home
	if home == "" {
		home = config.HomeDir()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	hs, owns := cfg.Store, false
	if hs == nil {
		var err error
		hs, err = openStore(settings)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		owns = true
	}

	audit := cfg.Audit
	if audit == nil {
		audit = NewAuditLogger(home)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		store:        hs,
		ownsStore:    owns,
		settings:     settings,
		home:         home,
		toolLimiters: ratelimit.NewToolLimiters(),
		auditLogger:  audit,
		logger:       logger,
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

// openStore opens the configured SQLite history, or an in-memory store when
// history is disabled.
func openStore(settings *config.SeekwalkConfig) (store.HistoryStore, error) {
	if settings.Store.Disabled || settings.Store.Path == "" {
		return store.NewInMemoryStore(), nil
	}
	hs, err := store.NewSQLiteStore(settings.Store.Path)
	if err != nil {
		return nil, err
	}
	return hs, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("mcp server starting", "transport", "stdio")
	err := s.server.Run(ctx, &sdk.StdioTransport{})

	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close releases the store (when owned) and the audit log.
func (s *Server) Close() error {
	var firstErr error
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			firstErr = err
		}
		s.ownsStore = false
	}
	if err := s.auditLogger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
