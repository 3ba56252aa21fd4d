package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve seekwalk tools over the Model Context Protocol (stdio)",
		Long: `Run an MCP server on stdin/stdout so AI agents can run batches and
inspect their densities.

Tools: seekwalk_simulate, seekwalk_density, seekwalk_cell, seekwalk_history,
seekwalk_export. Tool calls are audited to ~/.seekwalk/audit.jsonl.

Operational logs go to stderr; stdout carries only the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, events := newLoggers(cfg, cmd.ErrOrStderr())
			defer events.Close()
			defer setupTelemetry(cmd.Context(), cfg, logger)()

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "seekwalk",
				Version:  version,
				Settings: cfg,
				Home:     config.HomeDir(),
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("failed to start MCP server: %w", err)
			}
			return server.Run(cmd.Context())
		},
	}
}
