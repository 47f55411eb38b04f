package main

import (
	"github.com/spf13/cobra"

	"github.com/troupe-sim/troupe/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run as an MCP server over stdio",
		Long: `Start troupe as an MCP (Model Context Protocol) server.

The server exposes session orchestration as tools: begin and end
sessions, load agents, run rounds, checkpoint and restore, and extract
results. Intended to be launched by an MCP client, not by hand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			controller, cleanup, err := buildController(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "troupe",
				Version: version,
			}, controller)
			if err != nil {
				return err
			}

			return server.Run(cmd.Context())
		},
	}
}
