// Package main is the orchestrator binary: the HTTP API server, the worker and
// schedulers, and operator commands for migrations, runs and the dead-letter
// queue.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	json       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Role-based task orchestration engine",
		Long: `orchestrator accepts tasks over HTTP, webhooks and schedules, queues them,
and dispatches each one to the agent registered for its role.

Configuration is read from config.yaml (or --config) and ORCH_* environment
variables, for example ORCH_SERVER_PORT or ORCH_LLM_GEMINI_API_KEY.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a config file")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output JSON instead of tables")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(migrateCmd(opts))
	root.AddCommand(runsCmd(opts))
	root.AddCommand(dlqCmd(opts))
	root.AddCommand(apikeyCmd())
	root.AddCommand(tokenCmd(opts))
	return root
}
