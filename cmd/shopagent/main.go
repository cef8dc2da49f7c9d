// Command shopagent runs the e-commerce assistant workflows.
//
// Usage:
//
//	shopagent chat              interactive queries, confirming admin inserts
//	shopagent serve             MCP tool over streamable HTTP plus /metrics
//	shopagent runs              list persisted runs
//	shopagent resume <run-id>   answer a run that parked before a restart
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "shopagent",
		Short:         "E-commerce assistant built on stepflow workflows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")

	root.AddCommand(
		newChatCmd(&configPath),
		newServeCmd(&configPath),
		newRunsCmd(&configPath),
		newResumeCmd(&configPath),
	)
	return root
}
