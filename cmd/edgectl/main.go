package main

import (
	"fmt"
	"os"

	"github.com/danmuck/edgemesh/internal/logging"
	"github.com/danmuck/edgemesh/internal/tier"
	"github.com/spf13/cobra"
)

func main() {
	logging.ConfigureRuntime()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "edgectl: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "edgectl",
		Short: "Run and poke a three tier edgemesh deployment",
		Long: `edgectl runs one tier of an edgemesh deployment (coordinator, server or node)
and talks to running tiers over the framed TCP protocol.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	for _, role := range tier.Roles() {
		root.AddCommand(runCmd(role))
	}
	root.AddCommand(
		sendCmd(),
		registerCmd(),
		peersCmd(),
		configCmd(),
	)
	return root
}
