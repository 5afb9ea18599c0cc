// Drydock runs AI coding agents in containers while keeping a reviewable
// git shadow of their work on the host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/drydock/config"
	"github.com/zhubert/drydock/logger"
)

var (
	cfgPath   string
	debugMode bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "drydock",
		Short: "Containerized agent sessions with host-side git shadows",
		Long: `Drydock attaches interactive terminal sessions to AI coding agents
running in containers, mirrors their working trees into host-side git
"shadow" repositories, and lets you review, commit, and push their work
without ever entering the container.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logPath, err := logger.DefaultLogPath()
			if err != nil {
				return err
			}
			if err := logger.Init(logPath); err != nil {
				return err
			}
			logger.SetDebug(debugMode)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: XDG config dir)")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCleanCmd())
	return root
}

// loadConfig loads the config file honoring the --config override.
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFrom(cfgPath)
	}
	return config.Load()
}
