package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/drydock/logger"
)

func newCleanCmd() *cobra.Command {
	var keepLogs bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove all shadow repositories and logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			shadowDir, err := cfg.ShadowDir()
			if err != nil {
				return err
			}
			if err := os.RemoveAll(shadowDir); err != nil {
				return fmt.Errorf("failed to remove shadow repositories: %w", err)
			}
			fmt.Printf("removed shadow repositories under %s\n", shadowDir)

			if !keepLogs {
				logger.Close()
				n, err := logger.ClearLogs()
				if err != nil {
					return fmt.Errorf("failed to clear logs: %w", err)
				}
				fmt.Printf("removed %d log file(s)\n", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepLogs, "keep-logs", false, "keep log files")
	return cmd
}
