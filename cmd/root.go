package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "flowgate",
	Short: "Pipeline orchestration decision engine",
	Long:  "Decides whether a data processor should run: checks circuit breakers, output gaps, upstream dependency health, and content change, then queues recovery work for what is missing.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
