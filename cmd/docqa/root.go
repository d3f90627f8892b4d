package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docqa/backend/pkg/config"
	"github.com/docqa/backend/pkg/logger"
)

var (
	configPath string
	appConfig  *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Ask questions about your PDF, Excel and PowerPoint documents",
	Long: `docqa ingests documents, splits them into chunks, embeds every chunk and
answers questions from the chunks most similar to the question.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		appConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (default: ./config.yaml, ./config/config.yaml, /etc/docqa/config.yaml)")
}
