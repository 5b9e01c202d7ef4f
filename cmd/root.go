package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scanocr/internal/config"
	"scanocr/internal/logger"
)

var version = "1.0.0"

// appConfig is set by Execute; commands fall back to loading it themselves.
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "scanocr",
	Short: "scanocr - multi-pass OCR for scanned English and Bangla documents",
	Long: `scanocr extracts text from scanned pages in English, Bangla or both.

Each page is normalized (crop, contrast, binarization, deskew), recognized
with an escalating plan of Tesseract passes and, for the worst pages only,
a cloud fallback engine, and finally cleaned with script-aware rules.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI with the configuration loaded by main.
func Execute(cfg *config.Config) {
	log := logger.WithComponent("cmd")
	appConfig = cfg

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	appConfig = cfg
	return cfg, nil
}
