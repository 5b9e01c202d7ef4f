package main

import (
	"log"

	"github.com/joho/godotenv"

	"scanocr/cmd"
	"scanocr/internal/config"
	"scanocr/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Warning: Could not load configuration: %v", err)
		// Use default logger config if main config fails
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	l := logger.WithComponent("main")
	l.Debug().Msg("Starting scanocr")

	// Commands that need configuration load it again and report the error.
	cmd.Execute(cfg)
}
