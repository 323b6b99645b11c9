package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bdobrica/Yukari/common/environment"
	"github.com/bdobrica/Yukari/common/version"
	"github.com/bdobrica/Yukari/internal/yukari/app"
	"github.com/bdobrica/Yukari/internal/yukari/llm"
	"github.com/bdobrica/Yukari/internal/yukari/session"
)

func main() {
	fmt.Printf("Yukari Conversation Server\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	yukari, err := app.New(loadConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Yukari: %v\n", err)
		os.Exit(1)
	}
	defer yukari.Stop()

	if err := yukari.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Yukari: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables.
func loadConfig() app.Config {
	return app.Config{
		HTTPAddr:     environment.StringOr("YUKARI_HTTP_ADDR", ":3000"),
		LockAddr:     environment.StringOr("YUKARI_LOCK_ADDR", "127.0.0.1:2999"),
		DatabasePath: environment.StringOr("YUKARI_DATABASE_PATH", "./yukari.db"),
		WorldsPath:   environment.StringOr("YUKARI_WORLDS_PATH", ""),
		LLM: llm.Config{
			APIKey:      environment.StringOr("YUKARI_LLM_API_KEY", ""),
			BaseURL:     environment.StringOr("YUKARI_LLM_ENDPOINT", ""),
			Model:       environment.StringOr("YUKARI_LLM_MODEL", ""),
			Temperature: 0.7,
		},
		RefreshTimeout:     environment.DurationOr("YUKARI_REFRESH_TIMEOUT", session.DefaultRefreshTimeout),
		HeartbeatTolerance: environment.DurationOr("YUKARI_HEARTBEAT_TOLERANCE", 15*time.Second),
	}
}
