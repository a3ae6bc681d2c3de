package main

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/probekit/webprobe/internal/config"
)

//go:embed etc/webprobe.yaml
var embeddedConfig []byte

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	c, err := config.LoadFromBytes(embeddedConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load embedded config: %v\n", err)
		os.Exit(1)
	}

	if err := setupRootCmd(c).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
