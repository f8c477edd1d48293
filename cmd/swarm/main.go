package main

import (
	"os"

	"btc-agent-swarm/internal/logger"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	err := newRootCmd().Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
