package main

import (
	"log/slog"
	"os"

	"github.com/miradorstack/mirador-heal/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		slog.Error("reliability-engine failed", slog.Any("error", err))
		os.Exit(1)
	}
}
