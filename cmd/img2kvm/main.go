package main

import (
	"log/slog"
	"os"

	"github.com/img2kvm/img2kvm/cmd/img2kvm/commands"
)

func main() {
	// Structured trace goes to stderr so stdout only carries progress lines.
	// The level is raised or lowered once the config is loaded.
	commands.LogLevel.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: &commands.LogLevel,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
