// Command sonartrack is the long-running daemon: it reads the sonar serial
// link, correlates echoes with GPS fixes, persists throttled samples, and
// fans telemetry out to subscribers.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/fathomwave/sonartrack/version"
)

func main() {
	ctx := context.Background()

	appl := &cli.Command{
		Name:    version.Name(),
		Usage:   "Real-time acoustic-echo telemetry pipeline",
		Version: version.Version() + " " + version.Commit(),
		Commands: []*cli.Command{
			runCommand(),
		},
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}
