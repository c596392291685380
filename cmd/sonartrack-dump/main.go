// Command sonartrack-dump replays a captured raw serial byte log through
// the reassemble -> noise -> extract -> track -> smooth pipeline offline,
// printing one JSON record per frame: its sequence number, detection count,
// primary-track range and smoothed range. Individual detections and tracks
// are not printed.
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
		Name:    version.Name() + "-dump",
		Usage:   "Replay a captured raw sonar byte log and print decoded frames",
		Version: version.Version() + " " + version.Commit(),
		Commands: []*cli.Command{
			replayCommand(),
		},
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}
