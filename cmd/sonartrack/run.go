package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/farcloser/primordium/fault"
	"github.com/urfave/cli/v3"

	"github.com/fathomwave/sonartrack/internal/acoustic"
	"github.com/fathomwave/sonartrack/internal/persist"
	"github.com/fathomwave/sonartrack/internal/pipeline"
	"github.com/fathomwave/sonartrack/internal/serialio"
)

var errMissingDatabaseURL = errors.New("run: SONARTRACK_DATABASE_URL is required")

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the sonar/GPS fusion daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "serial-path", Value: "/dev/ttyUSB0", Usage: "Sonar serial device path"},
			&cli.IntFlag{Name: "baud-rate", Value: 250000, Usage: "Sonar serial link baud rate"},
			&cli.StringFlag{Name: "sonar-frequency", Value: "air", Usage: "Acoustic medium: air or water"},
			&cli.FloatFlag{Name: "value-threshold", Value: 60, Usage: "Static detection threshold fallback"},
			&cli.FloatFlag{Name: "snr-factor", Value: 3.0, Usage: "Dynamic threshold SNR multiplier"},
			&cli.IntFlag{Name: "consistency-samples", Value: 10, Usage: "Tracker consistency-buffer depth"},
			&cli.FloatFlag{Name: "position-tolerance", Value: 3, Usage: "Tracker base index tolerance"},
			&cli.IntFlag{Name: "min-signal-separation", Value: 20, Usage: "Minimum samples between detections"},
			&cli.IntFlag{Name: "consolidation-tolerance", Value: 5, Usage: "Peak consolidation window"},
			&cli.IntFlag{Name: "noise-floor-range", Value: 200, Usage: "Tail window for per-frame noise floor"},
			&cli.IntFlag{Name: "max-bz-search-samples", Value: 400, Usage: "Blind-zone search bound"},
			&cli.IntFlag{Name: "ignore-first-samples", Value: 0, Usage: "Blind-zone search start (0 = medium default)"},
			&cli.FloatFlag{Name: "ema-alpha", Value: 0.1, Usage: "Depth smoother EMA factor"},
			&cli.IntFlag{Name: "db-write-interval-ms", Value: 3000, Usage: "Throttled persistence interval"},
			&cli.StringFlag{
				Name:  "gps-command",
				Value: "gpspipe",
				Usage: "GPS line producer executable",
			},
			&cli.StringFlag{
				Name:  "database-url",
				Usage: "Postgres connection string",
				Sources: cli.EnvVars("SONARTRACK_DATABASE_URL"),
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	logger := slog.Default()

	medium, ok := acoustic.ParseMedium(cmd.String("sonar-frequency"))
	if !ok {
		return fmt.Errorf("run: unknown sonar-frequency %q", cmd.String("sonar-frequency"))
	}

	cfg := pipeline.DefaultConfig()
	cfg.Medium = medium
	cfg.ValueThreshold = cmd.Float("value-threshold")
	cfg.SNRFactor = cmd.Float("snr-factor")
	cfg.ConsistencySamples = int(cmd.Int("consistency-samples"))
	cfg.PositionTolerance = cmd.Float("position-tolerance")
	cfg.MinSignalSeparation = int(cmd.Int("min-signal-separation"))
	cfg.ConsolidationTolerance = int(cmd.Int("consolidation-tolerance"))
	cfg.NoiseFloorRange = int(cmd.Int("noise-floor-range"))
	cfg.MaxBZSearchSamples = int(cmd.Int("max-bz-search-samples"))

	if v := int(cmd.Int("ignore-first-samples")); v > 0 {
		cfg.IgnoreFirstSamples = v
	} else {
		cfg.IgnoreFirstSamples = medium.IgnoreFirstSamples()
	}

	cfg.EMAAlpha = cmd.Float("ema-alpha")
	cfg.DBWriteInterval = time.Duration(cmd.Int("db-write-interval-ms")) * time.Millisecond

	dsn := cmd.String("database-url")
	if dsn == "" {
		return fmt.Errorf("%w: %w", errMissingDatabaseURL, fault.ErrMissingRequirements)
	}

	store, err := persist.Open(dsn)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer store.Close()

	state := pipeline.New(cfg, store, logger)
	defer state.Telemetry.Close()

	port := serialio.New(cmd.String("serial-path"), int(cmd.Int("baud-rate")), 0, logger)

	// state is single-owner: serialize the serial and GPS producers' calls.
	var mu sync.Mutex

	go func() {
		err := port.Run(ctx, func(chunk []byte) {
			mu.Lock()
			defer mu.Unlock()
			state.FeedSerial(chunk)
		})
		if err != nil {
			logger.Error("serial port terminated", "error", err)
		}
	}()

	go func() {
		err := pipeline.RunGPSProcess(ctx, cmd.String("gps-command"), []string{"-w"}, 0, logger, func(line []byte) {
			mu.Lock()
			defer mu.Unlock()
			state.ProcessGPSLine(line)
		})
		if err != nil {
			logger.Error("gps producer terminated", "error", err)
		}
	}()

	<-ctx.Done()

	return nil
}
