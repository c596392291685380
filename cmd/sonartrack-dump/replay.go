package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/fathomwave/sonartrack/internal/acoustic"
	"github.com/fathomwave/sonartrack/internal/pipeline"
)

var errInvalidArgCount = errors.New("expected exactly one argument: captured byte log path or \"-\" for stdin")

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Decode a raw byte capture and print one JSON record per frame",
		ArgsUsage: "<file | ->",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sonar-frequency", Value: "air", Usage: "Acoustic medium: air or water"},
			&cli.FloatFlag{Name: "value-threshold", Value: 60, Usage: "Static detection threshold fallback"},
			&cli.FloatFlag{Name: "snr-factor", Value: 3.0, Usage: "Dynamic threshold SNR multiplier"},
		},
		Action: replayAction,
	}
}

type frameRecord struct {
	Sequence   uint64  `json:"sequence"`
	Detections int     `json:"detections"`
	PrimaryCM  float64 `json:"primary_range_cm,omitempty"`
	SmoothedCM float64 `json:"smoothed_range_cm"`
}

func replayAction(_ context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return fmt.Errorf("%w: got %d", errInvalidArgCount, cmd.NArg())
	}

	medium, ok := acoustic.ParseMedium(cmd.String("sonar-frequency"))
	if !ok {
		return fmt.Errorf("replay: unknown sonar-frequency %q", cmd.String("sonar-frequency"))
	}

	r, cleanup, err := openInput(cmd.Args().First())
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := pipeline.DefaultConfig()
	cfg.Medium = medium
	cfg.ValueThreshold = cmd.Float("value-threshold")
	cfg.SNRFactor = cmd.Float("snr-factor")
	cfg.IgnoreFirstSamples = medium.IgnoreFirstSamples()

	state := pipeline.New(cfg, nil, nil)
	defer state.Telemetry.Close()

	enc := json.NewEncoder(os.Stdout)
	buf := make([]byte, 64*1024)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			frames, err := state.Reassembler.Feed(buf[:n])
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}

			for _, f := range frames {
				result := state.ProcessFrame(f)
				if err := enc.Encode(toRecord(f.Sequence, result, medium)); err != nil {
					return fmt.Errorf("replay: %w", err)
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return fmt.Errorf("replay: %w", readErr)
		}
	}

	return nil
}

func toRecord(seq uint64, result pipeline.FrameResult, medium acoustic.Medium) frameRecord {
	rec := frameRecord{
		Sequence:   seq,
		Detections: len(result.Detections),
		SmoothedCM: result.Smoothed.RangeCM,
	}

	if result.HasPrimary {
		rec.PrimaryCM = acoustic.RangeCM(medium, int(result.Primary.Median()))
	}

	return rec
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool opens a user-specified capture file
	if err != nil {
		return nil, func() {}, fmt.Errorf("replay: cannot open %s: %w", path, err)
	}

	return f, func() { f.Close() }, nil
}
