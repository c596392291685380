// Package serialio is the thin adapter between a physical serial port and
// the frame reassembler: it owns the read loop and hands off byte chunks,
// nothing more.
package serialio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/farcloser/primordium/fault"
	"github.com/pkg/term"
)

// ErrOpenFailed wraps a serial port initialization failure, the one
// unrecoverable startup condition in the error-handling table.
var ErrOpenFailed = errors.New("serialio: failed to open serial port")

// Port reads bytes from a physical serial link and forwards them to a sink.
// On read error or the port closing it reopens after a bounded delay rather
// than exiting, per spec §5.
type Port struct {
	path        string
	baud        int
	reopenDelay time.Duration
	logger      *slog.Logger
}

// New builds a Port. reopenDelay defaults to 5 seconds if zero, matching
// the GPS child-process respawn baseline.
func New(path string, baud int, reopenDelay time.Duration, logger *slog.Logger) *Port {
	if reopenDelay <= 0 {
		reopenDelay = 5 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Port{path: path, baud: baud, reopenDelay: reopenDelay, logger: logger}
}

// open opens and configures the physical port once.
func (p *Port) open() (*term.Term, error) {
	t, err := term.Open(p.path, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrOpenFailed, fault.ErrReadFailure, err)
	}

	if err := t.SetSpeed(p.baud); err != nil {
		t.Close()

		return nil, fmt.Errorf("%w: %w: %w", ErrOpenFailed, fault.ErrReadFailure, err)
	}

	return t, nil
}

// Run reads from the port until ctx is canceled, pushing each chunk read to
// sink. A read error or port close triggers a reopen after reopenDelay; the
// loop only exits on context cancellation or an initial open failure.
func (p *Port) Run(ctx context.Context, sink func([]byte)) error {
	handle, err := p.open()
	if err != nil {
		return err
	}

	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			handle.Close()

			return nil
		default:
		}

		n, err := handle.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink(chunk)
		}

		if err != nil {
			p.logger.Warn("serial port read error, reopening", "path", p.path, "error", err)
			handle.Close()

			handle, err = p.waitAndReopen(ctx)
			if err != nil {
				return nil
			}
		}
	}
}

func (p *Port) waitAndReopen(ctx context.Context) (*term.Term, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.reopenDelay):
	}

	for {
		handle, err := p.open()
		if err == nil {
			return handle, nil
		}

		p.logger.Warn("serial port reopen failed, retrying", "path", p.path, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.reopenDelay):
		}
	}
}
