// Package shutdown runs the bounded two-phase stop: disconnect from chat, then stop
// everything else. Each phase has its own deadline and shutdown always completes.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default phase limits.
const (
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultStopTimeout       = 5 * time.Second
)

// TimeoutError reports a phase that did not finish within its limit.
type TimeoutError struct {
	Phase string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("shutdown: %s did not finish within %s", e.Phase, e.Limit)
}

// Coordinator sequences the shutdown phases.
type Coordinator struct {
	DisconnectTimeout time.Duration
	StopTimeout       time.Duration
}

// Shutdown runs disconnect and then stop, each bounded by its timeout. A phase that
// ignores its context is abandoned once the limit passes. Errors from both phases are
// joined; they are logged and never block the caller past the two limits.
func (c Coordinator) Shutdown(disconnect, stop func(context.Context) error) error {
	var errs []error
	if err := runPhase("disconnect", orDefault(c.DisconnectTimeout, DefaultDisconnectTimeout), disconnect); err != nil {
		errs = append(errs, err)
	}
	if err := runPhase("stop", orDefault(c.StopTimeout, DefaultStopTimeout), stop); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func runPhase(phase string, limit time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = errors.Join(&TimeoutError{Phase: phase, Limit: limit}, err)
			}
			slog.Warn("shutdown phase failed", slog.String("phase", phase), slog.Any("err", err), slog.String("component", "shutdown"))
			return err
		}
		slog.Info("shutdown phase complete", slog.String("phase", phase), slog.Duration("took", time.Since(start)), slog.String("component", "shutdown"))
		return nil
	case <-timer.C:
		err := &TimeoutError{Phase: phase, Limit: limit}
		slog.Warn("shutdown phase timed out", slog.String("phase", phase), slog.Any("err", err), slog.String("component", "shutdown"))
		return err
	}
}
