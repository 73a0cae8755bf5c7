package enhance

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadyTimeout = 30 * time.Second
)

// InitializationError reports a component that did not become ready in time.
type InitializationError struct {
	Component string
	Timeout   time.Duration
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("%s not ready after %s: %v", e.Component, e.Timeout, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// WaitReady polls probe every interval until it reports true. Zero interval
// or timeout select the defaults.
func WaitReady(ctx context.Context, component string, probe func() bool, interval, timeout time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if probe() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return &InitializationError{Component: component, Timeout: timeout, Err: ctx.Err()}
		case <-ticker.C:
			if probe() {
				return nil
			}
		}
	}
}
