package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/straightup/internal/orchestrator"
	"github.com/srg/straightup/internal/session"
)

// Command-level errors
var (
	ErrRadioDisabled = errors.New("bluetooth is turned off")
	ErrNoAdapter     = errors.New("no bluetooth adapter available")
	ErrSessionBusy   = errors.New("a connection is already in progress")
	ErrScanFailed    = errors.New("scan failed to start")
	// ErrNotFound is returned when the wearable did not show up before the deadline.
	ErrNotFound = errors.New("wearable not found")
)

// scanError converts a StartScan outcome into an error. Started and
// AlreadyRunning are not errors.
func scanError(status session.ScanStatus) error {
	switch status {
	case session.ScanStarted, session.ScanAlreadyRunning:
		return nil
	case session.ScanRadioDisabled:
		return ErrRadioDisabled
	case session.ScanNoAdapter:
		return ErrNoAdapter
	case session.ScanBusy:
		return ErrSessionBusy
	default:
		return ErrScanFailed
	}
}

// FormatUserError adds a hint for the errors a user can act on.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, ErrRadioDisabled):
		return fmt.Sprintf("%s (enable Bluetooth and retry)", err)
	case errors.Is(err, ErrNoAdapter):
		return fmt.Sprintf("%s (check the adapter and the process permissions)", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s (is the wearable powered on and in range?)", err)
	case errors.Is(err, orchestrator.ErrNotConnected):
		return fmt.Sprintf("%s (wait for the connection before sending commands)", err)
	}
	return err.Error()
}
