package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents a GATT resource missing from a discovered profile
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // parent first, e.g. [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// ServiceNotFound builds the error reported when discovery finishes without the target service.
func ServiceNotFound(serviceUUID string) error {
	return &NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}

// CharacteristicNotFound builds the error reported when the target service lacks the notify characteristic.
func CharacteristicNotFound(serviceUUID, charUUID string) error {
	return &NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
}

// ScanFailureReason classifies why the radio refused or aborted a scan
type ScanFailureReason string

const (
	ScanAlreadyStarted     ScanFailureReason = "already_started"
	ScanRegistrationFailed ScanFailureReason = "registration_failed"
	ScanUnsupported        ScanFailureReason = "unsupported"
	ScanInternalError      ScanFailureReason = "internal_error"
	ScanUnknown            ScanFailureReason = "unknown"
)

// ScanFailure is reported by backends through ScanHandler.OnScanFailed
type ScanFailure struct {
	Reason ScanFailureReason
	Code   int
	Err    error
}

func (e *ScanFailure) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("scan failed: %s", e.Reason)
	if e.Reason == ScanUnknown && e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ScanFailure) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare ScanFailure values by Reason
func (e *ScanFailure) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ScanFailure)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// ClassifyScanError maps a backend scan error to a ScanFailure.
func ClassifyScanError(err error) *ScanFailure {
	if err == nil {
		return nil
	}
	var sf *ScanFailure
	if errors.As(err, &sf) {
		return sf
	}

	msg := err.Error()
	reason := ScanUnknown
	switch {
	case containsIgnoreCase(msg, "already"):
		reason = ScanAlreadyStarted
	case containsIgnoreCase(msg, "register"):
		reason = ScanRegistrationFailed
	case containsIgnoreCase(msg, "not supported"), containsIgnoreCase(msg, "unsupported"):
		reason = ScanUnsupported
	case containsIgnoreCase(msg, "internal"), errors.Is(err, ErrBluetoothOff):
		reason = ScanInternalError
	}
	return &ScanFailure{Reason: reason, Err: err}
}

// WriteRejected reports a command write that was refused before reaching the radio
type WriteRejected struct {
	Reason string
}

func (e *WriteRejected) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("write rejected: %s", e.Reason)
}

// Is allows errors.Is to match any WriteRejected
func (e *WriteRejected) Is(target error) bool {
	_, ok := target.(*WriteRejected)
	return ok
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

var (
	ErrRadioUnavailable      = errors.New("radio unavailable")
	ErrBluetoothOff          = errors.New("bluetooth is turned off")
	ErrUnsupported           = errors.New("unsupported")
	ErrUnsupportedWrite      = errors.New("characteristic does not support write")
	ErrDescriptorWriteFailed = errors.New("descriptor write failed")
	ErrNoHandle              = &WriteRejected{Reason: "no notify handle"}
)

// NormalizeError maps common backend error strings to the sentinels above.
// The original error is kept in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"), containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "is bluetooth turned on"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "no such device"), containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "not supported"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
