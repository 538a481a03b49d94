package session

import (
	"encoding/json"
	"time"

	"github.com/srg/straightup/internal/protocol"
)

// Phase is the lifecycle stage of the device session
type Phase int

const (
	Idle Phase = iota
	Scanning
	Connecting
	ServicesDiscovering
	Subscribing
	Ready
	Disconnecting
)

var phaseNames = map[Phase]string{
	Idle:                "idle",
	Scanning:            "scanning",
	Connecting:          "connecting",
	ServicesDiscovering: "services_discovering",
	Subscribing:         "subscribing",
	Ready:               "ready",
	Disconnecting:       "disconnecting",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// Connected reports whether a link is established (discovery or later).
func (p Phase) Connected() bool {
	return p == ServicesDiscovering || p == Subscribing || p == Ready
}

// State is a snapshot of the session. NotifyHandle is the UUID of the resolved
// notify characteristic and is set only in Subscribing and Ready.
type State struct {
	Phase                  Phase  `json:"phase"`
	DeviceAddress          string `json:"device_address,omitempty"`
	DeviceName             string `json:"device_name,omitempty"`
	NotifyHandle           string `json:"notify_handle,omitempty"`
	NotificationsConfirmed bool   `json:"notifications_confirmed"`
	LatestPayload          string `json:"latest_payload,omitempty"`
	Scanning               bool   `json:"scanning"`
}

// ScanStatus is the outcome of StartScan
type ScanStatus int

const (
	ScanStarted ScanStatus = iota
	ScanAlreadyRunning
	ScanRadioDisabled
	ScanNoAdapter
	// ScanBusy is returned while a connection is in progress or established.
	ScanBusy
	// ScanFailed is returned when the radio refused to start scanning.
	ScanFailed
)

func (s ScanStatus) String() string {
	switch s {
	case ScanStarted:
		return "started"
	case ScanAlreadyRunning:
		return "already_running"
	case ScanRadioDisabled:
		return "radio_disabled"
	case ScanNoAdapter:
		return "no_adapter"
	case ScanBusy:
		return "busy"
	default:
		return "failed"
	}
}

func (s ScanStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Payload is one decoded notification from the wearable
type Payload struct {
	Text       string            `json:"text"`
	Category   protocol.Category `json:"-"`
	ReceivedAt time.Time         `json:"received_at"`
}
