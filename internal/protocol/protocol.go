// Package protocol is the wearable's text protocol: classification of inbound
// notifications and the outbound command vocabulary.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Category is the meaning of an inbound payload
type Category int

const (
	Unknown Category = iota
	Alert
	Ok
	Test
)

func (c Category) String() string {
	switch c {
	case Alert:
		return "alert"
	case Ok:
		return "ok"
	case Test:
		return "test"
	default:
		return "unknown"
	}
}

// Markers are checked in this order; the first hit wins.
var markers = []struct {
	marker   string
	category Category
}{
	{"ALERTA", Alert},
	{"OK", Ok},
	{"TEST", Test},
}

// Classify maps a trimmed payload to a category by case-insensitive substring match.
func Classify(payload string) Category {
	upper := strings.ToUpper(payload)
	for _, m := range markers {
		if strings.Contains(upper, m.marker) {
			return m.category
		}
	}
	return Unknown
}

// Command is an outbound text frame
type Command string

const (
	StartMonitoring Command = "START_MONITORING"
	StopMonitoring  Command = "STOP_MONITORING"
	Shutdown        Command = "SHUTDOWN"
	Restart         Command = "RESTART"

	vibratePrefix = "VIBRATE:"
)

// MaxIntensity is the upper bound of the vibration intensity scale.
const MaxIntensity = 100

// Vibrate builds VIBRATE:<n> with n clamped to 0..100.
func Vibrate(intensity int) Command {
	return Command(fmt.Sprintf("%s%d", vibratePrefix, ClampIntensity(intensity)))
}

// ClampIntensity bounds a vibration intensity to 0..100.
func ClampIntensity(intensity int) int {
	return max(0, min(MaxIntensity, intensity))
}

// ParseCommand validates free text entered by a user. Keywords are matched
// case-insensitively; VIBRATE requires an integer 0..100.
func ParseCommand(s string) (Command, error) {
	text := strings.ToUpper(strings.TrimSpace(s))
	switch Command(text) {
	case StartMonitoring, StopMonitoring, Shutdown, Restart:
		return Command(text), nil
	}

	if arg, ok := strings.CutPrefix(text, vibratePrefix); ok {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return "", fmt.Errorf("invalid vibration intensity %q: %w", arg, err)
		}
		if n < 0 || n > MaxIntensity {
			return "", fmt.Errorf("vibration intensity %d out of range 0-%d", n, MaxIntensity)
		}
		return Vibrate(n), nil
	}

	return "", fmt.Errorf("unknown command %q (expected START_MONITORING, STOP_MONITORING, SHUTDOWN, RESTART or VIBRATE:<0-100>)", s)
}
