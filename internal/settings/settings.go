// Package settings holds the user preferences that steer posture feedback.
package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/straightup/internal/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Settings are the user preferences. Zero values are not meaningful; use
// Default or a Store.
type Settings struct {
	VibrationIntensity   int  `yaml:"vibration_intensity" json:"vibration_intensity" default:"100"`
	VibrateOnDevice      bool `yaml:"vibrate_on_device" json:"vibrate_on_device" default:"true"`
	NotificationsEnabled bool `yaml:"notifications_enabled" json:"notifications_enabled" default:"true"`
	SoundEnabled         bool `yaml:"sound_enabled" json:"sound_enabled" default:"true"`
	PostureGoalHours     int  `yaml:"posture_goal_hours" json:"posture_goal_hours" default:"8"`
}

// MaxGoalHours bounds PostureGoalHours.
const MaxGoalHours = 24

// Default returns the factory settings.
func Default() Settings {
	var s Settings
	defaults.SetDefaults(&s)
	return s
}

// field binds a settings key to its accessors
type field struct {
	get func(Settings) string
	set func(*Settings, string) error
}

// fields lists the keys in display order.
var fields = newFieldTable()

func newFieldTable() *orderedmap.OrderedMap[string, field] {
	m := orderedmap.New[string, field]()
	m.Set("vibration_intensity", field{
		get: func(s Settings) string { return strconv.Itoa(s.VibrationIntensity) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v, 0, protocol.MaxIntensity)
			if err != nil {
				return err
			}
			s.VibrationIntensity = n
			return nil
		},
	})
	m.Set("vibrate_on_device", boolField(func(s *Settings) *bool { return &s.VibrateOnDevice }))
	m.Set("notifications_enabled", boolField(func(s *Settings) *bool { return &s.NotificationsEnabled }))
	m.Set("sound_enabled", boolField(func(s *Settings) *bool { return &s.SoundEnabled }))
	m.Set("posture_goal_hours", field{
		get: func(s Settings) string { return strconv.Itoa(s.PostureGoalHours) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v, 1, MaxGoalHours)
			if err != nil {
				return err
			}
			s.PostureGoalHours = n
			return nil
		},
	})
	return m
}

func boolField(ptr func(*Settings) *bool) field {
	return field{
		get: func(s Settings) string { return strconv.FormatBool(*ptr(&s)) },
		set: func(s *Settings, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("expected true or false, got %q", v)
			}
			*ptr(s) = b
			return nil
		},
	}
}

func parseInt(v string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("value %d out of range %d-%d", n, lo, hi)
	}
	return n, nil
}

// Keys returns the settable keys in display order.
func Keys() []string {
	keys := make([]string, 0, fields.Len())
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Get returns the value of key rendered as text.
func (s Settings) Get(key string) (string, error) {
	f, ok := fields.Get(key)
	if !ok {
		return "", unknownKey(key)
	}
	return f.get(s), nil
}

// Apply parses value and assigns it to key.
func (s *Settings) Apply(key, value string) error {
	f, ok := fields.Get(key)
	if !ok {
		return unknownKey(key)
	}
	if err := f.set(s, value); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown setting %q (expected one of %s)", key, strings.Join(Keys(), ", "))
}
