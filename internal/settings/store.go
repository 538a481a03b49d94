package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/protocol"
	"github.com/srg/straightup/internal/ringchan"
	"gopkg.in/yaml.v3"
)

const watchBuffer = 4

// Store is the settings repository.
type Store interface {
	Current() Settings
	// Watch returns a channel receiving every future change, and a cancel func.
	Watch() (<-chan Settings, func())
	SetVibrationIntensity(n int) error
	SetVibrateOnDevice(on bool) error
	SetNotificationsEnabled(on bool) error
	SetSoundEnabled(on bool) error
	SetPostureGoalHours(h int) error
	// Set assigns a value given as text, by key (see Keys).
	Set(key, value string) error
}

// FileStore persists settings to a YAML file, rewriting it atomically on every
// update. An empty path keeps the settings in memory only.
type FileStore struct {
	path   string
	logger *logrus.Logger

	mu      sync.Mutex
	current Settings
	hub     *ringchan.Hub[Settings]
}

// Open loads path, falling back to Default for a missing file or missing keys.
func Open(path string, logger *logrus.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &FileStore{
		path:    path,
		logger:  logger,
		current: Default(),
		hub:     ringchan.NewHub[Settings](watchBuffer),
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.WithField("path", path).Debug("Settings file not found, using defaults")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.current); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.current.VibrationIntensity = protocol.ClampIntensity(s.current.VibrationIntensity)
	return s, nil
}

func (s *FileStore) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *FileStore) Watch() (<-chan Settings, func()) {
	rc, cancel := s.hub.Subscribe()
	return rc.C(), cancel
}

// Close closes all watch channels.
func (s *FileStore) Close() {
	s.hub.Close()
}

func (s *FileStore) SetVibrationIntensity(n int) error {
	return s.update(func(st *Settings) error {
		st.VibrationIntensity = protocol.ClampIntensity(n)
		return nil
	})
}

func (s *FileStore) SetVibrateOnDevice(on bool) error {
	return s.update(func(st *Settings) error { st.VibrateOnDevice = on; return nil })
}

func (s *FileStore) SetNotificationsEnabled(on bool) error {
	return s.update(func(st *Settings) error { st.NotificationsEnabled = on; return nil })
}

func (s *FileStore) SetSoundEnabled(on bool) error {
	return s.update(func(st *Settings) error { st.SoundEnabled = on; return nil })
}

func (s *FileStore) SetPostureGoalHours(h int) error {
	return s.update(func(st *Settings) error {
		if h < 1 || h > MaxGoalHours {
			return fmt.Errorf("posture goal %d out of range 1-%d", h, MaxGoalHours)
		}
		st.PostureGoalHours = h
		return nil
	})
}

func (s *FileStore) Set(key, value string) error {
	return s.update(func(st *Settings) error { return st.Apply(key, value) })
}

// update applies fn to a copy, persists it, then publishes it. A failed write
// leaves the current settings untouched.
func (s *FileStore) update(fn func(*Settings) error) error {
	s.mu.Lock()
	next := s.current
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	if next == s.current {
		s.mu.Unlock()
		return nil
	}
	if err := s.persist(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.current = next
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"vibration_intensity":   next.VibrationIntensity,
		"vibrate_on_device":     next.VibrateOnDevice,
		"notifications_enabled": next.NotificationsEnabled,
		"sound_enabled":         next.SoundEnabled,
		"posture_goal_hours":    next.PostureGoalHours,
	}).Debug("Settings updated")
	s.hub.Publish(next)
	return nil
}

// persist writes a sibling temp file and renames it over path.
func (s *FileStore) persist(st Settings) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
