package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	assert.Equal(t, Settings{
		VibrationIntensity:   100,
		VibrateOnDevice:      true,
		NotificationsEnabled: true,
		SoundEnabled:         true,
		PostureGoalHours:     8,
	}, Default())
}

func TestKeys_DisplayOrder(t *testing.T) {
	assert.Equal(t, []string{
		"vibration_intensity",
		"vibrate_on_device",
		"notifications_enabled",
		"sound_enabled",
		"posture_goal_hours",
	}, Keys())
}

func TestSettings_Apply(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    string
		check      func(t *testing.T, s Settings)
	}{
		{key: "vibration_intensity", value: " 40 ", check: func(t *testing.T, s Settings) { assert.Equal(t, 40, s.VibrationIntensity) }},
		{key: "vibration_intensity", value: "101", wantErr: "out of range 0-100"},
		{key: "vibration_intensity", value: "loud", wantErr: "expected an integer"},
		{key: "vibrate_on_device", value: "false", check: func(t *testing.T, s Settings) { assert.False(t, s.VibrateOnDevice) }},
		{key: "sound_enabled", value: "maybe", wantErr: "expected true or false"},
		{key: "posture_goal_hours", value: "0", wantErr: "out of range 1-24"},
		{key: "theme", value: "dark", wantErr: "unknown setting"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			s := Default()
			err := s.Apply(tt.key, tt.value)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Equal(t, Default(), s, "a rejected value MUST leave settings unchanged")
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
			got, err := s.Get(tt.key)
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.value), got)
		})
	}
}

func TestFileStore_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	store, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), store.Current(), "missing file MUST yield defaults")

	require.NoError(t, store.SetVibrationIntensity(140))
	require.NoError(t, store.SetVibrateOnDevice(false))
	require.NoError(t, store.Set("posture_goal_hours", "6"))

	reloaded, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, Settings{
		VibrationIntensity:   100,
		VibrateOnDevice:      false,
		NotificationsEnabled: true,
		SoundEnabled:         true,
		PostureGoalHours:     6,
	}, reloaded.Current())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files MUST not be left behind")
}

func TestFileStore_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sound_enabled: false\n"), 0o644))

	store, err := Open(path, nil)
	require.NoError(t, err)
	want := Default()
	want.SoundEnabled = false
	assert.Equal(t, want, store.Current())
}

func TestFileStore_RejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vibration_intensity: [\n"), 0o644))

	_, err := Open(path, nil)
	assert.ErrorContains(t, err, "parse settings")
}

func TestFileStore_Watch(t *testing.T) {
	store, err := Open("", nil)
	require.NoError(t, err)
	defer store.Close()

	ch, cancel := store.Watch()
	defer cancel()

	require.NoError(t, store.SetNotificationsEnabled(false))
	require.NoError(t, store.SetNotificationsEnabled(false)) // unchanged, not published
	require.Error(t, store.SetPostureGoalHours(30))

	select {
	case got := <-ch:
		assert.False(t, got.NotificationsEnabled)
	case <-time.After(time.Second):
		t.Fatal("no settings change delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected second change: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}
