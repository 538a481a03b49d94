package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType(" bad_posture ")
	require.NoError(t, err)
	assert.Equal(t, BadPosture, got)

	_, err = ParseEventType("SLOUCH")
	assert.Error(t, err)
}

func TestNewEvent_TruncatesToMillis(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 123456789, time.UTC)
	e := NewEvent(GoodPosture, at)
	assert.Equal(t, 123000000, e.Timestamp.Nanosecond())
	assert.NotEqual(t, e.ID, NewEvent(GoodPosture, at).ID)
}

func TestDailyStats_Score(t *testing.T) {
	tests := []struct {
		good, bad, want int
	}{
		{0, 0, 100},
		{3, 1, 75},
		{1, 2, 33},
		{0, 4, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DailyStats{Good: tt.good, Bad: tt.bad}.Score(), "good=%d bad=%d", tt.good, tt.bad)
	}
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = Open(context.Background(), DriverPostgres, "")
	assert.ErrorContains(t, err, "requires a dsn")

	_, err = Open(context.Background(), "sqlite", "")
	assert.ErrorContains(t, err, "unknown history driver")
}
