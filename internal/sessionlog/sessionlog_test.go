package sessionlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestLog_NewestFirstAndBounded(t *testing.T) {
	l := New(nil, WithClock(fixedClock()))

	for i := 0; i < 50; i++ {
		l.Appendf("line %d", i)
		require.LessOrEqual(t, l.Len(), DefaultCapacity, "log MUST never exceed capacity")
	}

	snap := l.Snapshot()
	require.Len(t, snap, DefaultCapacity)
	assert.Equal(t, "line 49", snap[0].Message, "newest entry MUST be first")
	assert.Equal(t, "line 30", snap[len(snap)-1].Message, "oldest entries MUST be dropped")
	assert.True(t, snap[0].Timestamp.After(snap[1].Timestamp))
}

func TestLog_SnapshotIsACopy(t *testing.T) {
	l := New(nil)
	l.Append("first")
	snap := l.Snapshot()
	snap[0].Message = "mutated"
	assert.Equal(t, "first", l.Snapshot()[0].Message)
}

func TestLog_CustomCapacity(t *testing.T) {
	l := New(nil, WithCapacity(3), WithCapacity(-1))
	for i := 0; i < 5; i++ {
		l.Append(fmt.Sprint(i))
	}
	assert.Equal(t, 3, l.Capacity())
	assert.Equal(t, []string{"4", "3", "2"}, messages(l.Snapshot()))
}

func TestLog_CapacityNeverExceedsDefault(t *testing.T) {
	l := New(nil, WithCapacity(DefaultCapacity+10))
	for i := 0; i < 40; i++ {
		l.Appendf("line %d", i)
	}
	assert.Equal(t, DefaultCapacity, l.Len())
}

func TestLog_MirrorsToLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	l := New(logger)
	l.Append("Scan started")

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "Scan started", hook.LastEntry().Message)
	assert.Equal(t, "session", hook.LastEntry().Data["component"])
}

func TestLog_Subscribe(t *testing.T) {
	l := New(nil)
	ch, cancel := l.Subscribe()

	l.Append("connected")
	select {
	case e := <-ch:
		assert.Equal(t, "connected", e.Message)
	case <-time.After(time.Second):
		t.Fatal("subscriber MUST receive appended entries")
	}

	cancel()
	l.Append("after cancel")
	_, ok := <-ch
	assert.False(t, ok)
	l.Close()
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New(nil)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Appendf("g%d-%d", g, i)
				_ = l.Snapshot()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, DefaultCapacity, l.Len())
}

func messages(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}
