package ptyio

import (
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/srg/straightup/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPTY(t *testing.T, opts Options) (PTY, *os.File) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testutils.NewTestHelper(t).Logger
	}
	p, err := New(opts)
	if err != nil {
		t.Skipf("pseudo-terminals unavailable: %v", err)
	}
	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR|syscall.O_NOCTTY, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
		_ = slave.Close()
	})
	return p, slave
}

func TestWrite_ReachesSlave(t *testing.T) {
	p, slave := openPTY(t, Options{})

	n, err := p.Write([]byte("hello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.NoError(t, slave.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	got := ""
	for len(got) < 7 {
		n, err := slave.Read(buf)
		require.NoError(t, err)
		got += string(buf[:n])
	}
	assert.Equal(t, "hello\r\n", got)
	assert.Eventually(t, func() bool { return p.Stats().BytesWritten == 7 }, time.Second, 10*time.Millisecond)
}

func TestSlaveInput_ReachesCallback(t *testing.T) {
	p, slave := openPTY(t, Options{})

	var mu sync.Mutex
	var got []byte
	p.SetReadCallback(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, data...)
	})

	_, err := slave.Write([]byte("STATUS\r"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(got) == "STATUS\r"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRead_WithoutCallback(t *testing.T) {
	p, slave := openPTY(t, Options{})

	buf := make([]byte, 8)
	_, err := p.Read(buf)
	assert.ErrorIs(t, err, syscall.EAGAIN)

	_, err = slave.Write([]byte("abc"))
	require.NoError(t, err)

	var got string
	assert.Eventually(t, func() bool {
		n, _ := p.Read(buf)
		got += string(buf[:n])
		return got == "abc"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWrite_DropsWhatDoesNotFit(t *testing.T) {
	p, _ := openPTY(t, Options{WriteCap: 8, PollTimeout: 10 * time.Millisecond})
	// Nobody reads the slave, so once the kernel buffer is full the ring fills too.
	payload := make([]byte, 4096)
	assert.Eventually(t, func() bool {
		n, err := p.Write(payload)
		return err == nil && n < len(payload)
	}, 5*time.Second, time.Millisecond)
	assert.NotZero(t, p.Stats().DroppedOut)
}

func TestCallbackPanic_Unregisters(t *testing.T) {
	errs := make(chan error, 1)
	p, slave := openPTY(t, Options{OnError: func(err error) { errs <- err }})
	p.SetReadCallback(func([]byte) { panic("boom") })

	_, err := slave.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "read callback panicked: boom")
	case <-time.After(2 * time.Second):
		t.Fatal("OnError MUST be called when the callback panics")
	}
}

func TestClose(t *testing.T) {
	p, _ := openPTY(t, Options{})
	require.NoError(t, p.Close())
	assert.NoError(t, p.Close(), "Close MUST be idempotent")

	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
}
