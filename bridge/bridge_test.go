package bridge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/srg/straightup/internal/groutine"
	"github.com/srg/straightup/internal/history"
	"github.com/srg/straightup/internal/orchestrator"
	"github.com/srg/straightup/internal/protocol"
	"github.com/srg/straightup/internal/ringchan"
	"github.com/srg/straightup/internal/sessionlog"
	"github.com/srg/straightup/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeCommander struct {
	mu     sync.Mutex
	sent   []protocol.Command
	status orchestrator.Status
	hub    *ringchan.Hub[orchestrator.Status]
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		status: orchestrator.Status{
			Posture:   orchestrator.Good,
			Connected: true,
			Today:     history.DailyStats{Good: 3, Bad: 1},
			Score:     75,
		},
		hub: ringchan.NewHub[orchestrator.Status](4),
	}
}

func (f *fakeCommander) SendCommand(text string) (protocol.Command, error) {
	cmd, err := protocol.ParseCommand(text)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return cmd, nil
}

func (f *fakeCommander) Status() orchestrator.Status { return f.status }

func (f *fakeCommander) Subscribe() (<-chan orchestrator.Status, func()) {
	rc, cancel := f.hub.Subscribe()
	return rc.C(), cancel
}

func (f *fakeCommander) Sent() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Command(nil), f.sent...)
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "posture=good monitoring=off connected=yes today=3/1 score=75", FormatStatus(newFakeCommander().status))
	assert.Equal(t, "posture=waiting monitoring=off connected=no today=0/0 score=0", FormatStatus(orchestrator.Status{}))
}

func TestConsole_SendsCompletedLines(t *testing.T) {
	var out bytes.Buffer
	cmd := newFakeCommander()
	c := NewConsole(&out, cmd)

	c.Input([]byte("vibrate:5"))
	c.Input([]byte("x\x7f0\r"))
	c.Input([]byte("start_monitoring\r\n"))

	assert.Equal(t, []protocol.Command{"VIBRATE:50", protocol.StartMonitoring}, cmd.Sent())
	assert.Contains(t, out.String(), "vibrate:5x\b \b0\r\nsent VIBRATE:50\r\n> ")
	assert.Contains(t, out.String(), "sent START_MONITORING\r\n> ")
	assert.NotContains(t, out.String(), "> > ", "a \\r\\n pair MUST produce a single prompt")
}

func TestConsole_ReportsInvalidCommands(t *testing.T) {
	var out bytes.Buffer
	cmd := newFakeCommander()
	c := NewConsole(&out, cmd)

	c.Input([]byte("VIBRATE:101\r"))
	c.Input([]byte("dance\r"))

	assert.Empty(t, cmd.Sent())
	assert.Contains(t, out.String(), "error: vibration intensity 101 out of range 0-100\r\n")
	assert.Contains(t, out.String(), `error: unknown command "dance"`)
}

func TestConsole_Builtins(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, newFakeCommander())

	c.Input([]byte("STATUS\r"))
	assert.Contains(t, out.String(), "posture=good monitoring=off connected=yes today=3/1 score=75\r\n")

	out.Reset()
	c.Input([]byte("help\r"))
	help := strings.ReplaceAll(out.String(), "\r", "")
	testutils.NewTextAsserter(t).Assert(help, `
help
  help               list commands
  status             show posture status
  START_MONITORING   send to the wearable
  STOP_MONITORING    send to the wearable
  VIBRATE:<0-100>    send to the wearable
  SHUTDOWN           send to the wearable
  RESTART            send to the wearable
>`)
}

func TestConsole_ControlKeys(t *testing.T) {
	var out bytes.Buffer
	cmd := newFakeCommander()
	c := NewConsole(&out, cmd)

	c.Input([]byte("shutdown\x03"))
	c.Input([]byte("\x7f\x7f\r"))
	c.Input([]byte(strings.Repeat("a", 200)))

	assert.Empty(t, cmd.Sent(), "Ctrl+C MUST discard the pending line")
	assert.Contains(t, out.String(), "^C\r\n> ")
	assert.Equal(t, 128, strings.Count(out.String(), "a"), "input beyond the line limit MUST be ignored")
}

func TestConsole_NoticeRestoresPendingInput(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, newFakeCommander())

	c.Input([]byte("SHUT"))
	out.Reset()
	c.Notice("10:00:00.000 Connected")

	assert.Equal(t, "\r\x1b[K10:00:00.000 Connected\r\n> SHUT", out.String())
}

// BridgeTestSuite drives a real PTY from its slave side.
type BridgeTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	commander *fakeCommander
	log       *sessionlog.Log
	bridge    *Bridge
	slave     *os.File
	output    *syncBuffer
	cancel    context.CancelFunc
	group     groutine.Group
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (s *BridgeTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.commander = newFakeCommander()
	s.log = sessionlog.New(nil)

	b, err := Open(Options{
		Logger:         s.helper.Logger,
		TTYSymlinkPath: filepath.Join(s.T().TempDir(), "straightup"),
	}, s.commander)
	if err != nil {
		s.T().Skipf("pseudo-terminals unavailable: %v", err)
	}
	s.bridge = b

	slave, err := os.OpenFile(b.TTYName(), os.O_RDWR|syscall.O_NOCTTY, 0)
	s.Require().NoError(err)
	s.slave = slave
	s.output = &syncBuffer{}

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.group.Go(ctx, "test-slave-reader", func(ctx context.Context) {
		buf := make([]byte, 256)
		for {
			n, err := slave.Read(buf)
			if n > 0 {
				_, _ = s.output.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	})
	s.group.Go(ctx, "test-bridge-run", func(ctx context.Context) {
		b.Run(ctx, s.log)
	})
}

func (s *BridgeTestSuite) TearDownTest() {
	if s.bridge == nil {
		return
	}
	s.cancel()
	s.NoError(s.bridge.Close())
	_ = s.slave.Close()
	s.group.Wait()
	s.log.Close()
}

func (s *BridgeTestSuite) waitOutput(text string) {
	s.Require().Eventually(func() bool {
		return strings.Contains(s.output.String(), text)
	}, 2*time.Second, 10*time.Millisecond, "console output MUST contain %q, got %q", text, s.output.String())
}

func (s *BridgeTestSuite) TestSymlinkPointsAtSlave() {
	target, err := os.Readlink(s.bridge.TTYSymlink())
	s.Require().NoError(err)
	s.Equal(s.bridge.TTYName(), target)
}

func (s *BridgeTestSuite) TestCommandsRoundTrip() {
	s.waitOutput("Type help for commands.")

	_, err := s.slave.Write([]byte("vibrate:40\r"))
	s.Require().NoError(err)

	s.waitOutput("sent VIBRATE:40")
	s.Equal([]protocol.Command{"VIBRATE:40"}, s.commander.Sent())
}

func (s *BridgeTestSuite) TestStreamsLogAndStatus() {
	s.waitOutput("> ")

	s.log.Append("Connected")
	s.waitOutput("Connected\r\n")

	s.commander.hub.Publish(orchestrator.Status{Posture: orchestrator.Bad, Connected: true, Monitoring: true})
	s.waitOutput("posture=bad monitoring=on connected=yes")
}

func (s *BridgeTestSuite) TestCloseRemovesSymlink() {
	link := s.bridge.TTYSymlink()
	s.Require().NoError(s.bridge.Close())

	_, err := os.Lstat(link)
	s.True(os.IsNotExist(err), "symlink MUST be removed on close")
	_, err = s.bridge.pty.Write([]byte("late"))
	s.ErrorIs(err, os.ErrClosed)
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}

func TestOpen_RejectsUnwritableSymlink(t *testing.T) {
	_, err := Open(Options{TTYSymlinkPath: filepath.Join(t.TempDir(), "missing", "dir", "link")}, newFakeCommander())
	if err != nil && strings.Contains(err.Error(), "create console pty") {
		t.Skipf("pseudo-terminals unavailable: %v", err)
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create tty symlink")
}
