// Package bridge exposes the wearable as a serial-style console on a
// pseudo-terminal. Lines typed on the terminal are sent as commands, and the
// session log and posture status are streamed back as they change.
package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/orchestrator"
	"github.com/srg/straightup/internal/protocol"
	"github.com/srg/straightup/internal/ptyio"
	"github.com/srg/straightup/internal/sessionlog"
)

const (
	// DefaultPtyStdoutBufferSize is the ring capacity, in bytes, for console output.
	DefaultPtyStdoutBufferSize = 4096
	// DefaultPtyStdinBufferSize is the ring capacity, in bytes, for typed input.
	DefaultPtyStdinBufferSize = 1024

	prompt = "> "
)

// Commander is what the console drives. *orchestrator.Orchestrator implements it.
type Commander interface {
	SendCommand(text string) (protocol.Command, error)
	Status() orchestrator.Status
	Subscribe() (<-chan orchestrator.Status, func())
}

// Options configures Open
type Options struct {
	Logger              *logrus.Logger
	PtyStdinBufferSize  int    // 0 = DefaultPtyStdinBufferSize
	PtyStdoutBufferSize int    // 0 = DefaultPtyStdoutBufferSize
	TTYSymlinkPath      string // optional stable path for the slave, e.g. /tmp/straightup
}

// Bridge is a running console
type Bridge struct {
	logger    *logrus.Logger
	pty       ptyio.PTY
	symlink   string
	commander Commander
	console   *Console
}

// Open creates the PTY, the optional symlink, and starts accepting commands.
func Open(opts Options, commander Commander) (*Bridge, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PtyStdinBufferSize == 0 {
		opts.PtyStdinBufferSize = DefaultPtyStdinBufferSize
	}
	if opts.PtyStdoutBufferSize == 0 {
		opts.PtyStdoutBufferSize = DefaultPtyStdoutBufferSize
	}

	p, err := ptyio.New(ptyio.Options{
		ReadCap:  opts.PtyStdinBufferSize,
		WriteCap: opts.PtyStdoutBufferSize,
		Logger:   logger,
		OnError: func(err error) {
			logger.WithError(err).Error("Console PTY failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create console pty: %w", err)
	}
	logger.WithField("tty", p.TTYName()).Info("Created PTY device")

	b := &Bridge{
		logger:    logger,
		pty:       p,
		commander: commander,
		console:   NewConsole(p, commander),
	}

	if opts.TTYSymlinkPath != "" {
		// A stale link from a previous run would make Symlink fail.
		if target, err := os.Readlink(opts.TTYSymlinkPath); err == nil {
			logger.WithField("target", target).Debug("Replacing stale tty symlink")
			_ = os.Remove(opts.TTYSymlinkPath)
		}
		if err := os.Symlink(p.TTYName(), opts.TTYSymlinkPath); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, p.TTYName(), err)
		}
		b.symlink = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": b.symlink,
			"target":     p.TTYName(),
		}).Info("Created PTY symlink")
	}

	p.SetReadCallback(b.console.Input)
	b.console.Banner()
	return b, nil
}

// TTYName is the slave device path.
func (b *Bridge) TTYName() string {
	return b.pty.TTYName()
}

// TTYSymlink is the symlink path, empty when none was requested.
func (b *Bridge) TTYSymlink() string {
	return b.symlink
}

// Run streams log entries and status changes to the console until ctx is
// done or the log is closed.
func (b *Bridge) Run(ctx context.Context, log *sessionlog.Log) {
	entries, unsubscribe := log.Subscribe()
	defer unsubscribe()
	statuses, cancel := b.commander.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			b.console.Notice(e.String())
		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			b.console.Notice(FormatStatus(st))
		}
	}
}

// Close removes the symlink before closing the PTY.
func (b *Bridge) Close() error {
	if b.symlink != "" {
		if err := os.Remove(b.symlink); err != nil {
			b.logger.WithError(err).WithField("ttySymlink", b.symlink).Warn("Failed to remove tty symlink")
		} else {
			b.logger.WithField("ttySymlink", b.symlink).Debug("Removed tty symlink")
		}
	}
	return b.pty.Close()
}

// FormatStatus renders a status as one console line.
func FormatStatus(st orchestrator.Status) string {
	return fmt.Sprintf("posture=%s monitoring=%s connected=%s today=%d/%d score=%d",
		st.Posture, onOff(st.Monitoring), yesNo(st.Connected), st.Today.Good, st.Today.Bad, st.Score)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Console is the line discipline of the bridge: it echoes typed input,
// handles backspace, and runs each completed line.
type Console struct {
	mu        sync.Mutex
	out       io.Writer
	commander Commander
	line      []byte
	maxLine   int
}

func NewConsole(out io.Writer, commander Commander) *Console {
	return &Console{out: out, commander: commander, maxLine: 128}
}

var builtins = map[string]string{
	"help":   "list commands",
	"status": "show posture status",
}

// Banner prints the greeting and the first prompt.
func (c *Console) Banner() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write("StraightUp console. Type help for commands.\r\n" + prompt)
}

// Input consumes raw bytes typed on the terminal.
func (c *Console) Input(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range data {
		switch {
		case ch == '\r' || ch == '\n':
			if ch == '\n' && len(c.line) == 0 {
				continue // \r\n from terminals that send both
			}
			line := strings.TrimSpace(string(c.line))
			c.line = c.line[:0]
			c.write("\r\n")
			if line != "" {
				c.write(c.run(line))
			}
			c.write(prompt)
		case ch == 0x7f || ch == 0x08:
			if len(c.line) > 0 {
				c.line = c.line[:len(c.line)-1]
				c.write("\b \b")
			}
		case ch == 0x03: // Ctrl+C discards the line
			c.line = c.line[:0]
			c.write("^C\r\n" + prompt)
		case ch >= 0x20 && ch < 0x7f:
			if len(c.line) < c.maxLine {
				c.line = append(c.line, ch)
				c.write(string(ch))
			}
		}
	}
}

// Notice prints an asynchronous line above the prompt, restoring any
// partially typed input.
func (c *Console) Notice(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write("\r\x1b[K" + text + "\r\n" + prompt + string(c.line))
}

func (c *Console) run(line string) string {
	switch strings.ToLower(line) {
	case "help":
		return c.help()
	case "status":
		return FormatStatus(c.commander.Status()) + "\r\n"
	}
	cmd, err := c.commander.SendCommand(line)
	if err != nil {
		return "error: " + err.Error() + "\r\n"
	}
	return "sent " + string(cmd) + "\r\n"
}

func (c *Console) help() string {
	var sb strings.Builder
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "  %-18s %s\r\n", name, builtins[name])
	}
	for _, cmd := range []string{
		string(protocol.StartMonitoring),
		string(protocol.StopMonitoring),
		"VIBRATE:<0-100>",
		string(protocol.Shutdown),
		string(protocol.Restart),
	} {
		fmt.Fprintf(&sb, "  %-18s send to the wearable\r\n", cmd)
	}
	return sb.String()
}

func (c *Console) write(s string) {
	_, _ = io.WriteString(c.out, s)
}
