// Package ptyio exposes a pseudo-terminal whose master side is driven through
// ring buffers, so a slow or absent terminal client never blocks the caller.
//
// The slave device (e.g. /dev/pts/3) can be opened by any serial terminal
// program. Bytes written with Write are queued and delivered to the slave by a
// background loop; bytes typed on the slave are buffered and handed to the
// read callback.
//
//	p, err := ptyio.New(ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	p.SetReadCallback(func(data []byte) { ... })
//	fmt.Fprintf(p, "ready\r\n")
//
// The poll timeout bounds how long the loops wait for readiness before they
// look at the close signal again, so it is also the worst-case Close latency.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/straightup/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultBufferSize  = 4096
	DefaultPollTimeout = 50 * time.Millisecond

	chunkSize    = 1024
	closeTimeout = 2 * time.Second
)

// ReadCallback receives bytes typed on the slave side. It runs on a
// background goroutine and must not retain data.
type ReadCallback func(data []byte)

// Options configures New. Zero values select the defaults.
type Options struct {
	ReadCap     int
	WriteCap    int
	PollTimeout time.Duration
	Logger      *logrus.Logger
	// OnError is called at most once per loop when it stops on an I/O error.
	OnError func(err error)
}

// PTY is a non-blocking pseudo-terminal master.
type PTY interface {
	io.ReadWriteCloser
	// TTYName is the slave device path.
	TTYName() string
	// SetReadCallback registers cb for incoming data; nil unregisters it and
	// leaves data for Read.
	SetReadCallback(cb ReadCallback)
	Stats() Stats
}

// Stats are cumulative counters
type Stats struct {
	QueuedOut    int    `json:"queued_out"`
	QueuedIn     int    `json:"queued_in"`
	DroppedOut   uint64 `json:"dropped_out"`
	DroppedIn    uint64 `json:"dropped_in"`
	BytesWritten uint64 `json:"bytes_written"`
	BytesRead    uint64 `json:"bytes_read"`
}

type ringPTY struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	ttyName     string
	pollTimeout int

	out *ringbuffer.RingBuffer // to the slave
	in  *ringbuffer.RingBuffer // from the slave

	callback atomic.Pointer[ReadCallback]
	arrived  chan struct{}
	queued   chan struct{}

	onError   func(error)
	errOnce   sync.Once
	cancel    context.CancelFunc
	group     groutine.Group
	closed    atomic.Bool
	closeOnce sync.Once

	droppedOut   atomic.Uint64
	droppedIn    atomic.Uint64
	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64
}

// New opens a PTY pair, puts the slave in raw mode and starts the I/O loops.
func New(opts Options) (PTY, error) {
	master, slave, err := open()
	if err != nil {
		return nil, err
	}

	if opts.ReadCap <= 0 {
		opts.ReadCap = DefaultBufferSize
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultBufferSize
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:      logger,
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		out:         ringbuffer.New(opts.WriteCap),
		in:          ringbuffer.New(opts.ReadCap),
		arrived:     make(chan struct{}, 1),
		queued:      make(chan struct{}, 1),
		onError:     opts.OnError,
		cancel:      cancel,
	}

	p.group.Go(ctx, "pty-write-loop", p.writeLoop)
	p.group.Go(ctx, "pty-read-loop", p.readLoop)
	p.group.Go(ctx, "pty-dispatch", p.dispatch)

	logger.WithField("tty", p.ttyName).Debug("PTY opened")
	return p, nil
}

func open() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open pty (check permissions and available pty devices): %w", err)
	}

	fail := func(what string, cause error) (*os.File, *os.File, error) {
		err := fmt.Errorf("%s %s: %w", what, slave.Name(), cause)
		return nil, nil, errors.Join(err, master.Close(), slave.Close())
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("set raw mode on", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("set non-blocking mode for master of", err)
	}
	return master, slave, nil
}

// Write queues data for the slave and never blocks. When the queue is full
// only the bytes that fit are taken and the returned count says how many.
func (p *ringPTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := p.out.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	if n > 0 {
		select {
		case p.queued <- struct{}{}:
		default:
		}
	}
	if n < len(data) {
		dropped := len(data) - n
		p.droppedOut.Add(uint64(dropped))
		p.logger.WithFields(logrus.Fields{"dropped": dropped, "tty": p.ttyName}).Warn("PTY output queue full")
	}
	return n, nil
}

// Read drains bytes typed on the slave. It never blocks and returns
// syscall.EAGAIN when nothing is buffered.
func (p *ringPTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.in.Read(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

func (p *ringPTY) TTYName() string {
	return p.ttyName
}

func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if cb == nil {
		p.callback.Store(nil)
		return
	}
	p.callback.Store(&cb)
	p.signal()
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		QueuedOut:    p.out.Length(),
		QueuedIn:     p.in.Length(),
		DroppedOut:   p.droppedOut.Load(),
		DroppedIn:    p.droppedIn.Load(),
		BytesWritten: p.bytesWritten.Load(),
		BytesRead:    p.bytesRead.Load(),
	}
}

// Close stops the loops and closes both ends. Safe to call more than once.
func (p *ringPTY) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()

		done := make(chan struct{})
		groutine.Go(context.Background(), "pty-close-wait", func(context.Context) {
			p.group.Wait()
			close(done)
		})
		select {
		case <-done:
		case <-time.After(closeTimeout + time.Duration(p.pollTimeout)*time.Millisecond):
			p.logger.WithField("tty", p.ttyName).Warn("PTY loops did not stop in time")
		}

		err = errors.Join(p.master.Close(), p.slave.Close())
		p.logger.WithField("tty", p.ttyName).Debug("PTY closed")
	})
	return err
}

func (p *ringPTY) signal() {
	select {
	case p.arrived <- struct{}{}:
	default:
	}
}

func (p *ringPTY) fail(loop string, err error) {
	p.logger.WithError(err).WithField("loop", loop).Warn("PTY loop stopped")
	if p.onError != nil {
		p.errOnce.Do(func() { p.onError(fmt.Errorf("pty %s: %w", loop, err)) })
	}
}

// poll waits up to the poll timeout for events on the master. It reports
// false on timeout.
func (p *ringPTY) poll(events int16) bool {
	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: events}}
	n, err := unix.Poll(fds, p.pollTimeout)
	if err != nil && !errors.Is(err, syscall.EINTR) {
		p.logger.WithError(err).Debug("PTY poll failed")
	}
	return n > 0
}

func (p *ringPTY) writeLoop(ctx context.Context) {
	buf := make([]byte, chunkSize)
	for ctx.Err() == nil {
		if p.out.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case <-p.queued:
			}
			continue
		}
		n, _ := p.out.Read(buf)
		for off := 0; off < n && ctx.Err() == nil; {
			w, err := p.master.Write(buf[off:n])
			off += max(w, 0)
			p.bytesWritten.Add(uint64(max(w, 0)))
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				p.poll(unix.POLLOUT)
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.fail("write", err)
				return
			}
		}
	}
}

func (p *ringPTY) readLoop(ctx context.Context) {
	buf := make([]byte, chunkSize)
	for ctx.Err() == nil {
		if !p.poll(unix.POLLIN) {
			continue
		}
		n, err := p.master.Read(buf)
		if n > 0 {
			w, _ := p.in.Write(buf[:n])
			if w < n {
				p.droppedIn.Add(uint64(n - w))
				p.logger.WithField("dropped", n-w).Warn("PTY input queue full")
			}
			p.bytesRead.Add(uint64(w))
			p.signal()
		}
		switch {
		case err == nil:
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
			return
		default:
			p.fail("read", err)
			return
		}
	}
}

// dispatch hands buffered input to the callback. A panicking callback is
// unregistered so it cannot take the loop down repeatedly.
func (p *ringPTY) dispatch(ctx context.Context) {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.arrived:
		}
		for ctx.Err() == nil {
			cb := p.callback.Load()
			if cb == nil {
				break
			}
			n, _ := p.in.Read(buf)
			if n == 0 {
				break
			}
			p.deliver(*cb, buf[:n])
		}
	}
}

func (p *ringPTY) deliver(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.callback.Store(nil)
			p.fail("dispatch", fmt.Errorf("read callback panicked: %v", r))
		}
	}()
	cb(data)
}
