package modem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/fieldctl/at"
	"i4.energy/across/fieldctl/tick"
	"i4.energy/across/fieldctl/watchdog"
)

// Modem represents a GSM cellular modem that communicates via AT commands.
// All transport reads happen in Loop, which owns the reply framer and the
// command watchdog. Commands are handed to Loop over a channel, one at a
// time.
type Modem struct {
	// transport provides the physical connection to the modem
	transport Transport
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger

	// closed indicates if the modem has been shut down
	closed atomic.Bool
	// loopRunning indicates if the Loop is currently running
	loopRunning atomic.Bool
	// sleeping is set while the controller waits for work. It only affects
	// reporting; an idle modem listens for notifications either way.
	sleeping atomic.Bool

	// notifications receives new-message notifications from the Loop
	notifications chan Notification
	// commands carries command requests to the Loop. Unbuffered: the Loop
	// only receives while no command is outstanding.
	commands chan *commandRequest

	// exclusive serializes callers so one command is outstanding at a time
	exclusive sync.Mutex
	// writeMu serializes writes between the Loop and Transmit
	writeMu sync.Mutex

	// watchdogTicks counts watchdog periods since the Loop started
	watchdogTicks tick.Counter
	// forced counts replies completed by the watchdog
	forced atomic.Uint64

	// loopCancel stops the main event loop. Its cause is returned to
	// callers once the Loop is gone.
	loopCancel context.CancelCauseFunc
	loopCtx    context.Context
}

// Command is one solicited AT command.
type Command struct {
	// Text is written to the modem followed by CRLF, unless Raw is set.
	Text string
	// Raw writes Text as is.
	Raw bool
	// Window is the watchdog budget in ticks.
	Window int
	// Retry re-transmits Text every retry interval until the reply
	// completes, naturally or by force.
	Retry bool
	// CaptureAll captures the reply from its first byte instead of its
	// first '+'. Needed for commands answered by a bare OK.
	CaptureAll bool
	// SensorCheck marks the wait as failure-sensitive: a forced
	// completion sets Reply.SensorFailed.
	SensorCheck bool
}

// Reply is the captured answer to a Command.
type Reply struct {
	// Buffer holds the captured bytes, from the first '+' (or the first
	// byte for CaptureAll) through "OK". A forced reply holds whatever
	// arrived before the window lapsed.
	Buffer []byte
	// TimedOut is set when the watchdog forced completion.
	TimedOut bool
	// SensorFailed is set when a SensorCheck command timed out.
	SensorFailed bool
}

// ByteAt returns the byte at offset i of the reply, or 0 past its end.
func (r Reply) ByteAt(i int) byte {
	if i < 0 || i >= len(r.Buffer) {
		return 0
	}
	return r.Buffer[i]
}

// Contains reports whether the reply contains s.
func (r Reply) Contains(s string) bool {
	return bytes.Contains(r.Buffer, []byte(s))
}

// Lines splits the reply into data lines.
func (r Reply) Lines() []string {
	return at.Lines(r.Buffer)
}

// Notification announces a message stored on the SIM.
type Notification struct {
	// Index is the raw storage index byte as sent by the modem.
	Index byte
}

// commandRequest represents an AT command request to be executed by the Loop.
type commandRequest struct {
	cmd  Command
	wire []byte
	// respChan receives the reply from the Loop. Buffered so the Loop never
	// blocks on an abandoned request.
	respChan chan commandResponse
}

// commandResponse contains the result of a command execution.
type commandResponse struct {
	reply Reply
	err   error
}

// New creates a new Modem instance with the given configuration and opens
// its transport. The modem is not configured; call Loop, then Configure.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport:     transport,
		config:        config,
		logger:        config.logger,
		notifications: make(chan Notification, config.notifyBuffer),
		commands:      make(chan *commandRequest),
	}
	m.loopCtx, m.loopCancel = context.WithCancelCause(ctx)
	return m, nil
}

// Loop is the main event loop that handles all transport I/O operations.
// It must be called exactly once after New and before any command.
//
// Received bytes are fed to the framer one at a time. While no command is
// outstanding the framer listens for new-message notifications, which are
// forwarded to Notifications. While a command is outstanding its reply is
// captured until "OK" or until the watchdog window lapses.
//
// Loop runs until the provided context is cancelled, the modem is closed, or
// the transport fails. Commands issued after Loop returned fail with
// ErrLoopStopped.
func (m *Modem) Loop(ctx context.Context) (err error) {
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)
	defer func() {
		m.loopCancel(fmt.Errorf("%w: %w", ErrLoopStopped, err))
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.loopCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	chunks := make(chan []byte, 16)
	// readErr is written before chunks is closed and read after.
	var readErr error

	// Start goroutine to read from transport
	go func() {
		defer close(chunks)
		buf := make([]byte, 64)
		for {
			n, err := m.transport.Read(buf)
			if n > 0 {
				select {
				case chunks <- bytes.Clone(buf[:n]):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr = err
				return
			}
		}
	}()

	watchdogSrc := m.config.watchdogSource
	if watchdogSrc == nil {
		watchdogSrc = tick.Every(m.config.watchdogTick)
	}
	defer watchdogSrc.Stop()

	var (
		framer  = at.NewFramer()
		guard   watchdog.Guard
		current *commandRequest
		retry   *time.Ticker
		retryC  <-chan time.Time
	)

	finish := func(resp commandResponse) {
		if current == nil {
			return
		}
		current.respChan <- resp
		current = nil
		if retry != nil {
			retry.Stop()
			retry, retryC = nil, nil
		}
		framer.Listen()
	}

	for {
		// Only accept a new command when none is outstanding.
		commands := m.commands
		if current != nil {
			commands = nil
		}

		select {
		case <-ctx.Done():
			finish(commandResponse{err: ctx.Err()})
			return ctx.Err()

		case req := <-commands:
			current = req
			framer.Begin(req.cmd.CaptureAll)
			guard.Arm(req.cmd.Window, req.cmd.SensorCheck)
			if err := m.write(req.wire); err != nil {
				guard.Release()
				finish(commandResponse{err: fmt.Errorf("write command %q: %w", req.cmd.Text, err)})
				continue
			}
			if req.cmd.Retry {
				retry = time.NewTicker(m.config.retryInterval)
				retryC = retry.C
			}

		case <-retryC:
			if current != nil {
				if err := m.write(current.wire); err != nil {
					guard.Release()
					finish(commandResponse{err: fmt.Errorf("write command %q: %w", current.cmd.Text, err)})
				}
			}

		case chunk, ok := <-chunks:
			if !ok {
				if ctx.Err() != nil {
					finish(commandResponse{err: ctx.Err()})
					return ctx.Err()
				}
				err := readErr
				if err == nil {
					err = io.EOF
				}
				finish(commandResponse{err: fmt.Errorf("read error: %w", err)})
				if err == io.EOF {
					return io.EOF
				}
				return fmt.Errorf("read error: %w", err)
			}
			for _, b := range chunk {
				if m.config.indicator != nil {
					m.config.indicator.Toggle()
				}
				switch framer.Feed(b) {
				case at.EventComplete:
					guard.Release()
					finish(commandResponse{reply: Reply{Buffer: bytes.Clone(framer.Bytes())}})
				case at.EventNewMessage:
					m.dispatch(Notification{Index: framer.MessageIndex()})
				}
			}

		case <-watchdogSrc.C():
			m.watchdogTicks.Inc()
			if guard.Tick(framer.Complete()) == watchdog.Forced && current != nil {
				framer.Abort()
				m.forced.Add(1)
				cmd := current.cmd
				m.logger.Debug("Command forced to completion", "command", cmd.Text, "window", cmd.Window, "overrun", framer.Overrun())
				finish(commandResponse{reply: Reply{
					Buffer:       bytes.Clone(framer.Bytes()),
					TimedOut:     true,
					SensorFailed: cmd.SensorCheck,
				}})
			}
		}
	}
}

// dispatch forwards a notification without blocking the Loop. When the
// channel is full the notification is dropped; the stored message is still
// on the SIM.
func (m *Modem) dispatch(n Notification) {
	select {
	case m.notifications <- n:
	default:
		m.logger.Warn("Notification dropped", "index", string(n.Index))
	}
}

func (m *Modem) write(p []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_, err := m.transport.Write(p)
	return err
}

// Notifications returns a read-only channel that receives new-message
// notifications. The channel is buffered, but drops notifications if not
// consumed fast enough.
func (m *Modem) Notifications() <-chan Notification {
	return m.notifications
}

// SetSleeping records whether the controller is waiting for work.
func (m *Modem) SetSleeping(sleeping bool) {
	m.sleeping.Store(sleeping)
}

// Sleeping reports the value set by SetSleeping.
func (m *Modem) Sleeping() bool {
	return m.sleeping.Load()
}

// Stats reports watchdog activity.
type Stats struct {
	WatchdogTicks uint64
	ForcedReplies uint64
}

// Stats returns counters maintained by the Loop.
func (m *Modem) Stats() Stats {
	return Stats{
		WatchdogTicks: m.watchdogTicks.Load(),
		ForcedReplies: m.forced.Load(),
	}
}

// SendAndAwait sends cmd and blocks until its reply completes, either on
// "OK" or by the watchdog forcing it after cmd.Window ticks. A forced reply
// is returned with TimedOut set and a nil error; callers decide by content.
//
// The error is non-nil only when the transport fails, the modem is closed,
// or ctx is done.
func (m *Modem) SendAndAwait(ctx context.Context, cmd Command) (Reply, error) {
	m.exclusive.Lock()
	defer m.exclusive.Unlock()
	return m.await(ctx, cmd)
}

// await is SendAndAwait for callers already holding exclusive.
func (m *Modem) await(ctx context.Context, cmd Command) (Reply, error) {
	if m.closed.Load() {
		return Reply{}, ErrAlreadyClosed
	}
	if m.transport == nil {
		return Reply{}, ErrNotInitialized
	}
	m.sleeping.Store(false)

	wire := cmd.Text
	if !cmd.Raw {
		wire += at.CRLF
	}
	req := &commandRequest{
		cmd:      cmd,
		wire:     []byte(wire),
		respChan: make(chan commandResponse, 1),
	}

	select {
	case m.commands <- req:
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("command cancelled before sending: %w", ctx.Err())
	case <-m.loopCtx.Done():
		return Reply{}, context.Cause(m.loopCtx)
	}

	select {
	case resp := <-req.respChan:
		return resp.reply, resp.err
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("command %q: %w", cmd.Text, ctx.Err())
	}
}

// Transmit writes p one byte at a time, pausing between bytes. Nothing is
// awaited.
func (m *Modem) Transmit(ctx context.Context, p []byte) error {
	m.exclusive.Lock()
	defer m.exclusive.Unlock()
	return m.transmit(ctx, p)
}

func (m *Modem) transmit(ctx context.Context, p []byte) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	for i := range p {
		if err := m.write(p[i : i+1]); err != nil {
			return fmt.Errorf("transmit: %w", err)
		}
		if err := sleep(ctx, m.config.pace); err != nil {
			return err
		}
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close shuts down the modem and releases all resources.
// It stops the event loop, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	// Stop the Loop if it's running
	if m.loopCancel != nil {
		m.loopCancel(ErrAlreadyClosed)
	}

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}
