package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/fieldctl/at"
)

// Watchdog windows, in ticks.
const (
	// ConfigWindow bounds configuration commands.
	ConfigWindow = 15
	// ReplyWindow bounds queries and message submission.
	ReplyWindow = 30
)

// Configure prepares the modem for text-mode SMS with new-message
// indications. Each setting is re-sent every retry interval until the
// modem answers OK or the window lapses; a lapsed setting is logged and
// configuration continues.
//
// When the SIM asks for a PIN, the configured PIN is entered. Without one
// Configure returns ErrSIMPinRequired.
func (m *Modem) Configure(ctx context.Context) error {
	m.exclusive.Lock()
	defer m.exclusive.Unlock()

	if err := m.unlockSIM(ctx); err != nil {
		return err
	}

	settings := []string{
		at.CmdEchoOff,
		at.CmdSetTextMode,
		at.CmdNewMsgIndicate,
		at.CmdClass0Storage,
		at.CmdGSMCharset,
	}
	for _, setting := range settings {
		reply, err := m.await(ctx, Command{
			Text:       setting,
			Window:     ConfigWindow,
			Retry:      true,
			CaptureAll: true,
		})
		if err != nil {
			return fmt.Errorf("configure %q: %w", setting, err)
		}
		if reply.TimedOut {
			m.logger.Warn("Modem did not acknowledge setting", "command", setting)
		}
	}
	return nil
}

func (m *Modem) unlockSIM(ctx context.Context) error {
	reply, err := m.await(ctx, Command{Text: at.CmdSimStatus, Window: ConfigWindow})
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case reply.Contains(at.SimReady):
		return nil

	case reply.Contains(at.SimPin):
		if m.config.simPIN == "" {
			return ErrSIMPinRequired
		}
		reply, err := m.await(ctx, Command{
			Text:       fmt.Sprintf(`AT+CPIN="%s"`, m.config.simPIN),
			Window:     ConfigWindow,
			CaptureAll: true,
		})
		if err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
		if reply.TimedOut {
			return fmt.Errorf("enter SIM PIN: %w", ErrTimeout)
		}
		return nil

	default:
		// Some modules do not answer AT+CPIN? until registered.
		m.logger.Warn("Unknown SIM state", "reply", string(reply.Buffer), "timed_out", reply.TimedOut)
		return nil
	}
}

// SyncLocalTime makes the modem keep its clock in network local time.
// If the setting is off, it is enabled and saved, and the radio is
// restarted so that it takes effect, which takes several minutes.
//
// It reports whether network time is enabled afterwards.
func (m *Modem) SyncLocalTime(ctx context.Context) (bool, error) {
	m.exclusive.Lock()
	defer m.exclusive.Unlock()

	enabled, err := m.localTimeEnabled(ctx)
	if err != nil || enabled {
		return enabled, err
	}

	for _, cmd := range []string{at.CmdLocalTimeOn, at.CmdSaveProfile} {
		if _, err := m.await(ctx, Command{Text: cmd, Window: ReplyWindow, CaptureAll: true}); err != nil {
			return false, fmt.Errorf("%s: %w", cmd, err)
		}
	}

	m.logger.Info("Restarting radio to apply network time", "off", m.config.radioOffWait, "reboot", m.config.rebootWait)
	if err := m.transmit(ctx, []byte(at.CmdRadioOff+at.CRLF)); err != nil {
		return false, err
	}
	if err := sleep(ctx, m.config.radioOffWait); err != nil {
		return false, err
	}
	if err := m.transmit(ctx, []byte(at.CmdRadioOn+at.CRLF)); err != nil {
		return false, err
	}
	if err := sleep(ctx, m.config.rebootWait); err != nil {
		return false, err
	}

	return m.localTimeEnabled(ctx)
}

// localTimeEnabled reads the +CLTS setting. The reply starts "+CLTS: " so
// the setting is at offset 7.
func (m *Modem) localTimeEnabled(ctx context.Context) (bool, error) {
	reply, err := m.await(ctx, Command{Text: at.CmdLocalTime, Window: ReplyWindow})
	if err != nil {
		return false, fmt.Errorf("query network time: %w", err)
	}
	return reply.ByteAt(len(at.RespLocalTime)+1) == '1', nil
}

// DeleteMessages removes every stored message so new ones have room.
func (m *Modem) DeleteMessages(ctx context.Context) error {
	if err := m.delete(ctx, at.CmdDeleteAll); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// DeleteMessage removes the message stored at the given SIM index, leaving
// messages that are still waiting to be read.
func (m *Modem) DeleteMessage(ctx context.Context, index byte) error {
	if err := m.delete(ctx, at.CmdDeleteMsg+string(index)); err != nil {
		return fmt.Errorf("delete message %c: %w", index, err)
	}
	return nil
}

func (m *Modem) delete(ctx context.Context, text string) error {
	reply, err := m.SendAndAwait(ctx, Command{
		Text:       text,
		Window:     ConfigWindow,
		Retry:      true,
		CaptureAll: true,
	})
	if err != nil {
		return err
	}
	if reply.TimedOut {
		return ErrTimeout
	}
	return nil
}

// Now reads the modem real-time clock.
func (m *Modem) Now(ctx context.Context) (time.Time, error) {
	reply, err := m.SendAndAwait(ctx, Command{Text: at.CmdClock, Window: ReplyWindow})
	if err != nil {
		return time.Time{}, fmt.Errorf("read clock: %w", err)
	}
	for _, line := range reply.Lines() {
		if strings.HasPrefix(line, at.RespClock) {
			return ParseClock(strings.TrimSpace(strings.TrimPrefix(line, at.RespClock)))
		}
	}
	if reply.TimedOut {
		return time.Time{}, fmt.Errorf("read clock: %w", ErrTimeout)
	}
	return time.Time{}, fmt.Errorf("read clock %q: %w", reply.Buffer, ErrMalformedReply)
}

// ParseClock parses a modem timestamp such as "18/05/26,12:00:06+22". The
// suffix is the offset from UTC in quarter hours. Quotes are optional.
func ParseClock(s string) (time.Time, error) {
	s = strings.Trim(s, `"`)
	const layout = "06/01/02,15:04:05"
	if len(s) < len(layout) {
		return time.Time{}, fmt.Errorf("clock %q: %w", s, ErrMalformedReply)
	}
	loc := time.UTC
	if zone := s[len(layout):]; zone != "" {
		quarters, err := strconv.Atoi(zone)
		if err != nil {
			return time.Time{}, fmt.Errorf("clock zone %q: %w", zone, ErrMalformedReply)
		}
		loc = time.FixedZone("", quarters*15*60)
	}
	t, err := time.ParseInLocation(layout, s[:len(layout)], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock %q: %w", s, ErrMalformedReply)
	}
	return t, nil
}

// Signal is a coarse signal quality band.
type Signal int

const (
	SignalUnknown Signal = iota
	SignalPoor
	SignalVeryLow
	SignalLow
	SignalModerate
	SignalGood
	SignalVeryGood
	SignalExcellent
)

func (s Signal) String() string {
	switch s {
	case SignalPoor:
		return "poor"
	case SignalVeryLow:
		return "very low"
	case SignalLow:
		return "low"
	case SignalModerate:
		return "moderate"
	case SignalGood:
		return "good"
	case SignalVeryGood:
		return "very good"
	case SignalExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// ClassifyRSSI maps an AT+CSQ RSSI value (0-31, 99 unknown) to a band.
func ClassifyRSSI(rssi int) Signal {
	switch {
	case rssi < 0:
		return SignalUnknown
	case rssi <= 5:
		return SignalPoor
	case rssi <= 9:
		return SignalVeryLow
	case rssi <= 13:
		return SignalLow
	case rssi <= 17:
		return SignalModerate
	case rssi <= 21:
		return SignalGood
	case rssi <= 25:
		return SignalVeryGood
	case rssi <= 31:
		return SignalExcellent
	default:
		return SignalUnknown
	}
}

// SignalQuality queries AT+CSQ and returns the raw RSSI and its band.
func (m *Modem) SignalQuality(ctx context.Context) (int, Signal, error) {
	reply, err := m.SendAndAwait(ctx, Command{Text: at.CmdSignalQuality, Window: ReplyWindow})
	if err != nil {
		return 0, SignalUnknown, fmt.Errorf("signal quality: %w", err)
	}
	for _, line := range reply.Lines() {
		if !strings.HasPrefix(line, at.UrcSignalStrength) {
			continue
		}
		value, _, _ := strings.Cut(strings.TrimPrefix(line, at.UrcSignalStrength), ",")
		rssi, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, SignalUnknown, fmt.Errorf("signal quality %q: %w", line, ErrMalformedReply)
		}
		return rssi, ClassifyRSSI(rssi), nil
	}
	if reply.TimedOut {
		return 0, SignalUnknown, fmt.Errorf("signal quality: %w", ErrTimeout)
	}
	return 0, SignalUnknown, fmt.Errorf("signal quality %q: %w", reply.Buffer, ErrMalformedReply)
}
