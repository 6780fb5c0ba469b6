package modem

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/fieldctl/at"
)

// SMS represents a text message stored on the modem.
type SMS struct {
	Index  int
	Status string // "REC UNREAD", "REC READ", "STO UNSENT", "STO SENT"
	Sender string
	Time   string
	Text   string
}

// SendSMS sends a text message to the specified recipient.
//
// The message is sent in text mode. The header and body are written byte by
// byte, then the Ctrl-Z terminator is sent as a solicited command whose
// reply must carry +CMGS. There is no retry: a message the modem does not
// confirm within ReplyWindow ticks is reported as ErrNotSent.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) error {
	if !validRecipient(recipient) {
		return fmt.Errorf("%w: %q", ErrBadRecipient, recipient)
	}

	m.exclusive.Lock()
	defer m.exclusive.Unlock()

	header := at.CmdSendMsg + `"` + recipient + `"` + at.CRLF
	if err := m.transmit(ctx, []byte(header)); err != nil {
		return fmt.Errorf("AT+CMGS header: %w", err)
	}
	if err := sleep(ctx, m.config.promptDelay); err != nil {
		return err
	}
	if err := m.transmit(ctx, []byte(message)); err != nil {
		return fmt.Errorf("SMS body: %w", err)
	}

	reply, err := m.await(ctx, Command{Text: at.CtrlZ, Raw: true, Window: ReplyWindow})
	if err != nil {
		return fmt.Errorf("SMS send failed: %w", err)
	}
	if !reply.Contains(at.RespSentMsg) {
		if reply.TimedOut {
			return fmt.Errorf("%w: %w", ErrNotSent, ErrTimeout)
		}
		return fmt.Errorf("%w: %q", ErrNotSent, reply.Buffer)
	}
	return nil
}

func validRecipient(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ReadMessage reads the message stored at the given SIM index. The index is
// the raw byte carried by the new-message notification.
func (m *Modem) ReadMessage(ctx context.Context, index byte) (SMS, error) {
	reply, err := m.SendAndAwait(ctx, Command{
		Text:   at.CmdReadMsg + string(index),
		Window: ReplyWindow,
	})
	if err != nil {
		return SMS{}, fmt.Errorf("read message %c: %w", index, err)
	}

	msg, err := parseMessage(reply.Lines())
	if err != nil {
		if reply.TimedOut {
			return SMS{}, fmt.Errorf("read message %c: %w", index, ErrTimeout)
		}
		return SMS{}, fmt.Errorf("read message %c: %w", index, err)
	}
	if n, err := strconv.Atoi(string(index)); err == nil {
		msg.Index = n
	}
	return msg, nil
}

// parseMessage parses the data lines of an AT+CMGR reply:
//
//	+CMGR: "REC UNREAD","+919876543210","","18/05/26,12:00:06+22"
//	message text
func parseMessage(lines []string) (SMS, error) {
	if len(lines) == 0 || !strings.HasPrefix(lines[0], at.RespReadMsg) {
		return SMS{}, ErrMalformedReply
	}

	header := strings.TrimSpace(strings.TrimPrefix(lines[0], at.RespReadMsg))
	r := csv.NewReader(strings.NewReader(header))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil || len(fields) < 2 {
		return SMS{}, fmt.Errorf("header %q: %w", header, ErrMalformedReply)
	}

	msg := SMS{
		Status: fields[0],
		Sender: fields[1],
		Text:   strings.Join(lines[1:], "\n"),
	}
	if len(fields) >= 4 {
		msg.Time = fields[3]
	}
	return msg, nil
}
