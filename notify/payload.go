// Package notify renders outbound SMS notifications.
//
// A notification is a Payload: a message prefix followed by fixed-width
// decimal fields. Numbers are written digit by digit into a fixed width;
// a value wider than its field keeps its low-order digits.
package notify

import (
	"time"
)

// Payload is one outbound notification. The set of payloads is closed.
type Payload interface {
	render(b *builder)
}

// Text is a plain message.
type Text struct {
	Message string
}

// Field reports a single two-digit number, usually a field number.
type Field struct {
	Message string
	Number  int
}

// Fields reports a list of field numbers, each as two digits followed by a
// space.
type Fields struct {
	Message string
	Numbers []int
}

// Admin reports a phone number, such as a newly registered admin.
type Admin struct {
	Message string
	Number  string
}

// Time reports a timestamp as yy/MM/dd,hh:mm:ss (17 characters).
type Time struct {
	Message string
	At      time.Time
}

// Secret reports a six-character code.
type Secret struct {
	Message string
	Code    string
}

// MotorLoad reports the calibrated motor cut-off currents.
type MotorLoad struct {
	Message  string
	NoLoad   uint16
	FullLoad uint16
}

// Moisture reports a moisture sensor reading for a field.
type Moisture struct {
	Message string
	Field   int
	Level   uint32
}

// ValveReport describes a configured field valve.
type ValveReport struct {
	Message   string
	Field     int
	OnPeriod  uint16
	OffPeriod uint8
	Dry       uint16
	Wet       uint16
	DueDay    uint8
	DueMonth  uint8
	DueYear   uint16
	Hour      uint8
	Minute    uint8

	Fertigation           bool
	FertigationDelay      uint16
	FertigationOnPeriod   uint16
	FertigationIterations uint8
}

// FiltrationReport describes the filtration sequence settings in minutes.
type FiltrationReport struct {
	Message    string
	Delay1     uint8
	Delay2     uint8
	Delay3     uint8
	OnTime     uint8
	Separation uint16
}

func (p Text) render(b *builder) {
	b.str(p.Message)
}

func (p Field) render(b *builder) {
	b.str(p.Message)
	b.digits(uint64(max(p.Number, 0)), 2)
}

func (p Fields) render(b *builder) {
	b.str(p.Message)
	for _, n := range p.Numbers {
		b.digits(uint64(max(n, 0)), 2)
		b.str(" ")
	}
}

func (p Admin) render(b *builder) {
	b.str(p.Message)
	b.str(p.Number)
}

func (p Time) render(b *builder) {
	b.str(p.Message)
	b.digits(uint64(p.At.Year()), 2)
	b.str("/")
	b.digits(uint64(p.At.Month()), 2)
	b.str("/")
	b.digits(uint64(p.At.Day()), 2)
	b.str(",")
	b.digits(uint64(p.At.Hour()), 2)
	b.str(":")
	b.digits(uint64(p.At.Minute()), 2)
	b.str(":")
	b.digits(uint64(p.At.Second()), 2)
}

func (p Secret) render(b *builder) {
	b.str(p.Message)
	b.fixed(p.Code, 6)
}

func (p MotorLoad) render(b *builder) {
	b.str(p.Message)
	b.digits(uint64(p.NoLoad), 4)
	b.str(" and ")
	b.digits(uint64(p.FullLoad), 4)
}

func (p Moisture) render(b *builder) {
	b.str(p.Message)
	b.digits(uint64(max(p.Field, 0)), 2)
	b.str(" is ")
	b.digits(uint64(p.Level), 5)
}

func (p ValveReport) render(b *builder) {
	b.str(p.Message)
	b.digits(uint64(max(p.Field, 0)), 2)
	b.str(" ONprd:")
	b.digits(uint64(p.OnPeriod), 3)
	b.str(" OFFprd:")
	b.digits(uint64(p.OffPeriod), 2)
	b.str(" Dry:")
	b.digits(uint64(p.Dry), 3)
	b.str(" Wet:")
	b.digits(uint64(p.Wet), 3)
	b.str(" DueDate: ")
	b.digits(uint64(p.DueDay), 2)
	b.digits(uint64(p.DueMonth), 2)
	b.digits(uint64(p.DueYear), 2)
	b.digits(uint64(p.Hour), 2)
	b.digits(uint64(p.Minute), 2)
	b.str("\r\n")
	if !p.Fertigation {
		b.str("Fertigation not configured\r\n")
		return
	}
	b.str("Fertigation enabled with delay:")
	b.digits(uint64(p.FertigationDelay), 3)
	b.str(" ONprd:")
	b.digits(uint64(p.FertigationOnPeriod), 3)
	b.str(" Iteration:")
	b.digits(uint64(p.FertigationIterations), 2)
	b.str("\r\n")
}

func (p FiltrationReport) render(b *builder) {
	b.str(p.Message)
	b.str("\r\nDelay1: ")
	b.digits(uint64(p.Delay1), 2)
	b.str("(Min) Delay2: ")
	b.digits(uint64(p.Delay2), 2)
	b.str("(Min) Delay3: ")
	b.digits(uint64(p.Delay3), 2)
	b.str("(Min)\r\nONTime: ")
	b.digits(uint64(p.OnTime), 2)
	b.str("(Min) Separation Time: ")
	b.digits(uint64(p.Separation), 3)
	b.str("(Min)")
}

// Render returns the SMS body for p.
func Render(p Payload) []byte {
	var b builder
	p.render(&b)
	return b.buf
}

type builder struct {
	buf []byte
}

func (b *builder) str(s string) {
	b.buf = append(b.buf, s...)
}

// digits writes the low-order width decimal digits of v, most significant
// first.
func (b *builder) digits(v uint64, width int) {
	start := len(b.buf)
	for range width {
		b.buf = append(b.buf, '0')
	}
	for i := len(b.buf) - 1; i >= start; i-- {
		b.buf[i] = byte('0' + v%10)
		v /= 10
	}
}

// fixed writes s cut or space-padded to width.
func (b *builder) fixed(s string, width int) {
	if len(s) > width {
		s = s[:width]
	}
	b.str(s)
	for range width - len(s) {
		b.buf = append(b.buf, ' ')
	}
}
