package irrigation

import (
	"context"
	"fmt"
	"time"
)

var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// Date is a calendar date. Year is the full Gregorian year.
type Date struct {
	Day   uint8
	Month uint8
	Year  uint16
}

// IsLeap reports whether year is a Gregorian leap year.
func IsLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysIn returns the number of days in the given month of year.
func DaysIn(month, year int) int {
	if month == 2 && IsLeap(year) {
		return 29
	}
	return monthDays[month-1]
}

// Valid reports whether d names a real calendar day.
func (d Date) Valid() bool {
	if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Year < 1 {
		return false
	}
	return int(d.Day) <= DaysIn(int(d.Month), int(d.Year))
}

// ordinal counts days from 0001-01-01, which is day 1.
func (d Date) ordinal() int {
	y := int(d.Year) - 1
	n := y*365 + y/4 - y/100 + y/400
	for m := 1; m < int(d.Month); m++ {
		n += DaysIn(m, int(d.Year))
	}
	return n + int(d.Day)
}

// DaysBetween returns the number of days from 'from' to 'to'. The result is
// negative when 'to' is earlier.
func DaysBetween(from, to Date) int {
	return to.ordinal() - from.ordinal()
}

// AddDays returns d moved by n days.
func (d Date) AddDays(n int) Date {
	day, month, year := int(d.Day)+n, int(d.Month), int(d.Year)
	for day > DaysIn(month, year) {
		day -= DaysIn(month, year)
		if month++; month > 12 {
			month, year = 1, year+1
		}
	}
	for day < 1 {
		if month--; month < 1 {
			month, year = 12, year-1
		}
		day += DaysIn(month, year)
	}
	return Date{Day: uint8(day), Month: uint8(month), Year: uint16(year)}
}

func (d Date) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, d.Month, d.Year)
}

// TimeOfDay is an hour and minute.
type TimeOfDay struct {
	Hour   uint8
	Minute uint8
}

// Minutes returns the minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return int(t.Hour)*60 + int(t.Minute)
}

// Valid reports whether t is a real time of day.
func (t TimeOfDay) Valid() bool {
	return t.Hour < 24 && t.Minute < 60
}

// Timestamp is a date and time of day read from the real-time clock.
type Timestamp struct {
	Date
	Hour   uint8
	Minute uint8
	Second uint8
}

// TimestampOf converts t to a Timestamp in t's location.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{
		Date:   Date{Day: uint8(t.Day()), Month: uint8(t.Month()), Year: uint16(t.Year())},
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}
}

// Time converts ts to a time.Time in loc.
func (ts Timestamp) Time(loc *time.Location) time.Time {
	return time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), 0, loc)
}

// Minutes returns the minutes since midnight.
func (ts Timestamp) Minutes() int {
	return int(ts.Hour)*60 + int(ts.Minute)
}

// Clock supplies the current time.
type Clock interface {
	Now(ctx context.Context) (Timestamp, error)
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now returns the local host time.
func (SystemClock) Now(context.Context) (Timestamp, error) {
	return TimestampOf(time.Now()), nil
}

// TimeSource is a clock that returns time.Time, such as *modem.Modem which
// reads the network time with AT+CCLK?.
type TimeSource interface {
	Now(ctx context.Context) (time.Time, error)
}

// SourceClock adapts a TimeSource to Clock.
type SourceClock struct {
	Source TimeSource
}

// Now reads the source and converts the result.
func (c SourceClock) Now(ctx context.Context) (Timestamp, error) {
	t, err := c.Source.Now(ctx)
	if err != nil {
		return Timestamp{}, fmt.Errorf("read clock: %w", err)
	}
	return TimestampOf(t), nil
}
