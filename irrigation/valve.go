package irrigation

import (
	"fmt"
	"strings"
)

// FieldCount is the number of field valves. Fields are numbered 1 to
// FieldCount.
const FieldCount = 12

// InjectorCount is the number of fertigation injectors. Injector n shares
// the output of field FieldCount-InjectorCount+n, so injectors only run
// while those fields are unconfigured.
const InjectorCount = 4

// Limits for the valve settings.
const (
	MaxOnPeriod   = 999
	MaxOffPeriod  = 99
	MaxSensorMark = 999
)

// Fertigation is the fertilizer dosing attached to a valve.
type Fertigation struct {
	Enabled bool
	// Delay is the number of minutes after the valve opens before dosing
	// starts.
	Delay uint16
	// OnPeriod is the dosing duration in minutes.
	OnPeriod uint16
	// Iterations is the number of remaining irrigation cycles that dose.
	Iterations uint8
}

// Valve describes the schedule of one field valve.
type Valve struct {
	Configured bool
	// OnPeriod is the irrigation duration in minutes.
	OnPeriod uint16
	// OffPeriod is the number of days between irrigations.
	OffPeriod uint8
	DryValue  uint16
	WetValue  uint16
	Due       Date
	MotorOn   TimeOfDay

	Fertigation Fertigation
}

// dueIn returns the minutes from now until the valve is due. Overdue valves
// return zero.
func (v Valve) dueIn(now Timestamp) int {
	delta := DaysBetween(now.Date, v.Due)*24*60 + v.MotorOn.Minutes() - now.Minutes()
	return max(delta, 0)
}

// advance moves the due date to the next irrigation counted from today.
func (v *Valve) advance(today Date) {
	v.Due = today.AddDays(max(int(v.OffPeriod), 1))
}

func validField(field int) error {
	if field < 1 || field > FieldCount {
		return fmt.Errorf("%w: field %d", ErrInvalidField, field)
	}
	return nil
}

// FieldList is a bounded set of field numbers that keeps insertion order.
type FieldList struct {
	fields [FieldCount]int
	n      int
}

// NewFieldList returns a list holding fields. Duplicates and out of range
// numbers are ignored.
func NewFieldList(fields ...int) FieldList {
	var l FieldList
	for _, f := range fields {
		l.Add(f)
	}
	return l
}

// Add appends field unless it is already present or out of range.
func (l *FieldList) Add(field int) bool {
	if validField(field) != nil || l.Contains(field) || l.n == len(l.fields) {
		return false
	}
	l.fields[l.n] = field
	l.n++
	return true
}

// Contains reports whether field is in the list.
func (l FieldList) Contains(field int) bool {
	for _, f := range l.fields[:l.n] {
		if f == field {
			return true
		}
	}
	return false
}

// Len returns the number of fields.
func (l FieldList) Len() int {
	return l.n
}

// Clear empties the list.
func (l *FieldList) Clear() {
	l.n = 0
}

// Fields returns a copy of the fields in order.
func (l FieldList) Fields() []int {
	return append([]int(nil), l.fields[:l.n]...)
}

// Lead returns the first field, or zero when the list is empty.
func (l FieldList) Lead() int {
	if l.n == 0 {
		return 0
	}
	return l.fields[0]
}

// Difference returns the fields of l that are not in other.
func (l FieldList) Difference(other FieldList) FieldList {
	var out FieldList
	for _, f := range l.fields[:l.n] {
		if !other.Contains(f) {
			out.Add(f)
		}
	}
	return out
}

func (l FieldList) String() string {
	parts := make([]string, l.n)
	for i, f := range l.fields[:l.n] {
		parts[i] = fmt.Sprintf("%02d", f)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
