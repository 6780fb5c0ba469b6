package hw

import "errors"

var (
	// ErrNoPin is returned by Lookup when a configured pin name is not
	// registered with the host.
	ErrNoPin = errors.New("pin not found")

	// ErrNoCurrentSensor is returned by MotorCurrent when the board has no
	// current transformer input.
	ErrNoCurrentSensor = errors.New("no motor current sensor")

	// ErrNoProbe is returned by Moisture for a field without a probe.
	ErrNoProbe = errors.New("no moisture probe")

	// ErrOutOfRange is returned for a field, filter or injector number
	// outside the board's outputs.
	ErrOutOfRange = errors.New("output number out of range")
)
