package irrigation

import "errors"

var (
	// ErrSensorFailure is returned by a moisture sensor that did not answer
	// within its window.
	ErrSensorFailure = errors.New("moisture sensor failure")

	// ErrInvalidField is returned for a field number outside 1..FieldCount.
	ErrInvalidField = errors.New("invalid field number")

	// ErrInvalidInjector is returned for an injector number outside
	// 1..InjectorCount.
	ErrInvalidInjector = errors.New("invalid injector number")

	// ErrInvalidSetting is returned when a command carries an out of range
	// value.
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrNotConfigured is returned for a command on a field that has no
	// schedule.
	ErrNotConfigured = errors.New("field not configured")

	// ErrUnauthorized is returned when the sender may not run the command.
	ErrUnauthorized = errors.New("sender not authorized")

	// ErrBusy is returned for a command that cannot run during an
	// irrigation batch.
	ErrBusy = errors.New("irrigation in progress")

	// ErrEngineStopped is returned by Submit after the engine has exited.
	ErrEngineStopped = errors.New("engine stopped")
)
