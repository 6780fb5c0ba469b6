package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has no transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, or when a command is issued after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is started twice.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrLoopStopped is returned for commands issued after Loop returned,
	// wrapping the reason it stopped.
	ErrLoopStopped = errors.New("modem loop stopped")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrTimeout marks a reply that the watchdog forced to completion
	// without the expected content.
	//
	// SendAndAwait itself never returns it: a forced reply is a normal
	// outcome there. Helpers that need a definite answer wrap it.
	ErrTimeout = errors.New("modem did not answer in time")

	// ErrNotSent is returned by SendSMS when the modem did not confirm the
	// submission with +CMGS.
	ErrNotSent = errors.New("message not accepted by the network")

	// ErrBadRecipient is returned for recipient numbers that are empty or
	// contain characters other than digits and a leading '+'.
	ErrBadRecipient = errors.New("invalid recipient number")

	// ErrMalformedReply is returned when a reply does not have the expected
	// shape.
	ErrMalformedReply = errors.New("malformed modem reply")
)
