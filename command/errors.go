package command

import "errors"

var (
	// ErrEmpty is returned for a message with no keyword.
	ErrEmpty = errors.New("empty command")

	// ErrUnknown is returned when the keyword is not part of the grammar.
	ErrUnknown = errors.New("unknown command")

	// ErrSyntax is returned when the keyword is known but its arguments
	// are missing, surplus or malformed.
	ErrSyntax = errors.New("command syntax error")
)
