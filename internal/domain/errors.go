package domain

import "errors"

// Domain errors
var (
	ErrInsufficientData = errors.New("insufficient data chunks in report")
	ErrInvalidHex       = errors.New("invalid hex value")
	ErrInvalidTimestamp = errors.New("invalid report timestamp")
	ErrTransport        = errors.New("oracle endpoint unavailable")

	ErrInvalidDataset   = errors.New("dataset must be mens or womens")
	ErrInvalidRightHand = errors.New("please enter a valid right hand grip strength")
	ErrInvalidLeftHand  = errors.New("please enter a valid left hand grip strength")
	ErrInvalidSleep     = errors.New("please enter valid hours of sleep")
	ErrHandleTooLong    = errors.New("social handle does not fit in 32 bytes")
	ErrInvalidSender    = errors.New("sender must be an address or key name")

	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// IsValidationError checks if an error was produced by form validation
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDataset) ||
		errors.Is(err, ErrInvalidRightHand) ||
		errors.Is(err, ErrInvalidLeftHand) ||
		errors.Is(err, ErrInvalidSleep) ||
		errors.Is(err, ErrHandleTooLong) ||
		errors.Is(err, ErrInvalidSender)
}
