package wire

import "errors"

var (
	ErrTruncatedHeader  = errors.New("capture: truncated header")
	ErrTruncatedPayload = errors.New("capture: truncated payload")
	ErrTruncatedOptions = errors.New("capture: truncated options")
)
