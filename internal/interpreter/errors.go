package interpreter

import (
	"errors"
	"fmt"

	"chromate/internal/domain"
)

var ErrEmptyMessage = errors.New("interpreter message is empty")

// RemoteError reports a non-success answer from the interpreter, either a
// non-2xx status or an explicit error field in the body.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return "API Error: " + e.Message
	}
	return fmt.Sprintf("API Error: %d", e.Status)
}

func (e *RemoteError) Code() domain.ErrorCode { return domain.ErrorCodeRemote }

// TransportError reports that no response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("interpreter unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Code() domain.ErrorCode { return domain.ErrorCodeTransport }

// ResponseFormatError reports a body that could not be turned into an action.
type ResponseFormatError struct {
	Err error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("malformed interpreter response: %v", e.Err)
}

func (e *ResponseFormatError) Unwrap() error { return e.Err }

func (e *ResponseFormatError) Code() domain.ErrorCode { return domain.ErrorCodeResponseFormat }
