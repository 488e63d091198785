package codec

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// OCPI status codes
const (
	StatusSuccess                    = 1000
	StatusGenericClientError         = 2000
	StatusInvalidOrMissingParameters = 2001
	StatusNotEnoughInformation       = 2002
	StatusUnknownLocation            = 2003
	StatusUnknownToken               = 2004
	StatusGenericServerError         = 3000
	StatusUnableToUseClientApi       = 3001
	StatusUnsupportedVersion         = 3002
	StatusNoMatchingEndpoints        = 3003
)

// Envelope wraps every federation response body
type Envelope struct {
	Data          interface{} `json:"data,omitempty"`
	StatusCode    int         `json:"status_code"`
	StatusMessage string      `json:"status_message,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Error carries a protocol status code through the error chain
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ocpi %d: %s", e.Code, e.Message)
}

func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus is the transport status used when the error is returned to a partner
func (e *Error) HTTPStatus() int {
	switch {
	case e.Code == StatusUnknownLocation || e.Code == StatusUnknownToken:
		return http.StatusNotFound
	case e.Code >= 2000 && e.Code < 3000:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func Success(data interface{}) *Envelope {
	return &Envelope{
		Data:          data,
		StatusCode:    StatusSuccess,
		StatusMessage: "Success",
		Timestamp:     time.Now().UTC(),
	}
}

// Failure passes a protocol error code through; anything else becomes a generic server error
func Failure(err error) *Envelope {
	envelope := &Envelope{
		StatusCode: StatusGenericServerError,
		Timestamp:  time.Now().UTC(),
	}
	var ocpiErr *Error
	if errors.As(err, &ocpiErr) {
		envelope.StatusCode = ocpiErr.Code
		envelope.StatusMessage = ocpiErr.Message
		return envelope
	}
	if err != nil {
		envelope.StatusMessage = err.Error()
	} else {
		envelope.StatusMessage = "unknown error"
	}
	return envelope
}

// IsSuccess reports a 1xxx status code
func (e *Envelope) IsSuccess() bool {
	return e.StatusCode >= 1000 && e.StatusCode < 2000
}

// Err converts a failed envelope received from a partner back into an error
func (e *Envelope) Err() error {
	if e.IsSuccess() {
		return nil
	}
	return &Error{Code: e.StatusCode, Message: e.StatusMessage}
}
