// Package errs maps application failures onto API error responses.
package errs

import "errors"

// Response is the form used for API responses from failures in the API.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted carries an error whose message is safe to return to the caller,
// together with the HTTP status to respond with.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps an expected handler error with an HTTP status code.
func NewTrusted(err error, status int) error {
	return &Trusted{
		Err:    err,
		Status: status,
	}
}

// Error implements the error interface using the wrapped error's message.
func (re *Trusted) Error() string {
	return re.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (re *Trusted) Unwrap() error {
	return re.Err
}

// IsTrusted checks if an error of type Trusted exists in the chain.
func IsTrusted(err error) bool {
	var re *Trusted
	return errors.As(err, &re)
}

// GetTrusted returns the Trusted value from the chain, or nil when there
// is none.
func GetTrusted(err error) *Trusted {
	var re *Trusted
	if !errors.As(err, &re) {
		return nil
	}
	return re
}
