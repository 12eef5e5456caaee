package app

import "fmt"

// DomainError is an error with a wire representation: Status becomes the HTTP
// status, the rest becomes the JSON error envelope. Handlers pass these
// through mapError; anything else collapses to a generic 500 so internals
// never leak into a response body.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
