package providers

import "fmt"

// StatusError captures a non-200 HTTP status from a provider response.
// Retryable inspects it to decide whether another attempt is worthwhile.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// DecodeError marks a 200 response whose body did not parse. A retry cannot
// fix a malformed body, so it is always terminal.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "malformed response: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }
