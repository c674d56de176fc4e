package types

// PermanentError represents an error that should not be retried
type PermanentError struct {
	Msg string
}

func (e *PermanentError) Error() string {
	return e.Msg
}

// TransientError represents a temporary downstream failure that can be retried
type TransientError struct {
	System string
	Msg    string
}

func (e *TransientError) Error() string {
	if e.System == "" {
		return e.Msg
	}
	return e.System + ": " + e.Msg
}

// ValidationError represents a malformed order that should not be retried
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NonRetryableErrorTypes lists the type names the retry policy never retries
var NonRetryableErrorTypes = []string{"PermanentError", "ValidationError"}
