package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation error")
	ErrUnavailable   = errors.New("service unavailable")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Failure kinds raised while driving a call. None of them ever reach the
// telephony provider as an HTTP error; the webhook boundary turns them into
// a spoken instruction.
var (
	// ErrProviderUnavailable marks a telephony, speech, narration or LLM
	// call that failed or timed out.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrInvalidState marks a webhook for a call with no usable session.
	ErrInvalidState = errors.New("invalid call state")
	// ErrClassificationAmbiguous marks decision output outside the known actions.
	ErrClassificationAmbiguous = errors.New("classification ambiguous")
	// ErrPersistence marks a conversation store write that did not land.
	ErrPersistence = errors.New("persistence failure")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
