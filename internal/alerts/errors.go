package alerts

import "errors"

var (
	// ErrAlertNotFound reports an unknown alert id.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidAlertTransition reports a lifecycle move the alert's status does not allow.
	ErrInvalidAlertTransition = errors.New("invalid alert transition")
)
