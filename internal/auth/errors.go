package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
)

// AuthorizationError rejects an action whose required permission was denied.
type AuthorizationError struct {
	UserID     string
	TenantID   string
	Permission Permission
	Action     string
	Reason     string
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("auth: %s requires %s", e.Action, e.Permission)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap lets callers match with errors.Is(err, ErrForbidden).
func (e *AuthorizationError) Unwrap() error { return ErrForbidden }
