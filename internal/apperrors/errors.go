package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrNotFound                = errors.New("not found")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrPersistenceUnavailable  = errors.New("persistence unavailable")
	ErrChannelDisconnected     = errors.New("channel disconnected")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrActiveSessionExists     = errors.New("active session already exists")
)

// ConflictError is returned when an item is held by another participant.
type ConflictError struct {
	ClaimedBy uint
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("item already claimed by user %d", e.ClaimedBy)
}

// Retryable reports whether a caller may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistenceUnavailable) ||
		errors.Is(err, ErrChannelDisconnected) ||
		errors.Is(err, ErrCollaboratorUnavailable)
}

// Wire codes shared by the HTTP surface and its client.
const (
	CodeInvalidInput            = "invalid_input"
	CodeNotFound                = "not_found"
	CodePermissionDenied        = "permission_denied"
	CodeInvalidTransition       = "invalid_transition"
	CodeConflict                = "conflict"
	CodePersistenceUnavailable  = "persistence_unavailable"
	CodeCollaboratorUnavailable = "collaborator_unavailable"
	CodeInternal                = "internal"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeInvalidInput, ErrInvalidInput},
	{CodeNotFound, ErrNotFound},
	{CodePermissionDenied, ErrPermissionDenied},
	{CodeInvalidTransition, ErrInvalidTransition},
	{CodePersistenceUnavailable, ErrPersistenceUnavailable},
	{CodeCollaboratorUnavailable, ErrCollaboratorUnavailable},
}

// Code names the class of err for API responses.
func Code(err error) string {
	var conflict *ConflictError
	if errors.As(err, &conflict) || errors.Is(err, ErrActiveSessionExists) {
		return CodeConflict
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode maps a wire code back to its sentinel, or nil when unknown.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
