package models

import "fmt"

// ValidationError rejects bad input before any storage or oracle work
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthorizationError reports an operation on another owner's resource
type AuthorizationError struct {
	Resource string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("access denied to %s", e.Resource)
}

// NotFoundError covers both missing rows and owner-filtered lookups, so a
// caller cannot probe for the existence of someone else's resources
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found or access denied", e.Resource)
}
