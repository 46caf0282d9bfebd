package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// ErrorKind classifies administration failures for HTTP translation and
// structured logging.
type ErrorKind string

const (
	KindPermissionDenied       ErrorKind = "permission_denied"
	KindUserNotFound           ErrorKind = "user_not_found"
	KindValidationFailed       ErrorKind = "validation_failed"
	KindRoleHierarchyViolation ErrorKind = "role_hierarchy_violation"
	KindLastSuperAdmin         ErrorKind = "last_super_admin"
	KindDuplicateEmail         ErrorKind = "duplicate_email"
	KindDuplicateRoleName      ErrorKind = "duplicate_role_name"
	KindRoleInUse              ErrorKind = "role_in_use"
	KindSystemRoleDeletion     ErrorKind = "system_role_deletion"
	KindSelfDeletionForbidden  ErrorKind = "self_deletion_forbidden"
	KindGeneral                ErrorKind = "general"
)

// AdminError is a typed business-rule violation raised at the service
// boundary. Context carries actor/target identifiers; the translation layer
// both logs it and renders it in the problem response.
type AdminError struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
}

func (e *AdminError) Error() string {
	return e.Message
}

// HTTPStatus maps the error kind to its default HTTP status code.
func (e *AdminError) HTTPStatus() int {
	switch e.Kind {
	case KindPermissionDenied, KindRoleHierarchyViolation, KindSystemRoleDeletion, KindSelfDeletionForbidden:
		return http.StatusForbidden
	case KindUserNotFound:
		return http.StatusNotFound
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindLastSuperAdmin, KindDuplicateEmail, KindDuplicateRoleName, KindRoleInUse:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// AsAdminError unwraps err into an *AdminError when possible.
func AsAdminError(err error) (*AdminError, bool) {
	var ae *AdminError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func ErrPermissionDenied(action string, ctx map[string]any) error {
	msg := "you do not have permission to perform this action"
	if action != "" {
		msg = fmt.Sprintf("you do not have permission to perform this action: %s", action)
	}
	return &AdminError{Kind: KindPermissionDenied, Message: msg, Context: ctx}
}

func ErrUserNotFound(userID int64) error {
	return &AdminError{
		Kind:    KindUserNotFound,
		Message: "the requested user does not exist",
		Context: map[string]any{"user_id": userID},
	}
}

func ErrValidationFailed(fields map[string]string) error {
	ctx := make(map[string]any, len(fields))
	for field, msg := range fields {
		ctx[field] = msg
	}
	return &AdminError{Kind: KindValidationFailed, Message: "the submitted data is invalid", Context: ctx}
}

func ErrRoleHierarchyViolation(role string) error {
	msg := "you cannot assign a role at or above your own level"
	if role != "" {
		msg = fmt.Sprintf("you cannot assign a role at or above your own level: %s", role)
	}
	return &AdminError{Kind: KindRoleHierarchyViolation, Message: msg, Context: map[string]any{"attempted_role": role}}
}

func ErrLastSuperAdmin() error {
	return &AdminError{Kind: KindLastSuperAdmin, Message: "the last super administrator cannot be removed"}
}

func ErrDuplicateEmail(email string) error {
	return &AdminError{
		Kind:    KindDuplicateEmail,
		Message: "this email address is already in use",
		Context: map[string]any{"email": email},
	}
}

func ErrDuplicateRoleName(name string) error {
	return &AdminError{
		Kind:    KindDuplicateRoleName,
		Message: "a role with this name already exists",
		Context: map[string]any{"name": name},
	}
}

func ErrRoleInUse(roleID int64, users int) error {
	return &AdminError{
		Kind:    KindRoleInUse,
		Message: fmt.Sprintf("this role cannot be deleted because it is assigned to %d user(s)", users),
		Context: map[string]any{"role_id": roleID, "assigned_users": users},
	}
}

func ErrSystemRoleDeletion(name string) error {
	return &AdminError{
		Kind:    KindSystemRoleDeletion,
		Message: "system roles cannot be deleted",
		Context: map[string]any{"role": name},
	}
}

func ErrSelfDeletionForbidden() error {
	return &AdminError{Kind: KindSelfDeletionForbidden, Message: "you cannot delete your own account"}
}

// UserSafeMessage returns a message suitable for end users. Typed errors
// carry curated messages; anything else collapses to a generic failure so
// internals never leak.
func UserSafeMessage(err error) string {
	if ae, ok := AsAdminError(err); ok {
		return ae.Message
	}
	if errors.Is(err, ErrNotFound) {
		return "the requested resource was not found"
	}
	return "an unexpected error occurred, please try again"
}
