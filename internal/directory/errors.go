package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory classifies directory failures.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// OperationError wraps a failed directory operation with its category, the
// LDAP result code when one was returned, and whether retrying with a fresh
// connection may help.
type OperationError struct {
	Op        string
	Category  ErrorCategory
	LDAPCode  uint16
	DN        string
	Retryable bool
	Cause     error
}

func (e *OperationError) Error() string {
	var parts []string
	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("directory %s failed (code %d)", e.Op, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("directory %s failed", e.Op))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}
	return strings.Join(parts, ": ")
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

func (e *OperationError) IsRetryable() bool {
	return e.Retryable
}

// WrapError categorizes an error from the underlying directory protocol.
// Errors already wrapped pass through with their operation filled in.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		if opErr.Op == "" {
			opErr.Op = op
		}
		return opErr
	}

	wrapped := &OperationError{Op: op, Cause: err}
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		wrapped.LDAPCode = ldapErr.ResultCode
		wrapped.Category = categorizeCode(ldapErr.ResultCode)
		wrapped.Retryable = isCodeRetryable(ldapErr.ResultCode)
	} else {
		wrapped.Category = categorizeGeneric(err)
		wrapped.Retryable = isGenericRetryable(err)
	}
	return wrapped
}

func categorizeCode(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute:
		return ErrorCategoryNotFound

	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultObjectClassViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultNamingViolation:
		return ErrorCategoryValidation

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded:
		return ErrorCategoryServer

	case ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

func categorizeGeneric(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "broken pipe"):
		return ErrorCategoryConnection
	case strings.Contains(errStr, "credentials"),
		strings.Contains(errStr, "authentication"):
		return ErrorCategoryAuthentication
	default:
		return ErrorCategoryUnknown
	}
}

func isCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError:
		return true
	default:
		return false
	}
}

func isGenericRetryable(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection",
		"timeout",
		"network",
		"broken pipe",
		"connection reset",
		"temporary failure",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Category returns the classification of an error, unwrapping as needed.
func Category(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Category
	}
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return categorizeCode(ldapErr.ResultCode)
	}
	return categorizeGeneric(err)
}

// IsNotFound reports whether the error means a requested entry is absent.
func IsNotFound(err error) bool {
	return Category(err) == ErrorCategoryNotFound
}

// IsConflict reports whether the error means an entry or value already
// exists.
func IsConflict(err error) bool {
	return Category(err) == ErrorCategoryConflict
}

// IsTransient reports whether the operation may be retried with a fresh
// connection or cursor.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Retryable
	}
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return isCodeRetryable(ldapErr.ResultCode)
	}
	return isGenericRetryable(err)
}
