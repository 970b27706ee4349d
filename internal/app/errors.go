package app

import (
	"fmt"
	"net/http"
)

// DomainError is the typed error every service operation fails with.
// The HTTP layer alone translates it to a status code.
type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(format string, args ...any) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: fmt.Sprintf(format, args...)}
}

func unauthorized(format string, args ...any) *DomainError {
	return &DomainError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) *DomainError {
	return &DomainError{Status: http.StatusConflict, Code: "CONFLICT", Message: fmt.Sprintf(format, args...)}
}
