package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"campusforum/api/internal/auth"
	"campusforum/api/internal/export"
	"campusforum/api/internal/forum"
	"campusforum/api/internal/gitrepo"
	"campusforum/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

var errUnauthenticated = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Post not found", nil
	case errors.Is(err, forum.ErrReplyNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Reply not found", nil
	case errors.Is(err, gitrepo.ErrRevisionNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Revision not found", nil
	case errors.Is(err, forum.ErrReplyTooDeep):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Reply nesting limit reached", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Post was modified concurrently, retry the request", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case http.StatusNotFound:
			return http.StatusNotFound, "NOT_FOUND", "Not found", nil
		case http.StatusMethodNotAllowed:
			return http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil
		}
		return httpErr.Code, "HTTP_ERROR", fmt.Sprint(httpErr.Message), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
