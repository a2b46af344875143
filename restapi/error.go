/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"net/http"
	"strings"
	"unicode"
)

// Error represents an error details.
type Error struct {
	Domain  string                 `json:"domain"`
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeInternal         = "internalError"
	ErrCodeNotFound         = "notFound"
	ErrCodeMethodNotAllowed = "methodNotAllowed"
	ErrCodeTooManyRequests  = "tooManyRequests"
	ErrCodeBadRequest       = "badRequest"

	ErrCodeRequestEntityTooLarge = "requestEntityTooLarge"
)

// Error messages.
// We are using "var" here because some services may want to use different error messages.
var (
	ErrMessageInternal         = "Internal error."
	ErrMessageNotFound         = "Not found."
	ErrMessageMethodNotAllowed = "Method not allowed."
	ErrMessageTooManyRequests  = "Too many requests."
)

// NewError creates a new Error with specified params.
func NewError(domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// NewInternalError creates a new internal error with specified domain.
func NewInternalError(domain string) *Error {
	return NewError(domain, ErrCodeInternal, ErrMessageInternal)
}

// NewTooManyRequestsError creates a new error for requests rejected by rate limiting.
func NewTooManyRequestsError(domain string) *Error {
	return NewError(domain, ErrCodeTooManyRequests, ErrMessageTooManyRequests)
}

// NewRequestEntityTooLargeError creates a new error for requests whose body is larger than maxSizeBytes.
// The limit in bytes goes to the "maxBodySize" context field.
func NewRequestEntityTooLargeError(domain string, maxSizeBytes uint64) *Error {
	return NewError(domain, ErrCodeRequestEntityTooLarge, NewTooLargeMalformedRequestError(maxSizeBytes).Message).
		AddContext("maxBodySize", maxSizeBytes)
}

// AddContext adds value to error context.
func (e *Error) AddContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[field] = value
	return e
}

// httpCode2ErrorCode turns a status text into a lower camel case code ("Request Entity Too Large" -> "requestEntityTooLarge").
func httpCode2ErrorCode(httpCode int) string {
	if httpCode == http.StatusInternalServerError {
		return ErrCodeInternal
	}
	var builder strings.Builder
	capitalizeNext := false
	for _, char := range http.StatusText(httpCode) {
		switch {
		case unicode.IsSpace(char):
			capitalizeNext = true
		case capitalizeNext:
			builder.WriteRune(unicode.ToTitle(char))
			capitalizeNext = false
		default:
			builder.WriteRune(unicode.ToLower(char))
		}
	}
	return builder.String()
}
