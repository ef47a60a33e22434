// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnexpected ErrorType = iota
	ErrTypeValidation
	ErrTypeConnection
	ErrTypeSSL
	ErrTypeServer
	ErrTypeNoContent
	ErrTypeCancelled
)

// String returns the name of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeValidation:
		return "validation"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeSSL:
		return "ssl"
	case ErrTypeServer:
		return "server"
	case ErrTypeNoContent:
		return "no_content"
	case ErrTypeCancelled:
		return "cancelled"
	default:
		return "unexpected"
	}
}

// ClientError represents an error from the inference server client.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int // set for ErrTypeServer
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ClientError of the same type and message,
// so wrapped copies of the sentinels below still match with errors.Is.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Message == e.Message
}

// Sentinel errors for easy checking.
var (
	ErrNoModelSelected = &ClientError{Type: ErrTypeValidation, Message: "no model selected"}
	ErrEmptyPrompt     = &ClientError{Type: ErrTypeValidation, Message: "prompt is empty"}
	ErrBusy            = &ClientError{Type: ErrTypeValidation, Message: "a response is already in progress"}
	ErrNoContent       = &ClientError{Type: ErrTypeNoContent, Message: "no content in response"}
	ErrCancelled       = &ClientError{Type: ErrTypeCancelled, Message: "request cancelled"}
)

// NewServerError creates the error for a non-2xx response.
func NewServerError(statusCode int, detail string) *ClientError {
	msg := fmt.Sprintf("server returned status %d", statusCode)
	if detail != "" {
		msg += " (" + detail + ")"
	}
	return &ClientError{Type: ErrTypeServer, Message: msg, StatusCode: statusCode}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classify maps a raw transport error onto the client error taxonomy.
// Errors that are already classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}

	if errors.Is(err, context.Canceled) {
		return &ClientError{Type: ErrTypeCancelled, Message: "request cancelled", Cause: err}
	}

	// TLS must be checked before net.OpError, which usually wraps it.
	if isTLSError(err) {
		return &ClientError{Type: ErrTypeSSL, Message: "secure connection failed", Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeConnection, Message: "request timed out", Cause: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ClientError{Type: ErrTypeConnection, Message: "server not found", Cause: err}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return &ClientError{Type: ErrTypeConnection, Message: "connection refused", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeConnection, Message: "request timed out", Cause: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ClientError{Type: ErrTypeConnection, Message: "connection failed", Cause: err}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return &ClientError{Type: ErrTypeConnection, Message: "connection closed", Cause: err}
	}

	return &ClientError{Type: ErrTypeUnexpected, Message: "unexpected error", Cause: err}
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		return true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		return true
	}
	// Remote alerts surface as an unexported type inside net.OpError.
	return strings.Contains(err.Error(), "tls: ")
}

// =============================================================================
// USER-FACING TEXT
// =============================================================================

// Describe returns the human-readable text for err. Cancellation is not an
// error from the user's point of view and describes as "".
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var clientErr *ClientError
	if !errors.As(Classify(err), &clientErr) {
		return "Failed to get a response: " + err.Error()
	}

	switch clientErr.Type {
	case ErrTypeCancelled:
		return ""
	case ErrTypeValidation:
		switch {
		case errors.Is(clientErr, ErrNoModelSelected):
			return "Please select a model"
		case errors.Is(clientErr, ErrEmptyPrompt):
			return "Please enter a message"
		case errors.Is(clientErr, ErrBusy):
			return "Wait for the current response to finish"
		}
		return clientErr.Message
	case ErrTypeConnection:
		return "Could not connect to the server (" + clientErr.Message + "). Check that it is running and that the base URL is correct"
	case ErrTypeSSL:
		return "Secure connection failed. Check the protocol (http or https) and the server certificate"
	case ErrTypeServer:
		return fmt.Sprintf("The server returned an error (HTTP %d)", clientErr.StatusCode)
	case ErrTypeNoContent:
		return "The server returned no content"
	default:
		return "Failed to get a response: " + clientErr.Error()
	}
}

// =============================================================================
// PREDICATES
// =============================================================================

func errorTypeOf(err error) (ErrorType, bool) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type, true
	}
	return ErrTypeUnexpected, false
}

func isType(err error, t ErrorType) bool {
	got, ok := errorTypeOf(err)
	return ok && got == t
}

// IsValidation checks if an error was rejected before any network call.
func IsValidation(err error) bool { return isType(err, ErrTypeValidation) }

// IsConnection checks if an error is a DNS, refused, reset, or timeout failure.
func IsConnection(err error) bool { return isType(err, ErrTypeConnection) }

// IsSSL checks if an error is a TLS handshake or certificate failure.
func IsSSL(err error) bool { return isType(err, ErrTypeSSL) }

// IsServer checks if an error is a non-2xx response.
func IsServer(err error) bool { return isType(err, ErrTypeServer) }

// IsNoContent checks if a response carried no usable choice.
func IsNoContent(err error) bool { return isType(err, ErrTypeNoContent) }

// IsCancelled checks if an error is a cancellation.
func IsCancelled(err error) bool { return isType(err, ErrTypeCancelled) }

// StatusCode returns the HTTP status of a server error, or 0.
func StatusCode(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ErrTypeServer {
		return clientErr.StatusCode
	}
	return 0
}
