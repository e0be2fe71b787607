/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

// Package tperror defines the closed error taxonomy exposed at the
// connection manager boundary. Every error that crosses the external
// surface carries one of these codes; internal failures are wrapped
// before leaving the core.
package tperror

import (
	"fmt"
)

// Code represents an external error code.
type Code int

const (
	// NotAvailable signals a transient resource shortage or a missing
	// server or peer feature.
	NotAvailable Code = iota

	// InvalidArgument signals a malformed identifier or parameter.
	InvalidArgument

	// InvalidHandle signals an unknown handle or a handle of the wrong type.
	InvalidHandle

	// NotImplemented signals a channel type or feature no factory supports.
	NotImplemented

	// NetworkError signals a transport level send, open or auth failure.
	NetworkError

	// AuthenticationFailed signals a SASL-equivalent rejection.
	AuthenticationFailed

	// NameInUse signals an account registration conflict.
	NameInUse

	// Disconnected signals an operation failed because the connection is down.
	Disconnected

	// PermissionDenied signals the server refused the operation.
	PermissionDenied

	// CertNotProvided signals the server supplied no certificate.
	CertNotProvided

	// CertUntrusted signals the server certificate is not trusted.
	CertUntrusted

	// CertExpired signals the server certificate has expired.
	CertExpired

	// CertNotActivated signals the server certificate is not yet valid.
	CertNotActivated

	// CertHostnameMismatch signals a certificate hostname mismatch.
	CertHostnameMismatch

	// CertFingerprintMismatch signals a certificate fingerprint mismatch.
	CertFingerprintMismatch

	// CertOtherError signals any other certificate verification failure.
	CertOtherError
)

var codeNames = map[Code]string{
	NotAvailable:            "not-available",
	InvalidArgument:         "invalid-argument",
	InvalidHandle:           "invalid-handle",
	NotImplemented:          "not-implemented",
	NetworkError:            "network-error",
	AuthenticationFailed:    "authentication-failed",
	NameInUse:               "name-in-use",
	Disconnected:            "disconnected",
	PermissionDenied:        "permission-denied",
	CertNotProvided:         "cert-not-provided",
	CertUntrusted:           "cert-untrusted",
	CertExpired:             "cert-expired",
	CertNotActivated:        "cert-not-activated",
	CertHostnameMismatch:    "cert-hostname-mismatch",
	CertFingerprintMismatch: "cert-fingerprint-mismatch",
	CertOtherError:          "cert-other-error",
}

// String satisfies Stringer interface.
func (c Code) String() string { return codeNames[c] }

// Error represents an error value crossing the external boundary.
type Error struct {
	code   Code
	reason string
}

// New returns an initialized taxonomy error.
func New(code Code, reason string) *Error {
	return &Error{code: code, reason: reason}
}

// Newf returns an initialized taxonomy error formatting its reason.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{code: code, reason: fmt.Sprintf(format, args...)}
}

// Code returns the error taxonomy code.
func (e *Error) Code() Code { return e.code }

// Error satisfies error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", codeNames[e.code], e.reason)
}

// CodeOf extracts the taxonomy code associated to an error, returning
// ok == false for errors originated outside the taxonomy.
func CodeOf(err error) (Code, bool) {
	if e, ok := err.(*Error); ok {
		return e.code, true
	}
	return 0, false
}
