/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package stream

import (
	"errors"

	"github.com/gobble-im/gobble/xmpp"
)

// DisconnectReason tells a disconnect handler why the stream went away.
type DisconnectReason int

const (
	// DisconnectClosed means a locally requested close completed.
	DisconnectClosed DisconnectReason = iota

	// DisconnectHangUp means the peer closed the stream.
	DisconnectHangUp

	// DisconnectError means the stream broke down.
	DisconnectError
)

// SSLStatus describes a certificate problem found while securing
// the stream.
type SSLStatus int

const (
	// SSLNoCertProvided means the server presented no certificate.
	SSLNoCertProvided SSLStatus = iota

	// SSLUntrustedCert means the certificate chain could not be verified.
	SSLUntrustedCert

	// SSLCertExpired means the certificate has expired.
	SSLCertExpired

	// SSLCertNotActivated means the certificate is not yet valid.
	SSLCertNotActivated

	// SSLCertHostnameMismatch means the certificate was issued for a
	// different host.
	SSLCertHostnameMismatch

	// SSLGenericError covers any other certificate problem.
	SSLGenericError
)

// SSLResponse is an SSL error handler's verdict.
type SSLResponse int

const (
	// SSLContinue accepts the certificate problem and carries on.
	SSLContinue SSLResponse = iota

	// SSLStop aborts the connection attempt.
	SSLStop
)

// ErrConflict is handed to a register handler when the chosen
// username is already taken.
var ErrConflict = errors.New("stream: username already in use")

// ErrNotOpen is returned when sending on a stream that is not open.
var ErrNotOpen = errors.New("stream: not open")

// OpenHandler is called when an open attempt completes.
type OpenHandler func(success bool)

// AuthHandler is called when an authentication attempt completes.
type AuthHandler func(success bool)

// RegisterHandler is called when an in-band registration attempt
// completes; err is nil on success.
type RegisterHandler func(err error)

// DisconnectHandler is called once when the stream goes away.
type DisconnectHandler func(reason DisconnectReason)

// SSLErrorHandler decides whether a certificate problem is fatal.
type SSLErrorHandler func(status SSLStatus) SSLResponse

// StanzaHandler receives every inbound stanza.
type StanzaHandler func(stanza xmpp.Stanza)

// Stream is the wire connection the connection manager drives. All
// completion handlers fire from the stream's own goroutine; callers
// are expected to bounce them onto their run queue.
type Stream interface {
	// ID returns the stream id assigned by the server, available
	// once the stream is open.
	ID() string

	// IsOpen tells whether the stream is currently usable.
	IsOpen() bool

	// SetStanzaHandler installs the inbound stanza callback.
	SetStanzaHandler(h StanzaHandler)

	// SetDisconnectHandler installs the disconnect callback.
	SetDisconnectHandler(h DisconnectHandler)

	// SSLFailure returns the certificate problem latched during the
	// last open attempt, if any.
	SSLFailure() (SSLStatus, bool)

	// Open asynchronously establishes the stream.
	Open(h OpenHandler)

	// Authenticate performs legacy jabber:iq:auth digest authentication.
	Authenticate(username, password, resource string, h AuthHandler)

	// Register performs in-band jabber:iq:register account creation.
	Register(username, password string, h RegisterHandler)

	// Send writes a stanza to the wire.
	Send(elem xmpp.XElement) error

	// Close shuts the stream down; the disconnect handler fires with
	// DisconnectClosed once done.
	Close()
}
