/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"io"

	"github.com/gobble-im/gobble/xmpp"
)

// Transport represents a stream transport mechanism.
type Transport interface {
	io.ReadWriteCloser

	// WriteString writes a raw string to the transport.
	WriteString(s string) error

	// WriteElement writes an XML element to the transport.
	WriteElement(elem xmpp.XElement, includeClosing bool) error

	// StartTLS secures the transport using SSL/TLS.
	StartTLS(cfg *tls.Config)

	// PeerCertificates returns the certificate chain
	// presented by remote peer.
	PeerCertificates() []*x509.Certificate
}
