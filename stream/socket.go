/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package stream

import (
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/transport"
	"github.com/gobble-im/gobble/xmpp"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

const (
	streamClosed int32 = iota
	streamOpening
	streamOpen
)

const dialTimeout = 30 * time.Second

const maxInboundStanzaSize = 65536

// Config carries everything a socket stream needs to reach a server.
type Config struct {
	// Domain is the stream 'to' address.
	Domain string

	// Server and Port locate the host to dial.
	Server string
	Port   int

	// ProxyServer and ProxyPort, when set, route the connection
	// through an HTTPS CONNECT proxy.
	ProxyServer string
	ProxyPort   int

	// OldSSL wraps the whole connection in TLS before the stream
	// header is sent.
	OldSSL bool

	// SSLErrorHandler decides whether certificate problems are fatal.
	// A nil handler rejects every problem.
	SSLErrorHandler SSLErrorHandler

	// KeepAlive is the whitespace ping interval. Zero disables it.
	KeepAlive time.Duration
}

// SocketStream implements Stream over a TCP socket using the legacy
// jabber wire protocol.
type SocketStream struct {
	cfg   Config
	state int32

	mu            sync.RWMutex
	tr            transport.Transport
	id            string
	stanzaHandler StanzaHandler
	discHandler   DisconnectHandler
	pending       map[string]func(elem xmpp.XElement)
	sslFailure    SSLStatus
	sslFailed     bool

	discOnce  sync.Once
	keepAlive chan struct{}
}

// NewSocket returns an unopened socket stream.
func NewSocket(cfg Config) *SocketStream {
	return &SocketStream{
		cfg:     cfg,
		pending: make(map[string]func(elem xmpp.XElement)),
	}
}

// ID returns the server assigned stream id.
func (s *SocketStream) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// IsOpen tells whether the stream is usable.
func (s *SocketStream) IsOpen() bool {
	return atomic.LoadInt32(&s.state) == streamOpen
}

// SetStanzaHandler installs the inbound stanza callback.
func (s *SocketStream) SetStanzaHandler(h StanzaHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stanzaHandler = h
}

// SetDisconnectHandler installs the disconnect callback.
func (s *SocketStream) SetDisconnectHandler(h DisconnectHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discHandler = h
}

// SSLFailure returns the certificate problem latched during the last
// open attempt, if there was one.
func (s *SocketStream) SSLFailure() (SSLStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sslFailure, s.sslFailed
}

// Open establishes the stream asynchronously; h fires when the
// stream header exchange completes or fails.
func (s *SocketStream) Open(h OpenHandler) {
	if !atomic.CompareAndSwapInt32(&s.state, streamClosed, streamOpening) {
		h(false)
		return
	}
	go s.open(h)
}

func (s *SocketStream) open(h OpenHandler) {
	conn, err := s.dial()
	if err != nil {
		log.Warnf("stream: dial failed: %v", err)
		atomic.StoreInt32(&s.state, streamClosed)
		h(false)
		return
	}
	tr := transport.NewSocketTransport(conn)
	if s.cfg.OldSSL {
		tr.StartTLS(&tls.Config{
			ServerName:            s.cfg.Domain,
			InsecureSkipVerify:    true,
			VerifyPeerCertificate: s.verifyPeerCertificate,
		})
	}
	s.mu.Lock()
	s.tr = tr
	s.mu.Unlock()

	hdr := fmt.Sprintf(`<?xml version="1.0"?><stream:stream xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams" to="%s">`, s.cfg.Domain)
	if err := tr.WriteString(hdr); err != nil {
		log.Warnf("stream: header send failed: %v", err)
		s.teardown()
		h(false)
		return
	}
	parser := xmpp.NewParser(tr, xmpp.SocketStream, maxInboundStanzaSize)

	var opened xmpp.XElement
	for opened == nil {
		elem, err := parser.ParseElement()
		if err != nil {
			log.Warnf("stream: header read failed: %v", err)
			s.teardown()
			h(false)
			return
		}
		if elem != nil && strings.HasSuffix(elem.Name(), ":stream") {
			opened = elem
		}
	}
	s.mu.Lock()
	s.id = opened.ID()
	s.mu.Unlock()

	atomic.StoreInt32(&s.state, streamOpen)
	s.startKeepAlive()
	go s.readLoop(parser)
	h(true)
}

// Authenticate performs jabber:iq:auth digest authentication using
// the stream id as salt.
func (s *SocketStream) Authenticate(username, password, resource string, h AuthHandler) {
	sum := sha1.Sum([]byte(s.ID() + password))

	q := xmpp.NewElementNamespace("query", "jabber:iq:auth")
	q.AppendElement(xmpp.NewElementName("username").SetText(username))
	q.AppendElement(xmpp.NewElementName("digest").SetText(hex.EncodeToString(sum[:])))
	q.AppendElement(xmpp.NewElementName("resource").SetText(resource))

	iq := xmpp.NewIQType(uuid.New(), xmpp.SetType)
	iq.AppendElement(q)

	s.sendExpectingReply(iq, func(reply xmpp.XElement) {
		h(reply != nil && reply.Type() == xmpp.ResultType)
	})
}

// Register performs jabber:iq:register account creation.
func (s *SocketStream) Register(username, password string, h RegisterHandler) {
	q := xmpp.NewElementNamespace("query", "jabber:iq:register")
	q.AppendElement(xmpp.NewElementName("username").SetText(username))
	q.AppendElement(xmpp.NewElementName("password").SetText(password))

	iq := xmpp.NewIQType(uuid.New(), xmpp.SetType)
	iq.AppendElement(q)

	s.sendExpectingReply(iq, func(reply xmpp.XElement) {
		switch {
		case reply == nil:
			h(errors.New("stream: no registration reply"))
		case reply.Type() == xmpp.ResultType:
			h(nil)
		default:
			if errElem := reply.Error(); errElem != nil && errElem.Elements().Child("conflict") != nil {
				h(ErrConflict)
				return
			}
			h(errors.New("stream: registration rejected"))
		}
	})
}

// Send writes a stanza to the wire.
func (s *SocketStream) Send(elem xmpp.XElement) error {
	if !s.IsOpen() {
		return ErrNotOpen
	}
	s.mu.RLock()
	tr := s.tr
	s.mu.RUnlock()
	return tr.WriteElement(elem, true)
}

// Close shuts the stream down.
func (s *SocketStream) Close() {
	if atomic.LoadInt32(&s.state) == streamClosed {
		return
	}
	s.mu.RLock()
	tr := s.tr
	s.mu.RUnlock()
	if tr != nil {
		tr.WriteString("</stream:stream>")
	}
	s.teardown()
	s.disconnected(DisconnectClosed)
}

func (s *SocketStream) dial() (net.Conn, error) {
	target := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))
	if len(s.cfg.ProxyServer) == 0 {
		return net.DialTimeout("tcp", target, dialTimeout)
	}
	proxy := net.JoinHostPort(s.cfg.ProxyServer, strconv.Itoa(s.cfg.ProxyPort))
	conn, err := net.DialTimeout("tcp", proxy, dialTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target); err != nil {
		conn.Close()
		return nil, err
	}
	if err := readProxyResponse(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func readProxyResponse(conn net.Conn) error {
	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	defer conn.SetReadDeadline(time.Time{})

	// read header bytes one at a time so nothing past the header
	// is consumed
	var hdr []byte
	b := make([]byte, 1)
	for !strings.HasSuffix(string(hdr), "\r\n\r\n") {
		if len(hdr) > 4096 {
			return errors.New("stream: oversized proxy response")
		}
		if _, err := conn.Read(b); err != nil {
			return err
		}
		hdr = append(hdr, b[0])
	}
	status := string(hdr[:strings.Index(string(hdr), "\r\n")])
	if !strings.Contains(status, " 200") {
		return errors.Errorf("stream: proxy refused connection: %s", status)
	}
	return nil
}

func (s *SocketStream) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	status, ok := s.checkCertificates(rawCerts)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.sslFailure = status
	s.sslFailed = true
	handler := s.cfg.SSLErrorHandler
	s.mu.Unlock()

	if handler != nil && handler(status) == SSLContinue {
		return nil
	}
	return errors.New("stream: server certificate rejected")
}

func (s *SocketStream) checkCertificates(rawCerts [][]byte) (SSLStatus, bool) {
	if len(rawCerts) == 0 {
		return SSLNoCertProvided, true
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		c, err := x509.ParseCertificate(raw)
		if err != nil {
			return SSLGenericError, true
		}
		certs = append(certs, c)
	}
	opts := x509.VerifyOptions{
		DNSName:       s.cfg.Domain,
		Intermediates: x509.NewCertPool(),
	}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}
	_, err := certs[0].Verify(opts)
	if err == nil {
		return 0, false
	}
	switch e := err.(type) {
	case x509.CertificateInvalidError:
		if e.Reason == x509.Expired {
			now := time.Now()
			if now.Before(certs[0].NotBefore) {
				return SSLCertNotActivated, true
			}
			return SSLCertExpired, true
		}
		return SSLGenericError, true
	case x509.HostnameError:
		return SSLCertHostnameMismatch, true
	case x509.UnknownAuthorityError:
		return SSLUntrustedCert, true
	}
	return SSLGenericError, true
}

func (s *SocketStream) sendExpectingReply(iq *xmpp.IQ, cb func(reply xmpp.XElement)) {
	if !s.IsOpen() {
		cb(nil)
		return
	}
	s.mu.Lock()
	s.pending[iq.ID()] = cb
	tr := s.tr
	s.mu.Unlock()
	if err := tr.WriteElement(iq, true); err != nil {
		s.mu.Lock()
		delete(s.pending, iq.ID())
		s.mu.Unlock()
		cb(nil)
	}
}

func (s *SocketStream) readLoop(parser *xmpp.Parser) {
	for {
		elem, err := parser.ParseElement()
		switch err {
		case nil:
			if elem != nil {
				s.handleElement(elem)
			}
		case xmpp.ErrStreamClosedByPeer:
			s.teardown()
			s.disconnected(DisconnectHangUp)
			return
		default:
			if atomic.LoadInt32(&s.state) == streamClosed {
				return
			}
			log.Warnf("stream: read failed: %v", err)
			s.teardown()
			s.disconnected(DisconnectError)
			return
		}
	}
}

func (s *SocketStream) handleElement(elem xmpp.XElement) {
	if elem.Name() == xmpp.IQName {
		s.mu.Lock()
		cb := s.pending[elem.ID()]
		if cb != nil {
			delete(s.pending, elem.ID())
		}
		handler := s.stanzaHandler
		s.mu.Unlock()
		if cb != nil {
			cb(elem)
			return
		}
		if handler != nil {
			if iq, err := xmpp.NewStanzaFromElement(elem); err == nil {
				handler(iq)
			}
		}
		return
	}
	if !elem.IsStanza() {
		return
	}
	s.mu.RLock()
	handler := s.stanzaHandler
	s.mu.RUnlock()
	if handler == nil {
		return
	}
	stanza, err := xmpp.NewStanzaFromElement(elem)
	if err != nil {
		log.Warnf("stream: dropping malformed stanza: %v", err)
		return
	}
	handler(stanza)
}

func (s *SocketStream) startKeepAlive() {
	if s.cfg.KeepAlive <= 0 {
		return
	}
	stop := make(chan struct{})
	s.mu.Lock()
	s.keepAlive = stop
	s.mu.Unlock()
	go func() {
		t := time.NewTicker(s.cfg.KeepAlive)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.mu.RLock()
				tr := s.tr
				s.mu.RUnlock()
				if tr == nil {
					return
				}
				tr.WriteString(" ")
			case <-stop:
				return
			}
		}
	}()
}

func (s *SocketStream) teardown() {
	atomic.StoreInt32(&s.state, streamClosed)
	s.mu.Lock()
	if s.keepAlive != nil {
		close(s.keepAlive)
		s.keepAlive = nil
	}
	tr := s.tr
	s.tr = nil
	pending := s.pending
	s.pending = make(map[string]func(elem xmpp.XElement))
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	for _, cb := range pending {
		cb(nil)
	}
}

func (s *SocketStream) disconnected(reason DisconnectReason) {
	s.discOnce.Do(func() {
		s.mu.RLock()
		h := s.discHandler
		s.mu.RUnlock()
		if h != nil {
			h(reason)
		}
	})
}
