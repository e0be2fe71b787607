/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package transport

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"time"

	"github.com/gobble-im/gobble/xmpp"
)

const socketBuffSize = 4096

const writeDeadline = 10 * time.Second // time allowed to write to the peer

type socketTransport struct {
	conn net.Conn
	rw   io.ReadWriter
	br   *bufio.Reader
	bw   *bufio.Writer
}

// NewSocketTransport creates a socket class stream transport.
func NewSocketTransport(conn net.Conn) Transport {
	s := &socketTransport{
		conn: conn,
		rw:   conn,
		br:   bufio.NewReaderSize(conn, socketBuffSize),
		bw:   bufio.NewWriterSize(conn, socketBuffSize),
	}
	return s
}

func (s *socketTransport) Read(p []byte) (n int, err error) {
	return s.br.Read(p)
}

func (s *socketTransport) Write(p []byte) (n int, err error) {
	defer s.bw.Flush()
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.bw.Write(p)
}

func (s *socketTransport) Close() error {
	return s.conn.Close()
}

func (s *socketTransport) WriteString(str string) error {
	defer s.bw.Flush()
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err := io.WriteString(s.bw, str)
	return err
}

func (s *socketTransport) WriteElement(elem xmpp.XElement, includeClosing bool) error {
	defer s.bw.Flush()
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	elem.ToXML(s.bw, includeClosing)
	return nil
}

func (s *socketTransport) StartTLS(cfg *tls.Config) {
	if _, ok := s.conn.(*tls.Conn); !ok {
		s.conn = tls.Client(s.conn, cfg)
		s.rw = s.conn
		s.bw.Reset(s.rw)
		s.br.Reset(s.rw)
	}
}

func (s *socketTransport) PeerCertificates() []*x509.Certificate {
	if tlsConn, ok := s.conn.(*tls.Conn); ok {
		st := tlsConn.ConnectionState()
		return st.PeerCertificates
	}
	return nil
}
