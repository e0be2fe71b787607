/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package stream

import (
	"sync"
	"time"

	"github.com/gobble-im/gobble/xmpp"
)

// MockStream represents a mocked wire stream. Completion results are
// scripted up front; inbound traffic is injected with ReceiveStanza.
type MockStream struct {
	mu            sync.RWMutex
	id            string
	open          bool
	openResult    bool
	authResult    bool
	registerErr   error
	sslFailure    SSLStatus
	sslFailed     bool
	stanzaHandler StanzaHandler
	discHandler   DisconnectHandler
	discOnce      sync.Once
	sentCh        chan xmpp.XElement
}

// NewMockStream returns a mocked stream whose open and auth attempts
// succeed until scripted otherwise.
func NewMockStream(id string) *MockStream {
	return &MockStream{
		id:         id,
		openResult: true,
		authResult: true,
		sentCh:     make(chan xmpp.XElement, 64),
	}
}

// SetOpenResult scripts the outcome of the next Open call.
func (m *MockStream) SetOpenResult(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openResult = success
}

// SetAuthResult scripts the outcome of the next Authenticate call.
func (m *MockStream) SetAuthResult(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authResult = success
}

// SetRegisterError scripts the outcome of the next Register call.
func (m *MockStream) SetRegisterError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerErr = err
}

// SetSSLFailure scripts a latched certificate failure.
func (m *MockStream) SetSSLFailure(status SSLStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sslFailure = status
	m.sslFailed = true
}

// ID returns the mocked stream identifier.
func (m *MockStream) ID() string {
	return m.id
}

// IsOpen tells whether the mocked stream has been opened.
func (m *MockStream) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open
}

// SetStanzaHandler installs the inbound stanza callback.
func (m *MockStream) SetStanzaHandler(h StanzaHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stanzaHandler = h
}

// SetDisconnectHandler installs the disconnect callback.
func (m *MockStream) SetDisconnectHandler(h DisconnectHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discHandler = h
}

// SSLFailure returns the scripted certificate failure, if any.
func (m *MockStream) SSLFailure() (SSLStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sslFailure, m.sslFailed
}

// Open completes immediately with the scripted result.
func (m *MockStream) Open(h OpenHandler) {
	m.mu.Lock()
	result := m.openResult
	m.open = result
	m.mu.Unlock()
	h(result)
}

// Authenticate completes immediately with the scripted result.
func (m *MockStream) Authenticate(username, password, resource string, h AuthHandler) {
	m.mu.RLock()
	result := m.authResult
	m.mu.RUnlock()
	h(result)
}

// Register completes immediately with the scripted result.
func (m *MockStream) Register(username, password string, h RegisterHandler) {
	m.mu.RLock()
	err := m.registerErr
	m.mu.RUnlock()
	h(err)
}

// Send records the stanza so a test can fetch it.
func (m *MockStream) Send(elem xmpp.XElement) error {
	if !m.IsOpen() {
		return ErrNotOpen
	}
	m.sentCh <- elem
	return nil
}

// Close marks the stream closed and fires the disconnect handler.
func (m *MockStream) Close() {
	m.mu.Lock()
	wasOpen := m.open
	m.open = false
	m.mu.Unlock()
	if wasOpen {
		m.disconnect(DisconnectClosed)
	}
}

// ReceiveStanza injects an inbound stanza.
func (m *MockStream) ReceiveStanza(stanza xmpp.Stanza) {
	m.mu.RLock()
	h := m.stanzaHandler
	m.mu.RUnlock()
	if h != nil {
		h(stanza)
	}
}

// Disconnect simulates the stream going away.
func (m *MockStream) Disconnect(reason DisconnectReason) {
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
	m.disconnect(reason)
}

// FetchSent returns the next stanza written to the stream, or nil
// when none shows up in time.
func (m *MockStream) FetchSent(timeout time.Duration) xmpp.XElement {
	select {
	case elem := <-m.sentCh:
		return elem
	case <-time.After(timeout):
		return nil
	}
}

// TryFetchSent returns the next already written stanza, or nil.
func (m *MockStream) TryFetchSent() xmpp.XElement {
	select {
	case elem := <-m.sentCh:
		return elem
	default:
		return nil
	}
}

func (m *MockStream) disconnect(reason DisconnectReason) {
	m.discOnce.Do(func() {
		m.mu.RLock()
		h := m.discHandler
		m.mu.RUnlock()
		if h != nil {
			h(reason)
		}
	})
}
