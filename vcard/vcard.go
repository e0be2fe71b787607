/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package vcard

import (
	"time"

	"github.com/pborman/uuid"

	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/xmpp"
)

const vCardNamespace = "vcard-temp"

const requestTimeout = 30 * time.Second

// IQSender is what the manager needs from the owning connection.
type IQSender interface {
	SendIQWithReply(iq *xmpp.IQ, timeout time.Duration, cb func(reply xmpp.XElement, err error)) (cancel func(), err error)
}

// ResultHandler receives a fetched nickname; an empty nickname with a
// nil error means the vCard has none.
type ResultHandler func(nickname string, err error)

// Manager fetches and patches vCard nicknames, one of the alias
// sources. Concurrent fetches for the same handle share one request.
// Not safe for concurrent use; the owning connection serializes
// access.
type Manager struct {
	sender  IQSender
	handles *handle.Repository

	nicknames map[handle.Handle]string
	pending   map[handle.Handle][]ResultHandler
}

func NewManager(sender IQSender, handles *handle.Repository) *Manager {
	return &Manager{
		sender:    sender,
		handles:   handles,
		nicknames: make(map[handle.Handle]string),
		pending:   make(map[handle.Handle][]ResultHandler),
	}
}

// Nickname returns the cached nickname of a contact.
func (m *Manager) Nickname(h handle.Handle) (string, bool) {
	nick, ok := m.nicknames[h]
	return nick, ok
}

// RequestNickname fetches a contact's vCard nickname, answering from
// cache when possible.
func (m *Manager) RequestNickname(h handle.Handle, cb ResultHandler) {
	if nick, ok := m.nicknames[h]; ok {
		cb(nick, nil)
		return
	}
	if waiting, ok := m.pending[h]; ok {
		m.pending[h] = append(waiting, cb)
		return
	}
	bare, err := m.handles.Inspect(handle.ContactType, h)
	if err != nil {
		cb("", err)
		return
	}
	m.pending[h] = []ResultHandler{cb}

	iq := xmpp.NewIQType(uuid.New(), xmpp.GetType)
	iq.SetTo(bare)
	iq.AppendElement(xmpp.NewElementNamespace("vCard", vCardNamespace))

	if _, err := m.sender.SendIQWithReply(iq, requestTimeout, func(reply xmpp.XElement, err error) {
		m.fetchDone(h, reply, err)
	}); err != nil {
		m.failPending(h, err)
	}
}

// PatchNickname rewrites the NICKNAME field of our own vCard, fetching
// it first so the other fields survive.
func (m *Manager) PatchNickname(self handle.Handle, nickname string, cb func(err error)) {
	get := xmpp.NewIQType(uuid.New(), xmpp.GetType)
	get.AppendElement(xmpp.NewElementNamespace("vCard", vCardNamespace))

	if _, err := m.sender.SendIQWithReply(get, requestTimeout, func(reply xmpp.XElement, err error) {
		if err != nil {
			cb(err)
			return
		}
		m.storeNickname(self, nickname, reply, cb)
	}); err != nil {
		cb(err)
	}
}

func (m *Manager) storeNickname(self handle.Handle, nickname string, fetched xmpp.XElement, cb func(err error)) {
	card := xmpp.NewElementNamespace("vCard", vCardNamespace)
	if prev := fetched.Elements().ChildNamespace("vCard", vCardNamespace); prev != nil {
		for _, field := range prev.Elements().All() {
			if field.Name() != "NICKNAME" {
				card.AppendElement(field)
			}
		}
	}
	nick := xmpp.NewElementName("NICKNAME")
	nick.SetText(nickname)
	card.AppendElement(nick)

	set := xmpp.NewIQType(uuid.New(), xmpp.SetType)
	set.AppendElement(card)

	if _, err := m.sender.SendIQWithReply(set, requestTimeout, func(reply xmpp.XElement, err error) {
		if err == nil && reply.Type() == xmpp.ErrorType {
			err = xmpp.ErrNotAllowed
		}
		if err == nil {
			m.nicknames[self] = nickname
		}
		cb(err)
	}); err != nil {
		cb(err)
	}
}

func (m *Manager) fetchDone(h handle.Handle, reply xmpp.XElement, err error) {
	if err != nil {
		m.failPending(h, err)
		return
	}
	var nick string
	if card := reply.Elements().ChildNamespace("vCard", vCardNamespace); card != nil {
		if n := card.Elements().Child("NICKNAME"); n != nil {
			nick = n.Text()
		} else if fn := card.Elements().Child("FN"); fn != nil {
			nick = fn.Text()
		}
	}
	m.nicknames[h] = nick

	waiting := m.pending[h]
	delete(m.pending, h)
	for _, cb := range waiting {
		cb(nick, nil)
	}
}

func (m *Manager) failPending(h handle.Handle, err error) {
	log.Debugf("vcard: fetch for handle %d failed: %v", h, err)
	waiting := m.pending[h]
	delete(m.pending, h)
	for _, cb := range waiting {
		cb("", err)
	}
}
