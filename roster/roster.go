/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package roster

import (
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
)

const (
	rosterNamespace       = "jabber:iq:roster"
	googleRosterNamespace = "google:roster"

	requestTimeout = 30 * time.Second
)

// IQSender is what the roster needs from the owning connection.
type IQSender interface {
	SendStanza(elem xmpp.XElement) error
	SendIQWithReply(iq *xmpp.IQ, timeout time.Duration, cb func(reply xmpp.XElement, err error)) (cancel func(), err error)
}

// Item is one roster entry.
type Item struct {
	JID          string
	Name         string
	Subscription string
	Groups       []string
}

// UpdateHandler observes roster entries as they arrive or change.
type UpdateHandler func(h handle.Handle, item Item)

// Roster mirrors the server-side contact list. Server names are an
// alias source; entries are kept per contact handle. Not safe for
// concurrent use; the owning connection serializes access.
type Roster struct {
	sender  IQSender
	handles *handle.Repository

	google   bool
	received bool
	items    map[handle.Handle]Item

	updateHandler UpdateHandler
}

func New(sender IQSender, handles *handle.Repository) *Roster {
	return &Roster{
		sender:  sender,
		handles: handles,
		items:   make(map[handle.Handle]Item),
	}
}

// SetGoogleRoster enables the google:roster extension on the next
// fetch. Only set when the server advertised it.
func (r *Roster) SetGoogleRoster(enabled bool) { r.google = enabled }

func (r *Roster) SetUpdateHandler(h UpdateHandler) { r.updateHandler = h }

// Received tells whether the initial fetch has completed.
func (r *Roster) Received() bool { return r.received }

// Item returns the roster entry for a contact handle.
func (r *Roster) Item(h handle.Handle) (Item, bool) {
	it, ok := r.items[h]
	return it, ok
}

// Name returns the server-side name of a contact, if one is set.
func (r *Roster) Name(h handle.Handle) (string, bool) {
	it, ok := r.items[h]
	if !ok || len(it.Name) == 0 {
		return "", false
	}
	return it.Name, true
}

// Fetch requests the full contact list. The handler fires per entry
// once the reply arrives.
func (r *Roster) Fetch() error {
	iq := xmpp.NewIQType(uuid.New(), xmpp.GetType)
	iq.AppendElement(r.queryElement())

	_, err := r.sender.SendIQWithReply(iq, requestTimeout, func(reply xmpp.XElement, err error) {
		if err != nil {
			log.Warnf("roster: fetch failed: %v", err)
			return
		}
		if reply.Type() == xmpp.ErrorType {
			log.Warnf("roster: fetch rejected by server")
			return
		}
		if query := reply.Elements().ChildNamespace("query", rosterNamespace); query != nil {
			r.processQuery(query)
		}
		r.received = true
	})
	return err
}

// SetName renames a contact on the server. The local entry updates
// immediately; a push confirms it.
func (r *Roster) SetName(h handle.Handle, name string) error {
	bare, err := r.handles.Inspect(handle.ContactType, h)
	if err != nil {
		return err
	}
	iq := xmpp.NewIQType(uuid.New(), xmpp.SetType)
	query := xmpp.NewElementNamespace("query", rosterNamespace)
	item := xmpp.NewElementName("item")
	item.SetAttribute("jid", bare)
	item.SetAttribute("name", name)
	query.AppendElement(item)
	iq.AppendElement(query)

	if _, err := r.sender.SendIQWithReply(iq, requestTimeout, func(reply xmpp.XElement, err error) {
		if err != nil {
			log.Warnf("roster: rename of %s failed: %v", bare, err)
		}
	}); err != nil {
		return errors.Wrap(err, "roster: sending rename")
	}

	it := r.items[h]
	it.JID = bare
	it.Name = name
	r.items[h] = it
	if r.updateHandler != nil {
		r.updateHandler(h, it)
	}
	return nil
}

// HandleIQ consumes roster pushes. It reports false for stanzas that
// belong to someone else.
func (r *Roster) HandleIQ(iq *xmpp.IQ) bool {
	if iq.Type() != xmpp.SetType {
		return false
	}
	query := iq.Elements().ChildNamespace("query", rosterNamespace)
	if query == nil {
		return false
	}
	r.processQuery(query)
	_ = r.sender.SendStanza(iq.ResultIQ())
	return true
}

func (r *Roster) processQuery(query xmpp.XElement) {
	for _, el := range query.Elements().Children("item") {
		bare := el.Attributes().Get("jid")
		if len(bare) == 0 {
			continue
		}
		j, err := jid.NewWithString(bare, false)
		if err != nil {
			log.Warnf("roster: skipping malformed jid %q", bare)
			continue
		}
		// google servers expose administrative entries that should
		// never surface as contacts
		if r.google && el.Attributes().Get("gr:t") == "H" {
			continue
		}
		h, err := r.handles.ForContact(j.ToBareJID().String(), false)
		if err != nil {
			continue
		}
		sub := el.Attributes().Get("subscription")
		if sub == "remove" {
			delete(r.items, h)
			continue
		}
		it := Item{
			JID:          j.ToBareJID().String(),
			Name:         el.Attributes().Get("name"),
			Subscription: sub,
		}
		for _, g := range el.Elements().Children("group") {
			it.Groups = append(it.Groups, g.Text())
		}
		r.items[h] = it
		if r.updateHandler != nil {
			r.updateHandler(h, it)
		}
	}
}

func (r *Roster) queryElement() *xmpp.Element {
	query := xmpp.NewElementNamespace("query", rosterNamespace)
	if r.google {
		query.SetAttribute("xmlns:gr", googleRosterNamespace)
		query.SetAttribute("gr:ext", "2")
		query.SetAttribute("gr:include", "all")
	}
	return query
}
