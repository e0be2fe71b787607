/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package media

import (
	"github.com/pborman/uuid"

	"github.com/gobble-im/gobble/channel"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/presence"
	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
)

// Channel is one media call, wrapping the signalling session.
type Channel struct {
	channel.Base
	session *Session
	factory *Factory
}

func (ch *Channel) Session() *Session { return ch.session }

func (ch *Channel) Close() error {
	ch.session.Terminate(Local, ReasonRequested)
	return nil
}

// Factory creates media channels, one per Jingle or Google session.
type Factory struct {
	sig       Signaller
	engine    Engine
	handles   *handle.Repository
	presences *presence.Cache

	channels map[string]*Channel
	// sessions we already tore down; late initiates for them are
	// dropped instead of answered with an error
	endedSIDs map[string]struct{}

	newChannelHandler channel.NewChannelHandler
	errorHandler      channel.ErrorHandler
	closedHandler     channel.ClosedHandler
}

func NewFactory(sig Signaller, engine Engine, handles *handle.Repository, presences *presence.Cache) *Factory {
	return &Factory{
		sig:       sig,
		engine:    engine,
		handles:   handles,
		presences: presences,
		channels:  make(map[string]*Channel),
		endedSIDs: make(map[string]struct{}),
	}
}

func (f *Factory) SetNewChannelHandler(h channel.NewChannelHandler) { f.newChannelHandler = h }
func (f *Factory) SetErrorHandler(h channel.ErrorHandler)           { f.errorHandler = h }
func (f *Factory) SetClosedHandler(h channel.ClosedHandler)         { f.closedHandler = h }

func (f *Factory) Connecting() {}
func (f *Factory) Connected()  {}

func (f *Factory) Disconnected() { f.CloseAll() }

func (f *Factory) CloseAll() {
	for _, ch := range f.channels {
		ch.session.Terminate(Local, ReasonNone)
	}
}

func (f *Factory) Foreach(fn func(ch channel.Channel)) {
	for _, ch := range f.channels {
		fn(ch)
	}
}

// Request creates an outgoing call channel to a contact. Streams are
// added afterwards through the session.
func (f *Factory) Request(typ channel.Type, ht handle.Type, h handle.Handle, suppress bool) (channel.RequestStatus, channel.Channel, error) {
	if typ != channel.StreamedMediaType {
		return channel.RequestNotImplemented, nil, nil
	}
	if ht != handle.ContactType {
		return channel.RequestNotAvailable, nil, nil
	}
	if !f.handles.IsValid(handle.ContactType, h) {
		return channel.RequestInvalidHandle, nil, nil
	}
	ch := f.newChannel(uuid.New(), h, "", Local)
	if f.newChannelHandler != nil {
		f.newChannelHandler(ch, suppress)
	}
	return channel.RequestDone, ch, nil
}

// HandleIQ consumes Jingle and Google session IQs. It reports false
// for stanzas that belong to someone else.
func (f *Factory) HandleIQ(iq *xmpp.IQ) bool {
	if iq.Type() != xmpp.SetType {
		return false
	}
	var node xmpp.XElement
	var action string
	if node = iq.Elements().ChildNamespace("jingle", jingleNamespace); node != nil {
		action = node.Attributes().Get("action")
	} else if node = iq.Elements().ChildNamespace("session", googleSessionNamespace); node != nil {
		action = node.Attributes().Get("type")
	} else {
		return false
	}

	from := iq.Attributes().Get("from")
	if len(action) == 0 || len(from) == 0 || len(iq.ID()) == 0 {
		_ = f.sig.SendStanza(iq.BadRequestError())
		return true
	}
	sid := node.Attributes().Get("sid")
	if len(sid) == 0 {
		sid = node.Attributes().Get("id")
	}
	if len(sid) == 0 {
		_ = f.sig.SendStanza(iq.BadRequestError())
		return true
	}

	ch, exists := f.channels[sid]
	if !exists {
		if action != "initiate" && action != "session-initiate" {
			if _, ended := f.endedSIDs[sid]; ended {
				log.Debugf("media: dropping %q for finished session %s", action, sid)
				return true
			}
			_ = f.sig.SendStanza(iq.BadRequestError())
			return true
		}
		fromJID, err := jid.NewWithString(from, false)
		if err != nil {
			_ = f.sig.SendStanza(iq.BadRequestError())
			return true
		}
		peer, err := f.handles.ForContact(fromJID.ToBareJID().String(), false)
		if err != nil {
			_ = f.sig.SendStanza(iq.BadRequestError())
			return true
		}
		ch = f.newChannel(sid, peer, fromJID.Resource(), Remote)
		ch.session.HandleAction(iq, node, action)
		if ch.session.Terminated() {
			return true
		}
		if f.newChannelHandler != nil {
			f.newChannelHandler(ch, false)
		}
		return true
	}
	ch.session.HandleAction(iq, node, action)
	return true
}

func (f *Factory) newChannel(sid string, peer handle.Handle, peerResource string, initiator Initiator) *Channel {
	sess := newSession(f.sig, f.engine, f.handles, f.presences, sid, peer, peerResource, initiator)
	ch := &Channel{
		Base:    channel.NewBaseChannel(channel.StreamedMediaType, handle.ContactType, peer),
		session: sess,
		factory: f,
	}
	f.channels[sid] = ch
	f.handles.Ref(handle.ContactType, peer)
	sess.SetTerminatedHandler(func(actor handle.Handle, reason Reason) {
		f.sessionEnded(ch)
	})
	return ch
}

func (f *Factory) sessionEnded(ch *Channel) {
	sid := ch.session.ID()
	if _, ok := f.channels[sid]; !ok {
		return
	}
	delete(f.channels, sid)
	f.endedSIDs[sid] = struct{}{}
	f.handles.Unref(handle.ContactType, ch.Handle())
	if f.closedHandler != nil {
		f.closedHandler(ch)
	}
}
