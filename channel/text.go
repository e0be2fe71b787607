/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package channel

import (
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/xmpp"
)

// StanzaSender lets a factory hand outgoing stanzas to the stream.
type StanzaSender interface {
	SendStanza(elem xmpp.XElement) error
}

// ReceivedMessage is one inbound message pending acknowledgement on a
// text channel.
type ReceivedMessage struct {
	ID        uint32
	Timestamp time.Time
	Sender    handle.Handle
	Text      string
}

// TextChannel is a one-to-one conversation with a contact.
type TextChannel struct {
	Base

	factory *TextFactory
	peer    string
	nextID  uint32
	pending []ReceivedMessage
}

// Send delivers a chat message to the channel's contact.
func (c *TextChannel) Send(text string) error {
	el := xmpp.NewElementName("message")
	el.SetID(uuid.New())
	el.SetType(xmpp.ChatType)
	el.SetTo(c.peer)
	body := xmpp.NewElementName("body")
	body.SetText(text)
	el.AppendElement(body)
	if err := c.factory.sender.SendStanza(el); err != nil {
		return errors.Wrap(err, "sending message")
	}
	return nil
}

// PendingMessages returns the inbound messages not yet acknowledged.
func (c *TextChannel) PendingMessages() []ReceivedMessage {
	out := make([]ReceivedMessage, len(c.pending))
	copy(out, c.pending)
	return out
}

// AcknowledgeMessages drops acknowledged messages from the pending
// queue.
func (c *TextChannel) AcknowledgeMessages(ids []uint32) {
	ack := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		ack[id] = true
	}
	kept := c.pending[:0]
	for _, m := range c.pending {
		if !ack[m.ID] {
			kept = append(kept, m)
		}
	}
	c.pending = kept
}

// Close removes the channel from its factory.
func (c *TextChannel) Close() error {
	c.factory.remove(c)
	return nil
}

func (c *TextChannel) deliver(sender handle.Handle, text string) {
	c.nextID++
	c.pending = append(c.pending, ReceivedMessage{
		ID:        c.nextID,
		Timestamp: time.Now(),
		Sender:    sender,
		Text:      text,
	})
}

// TextFactory produces one text channel per contact handle.
type TextFactory struct {
	handles *handle.Repository
	sender  StanzaSender

	channels map[handle.Handle]*TextChannel

	newChannelHandler NewChannelHandler
	errorHandler      ErrorHandler
	closedHandler     ClosedHandler
}

// NewTextFactory builds a text channel factory sending through sender.
func NewTextFactory(handles *handle.Repository, sender StanzaSender) *TextFactory {
	return &TextFactory{
		handles:  handles,
		sender:   sender,
		channels: make(map[handle.Handle]*TextChannel),
	}
}

// SetNewChannelHandler registers the new-channel callback.
func (f *TextFactory) SetNewChannelHandler(h NewChannelHandler) { f.newChannelHandler = h }

// SetErrorHandler registers the channel-error callback.
func (f *TextFactory) SetErrorHandler(h ErrorHandler) { f.errorHandler = h }

// SetClosedHandler registers the channel-closed callback.
func (f *TextFactory) SetClosedHandler(h ClosedHandler) { f.closedHandler = h }

func (f *TextFactory) Connecting() {}

func (f *TextFactory) Connected() {}

func (f *TextFactory) Disconnected() { f.CloseAll() }

// CloseAll drops every channel the factory owns.
func (f *TextFactory) CloseAll() {
	for h, ch := range f.channels {
		delete(f.channels, h)
		f.handles.Unref(handle.ContactType, h)
		if f.closedHandler != nil {
			f.closedHandler(ch)
		}
	}
}

// Foreach visits every live channel.
func (f *TextFactory) Foreach(fn func(ch Channel)) {
	for _, ch := range f.channels {
		fn(ch)
	}
}

// Request produces the text channel for a contact, creating it on
// first use.
func (f *TextFactory) Request(typ Type, ht handle.Type, h handle.Handle, suppress bool) (RequestStatus, Channel, error) {
	if typ != TextType {
		return RequestNotImplemented, nil, nil
	}
	if ht != handle.ContactType {
		return RequestNotAvailable, nil, nil
	}
	if !f.handles.IsValid(handle.ContactType, h) {
		return RequestInvalidHandle, nil, nil
	}
	if ch := f.channels[h]; ch != nil {
		return RequestDone, ch, nil
	}
	ch, err := f.create(h, suppress)
	if err != nil {
		return RequestError, nil, err
	}
	return RequestDone, ch, nil
}

// ReceiveMessage routes an inbound chat message onto the peer's text
// channel, creating the channel when the contact has none yet.
func (f *TextFactory) ReceiveMessage(m *xmpp.Message) {
	from := m.FromJID()
	if from == nil || len(from.Domain()) == 0 || !m.IsChat() {
		return
	}
	body := m.Body()
	if len(body) == 0 {
		return
	}
	h, err := f.handles.ForContact(from.ToBareJID().String(), false)
	if err != nil {
		return
	}
	ch := f.channels[h]
	if ch == nil {
		ch, err = f.create(h, false)
		if err != nil {
			return
		}
	}
	ch.deliver(h, body)
}

func (f *TextFactory) create(h handle.Handle, suppress bool) (*TextChannel, error) {
	peer, err := f.handles.Inspect(handle.ContactType, h)
	if err != nil {
		return nil, err
	}
	ch := &TextChannel{
		Base:    NewBaseChannel(TextType, handle.ContactType, h),
		factory: f,
		peer:    peer,
	}
	f.channels[h] = ch
	f.handles.Ref(handle.ContactType, h)
	if f.newChannelHandler != nil {
		f.newChannelHandler(ch, suppress)
	}
	return ch, nil
}

func (f *TextFactory) remove(ch *TextChannel) {
	if f.channels[ch.Handle()] != ch {
		return
	}
	delete(f.channels, ch.Handle())
	f.handles.Unref(handle.ContactType, ch.Handle())
	if f.closedHandler != nil {
		f.closedHandler(ch)
	}
}
