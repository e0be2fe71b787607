/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package channel

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gobble-im/gobble/handle"
)

// Type names a channel flavour on the external object model.
type Type string

const (
	// TextType is a one-to-one or room text conversation.
	TextType Type = "im.gobble.Channel.Type.Text"

	// StreamedMediaType is an audio/video call.
	StreamedMediaType Type = "im.gobble.Channel.Type.StreamedMedia"

	// RoomListType is a room directory listing.
	RoomListType Type = "im.gobble.Channel.Type.RoomList"
)

// RequestStatus is a factory's verdict on a channel request.
type RequestStatus int

const (
	// RequestDone means the factory produced the channel synchronously.
	RequestDone RequestStatus = iota

	// RequestQueued means the channel will arrive later through the
	// factory's new-channel signal.
	RequestQueued

	// RequestInvalidHandle means the handle does not name anything the
	// factory could build a channel to.
	RequestInvalidHandle

	// RequestNotAvailable means the factory handles the channel type
	// but not with these parameters.
	RequestNotAvailable

	// RequestNotImplemented means the factory does not handle the
	// channel type at all.
	RequestNotImplemented

	// RequestError means the factory failed outright; the error value
	// carries the cause.
	RequestError
)

// Channel is the common surface of every produced channel.
type Channel interface {
	ObjectPath() string
	Type() Type
	HandleType() handle.Type
	Handle() handle.Handle
	Close() error
}

// NewChannelHandler is fired when a factory produces a channel. The
// suppress flag tells local observers the requester handles the
// channel itself.
type NewChannelHandler func(ch Channel, suppress bool)

// ErrorHandler is fired when a channel a factory promised cannot be
// produced after all.
type ErrorHandler func(ch Channel, err error)

// ClosedHandler is fired when a produced channel goes away.
type ClosedHandler func(ch Channel)

// Factory produces and owns channels of one or more types. The owning
// connection drives the lifecycle hooks from its run queue and walks
// factories in construction order when dispatching requests.
type Factory interface {
	Connecting()
	Connected()
	Disconnected()
	CloseAll()
	Foreach(fn func(ch Channel))
	Request(typ Type, ht handle.Type, h handle.Handle, suppress bool) (RequestStatus, Channel, error)

	SetNewChannelHandler(h NewChannelHandler)
	SetErrorHandler(h ErrorHandler)
	SetClosedHandler(h ClosedHandler)
}

// Request is an in-flight queued channel request, stored by the
// connection until completed, errored or cancelled.
type Request struct {
	Type       Type
	HandleType handle.Type
	Handle     handle.Handle
	Suppress   bool
	Reply      func(objectPath string, err error)
}

// Matches tells whether a produced channel satisfies the request.
func (r *Request) Matches(ch Channel) bool {
	return r.Type == ch.Type() && r.HandleType == ch.HandleType() && r.Handle == ch.Handle()
}

// Base carries the identifying fields common to every channel
// implementation, meant for embedding.
type Base struct {
	objectPath string
	typ        Type
	handleType handle.Type
	handle     handle.Handle
}

// NewBaseChannel mints a channel identity with a fresh object path.
func NewBaseChannel(typ Type, ht handle.Type, h handle.Handle) Base {
	kind := string(typ)
	if i := strings.LastIndexByte(kind, '.'); i >= 0 {
		kind = kind[i+1:]
	}
	return Base{
		objectPath: fmt.Sprintf("/im/gobble/channel/%s/%s", strings.ToLower(kind), uuid.New().String()),
		typ:        typ,
		handleType: ht,
		handle:     h,
	}
}

func (c *Base) ObjectPath() string      { return c.objectPath }
func (c *Base) Type() Type              { return c.typ }
func (c *Base) HandleType() handle.Type { return c.handleType }
func (c *Base) Handle() handle.Handle   { return c.handle }
