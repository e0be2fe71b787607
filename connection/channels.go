/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package connection

import (
	"github.com/gobble-im/gobble/channel"
	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
)

// ChannelInfo describes one live channel for ListChannels.
type ChannelInfo struct {
	ObjectPath string
	Type       channel.Type
	HandleType handle.Type
	Handle     handle.Handle
}

// RequestChannel walks the factories in construction order until one
// produces or queues a channel. The reply receives the object path
// once the channel exists.
func (c *Connection) RequestChannel(typ channel.Type, ht handle.Type, h handle.Handle, suppress bool, reply func(objectPath string, err error)) {
	c.runq.Run(func() {
		if c.state == StatusDisconnected || c.state == StatusNew {
			reply("", tperror.New(tperror.Disconnected, "connection is not up"))
			return
		}
		best := channel.RequestNotImplemented
		for _, f := range c.factories {
			status, ch, err := f.Request(typ, ht, h, suppress)
			switch status {
			case channel.RequestDone:
				reply(ch.ObjectPath(), nil)
				return
			case channel.RequestQueued:
				c.queuedRequests = append(c.queuedRequests, &channel.Request{
					Type:       typ,
					HandleType: ht,
					Handle:     h,
					Suppress:   suppress,
					Reply:      reply,
				})
				return
			case channel.RequestError:
				reply("", err)
				return
			default:
				if requestStatusRank(status) > requestStatusRank(best) {
					best = status
				}
			}
		}
		reply("", requestStatusError(best))
	})
}

// requestStatusRank orders failure statuses by specificity for the
// final error when no factory takes the request.
func requestStatusRank(s channel.RequestStatus) int {
	switch s {
	case channel.RequestInvalidHandle:
		return 3
	case channel.RequestNotAvailable:
		return 2
	}
	return 1
}

func requestStatusError(s channel.RequestStatus) error {
	switch s {
	case channel.RequestInvalidHandle:
		return tperror.New(tperror.InvalidHandle, "unknown handle")
	case channel.RequestNotAvailable:
		return tperror.New(tperror.NotAvailable, "no factory can produce this channel now")
	}
	return tperror.New(tperror.NotImplemented, "unsupported channel type")
}

// ListChannels reports every channel currently alive on any factory.
func (c *Connection) ListChannels(reply func(channels []ChannelInfo)) {
	c.runq.Run(func() {
		var out []ChannelInfo
		for _, f := range c.factories {
			f.Foreach(func(ch channel.Channel) {
				out = append(out, ChannelInfo{
					ObjectPath: ch.ObjectPath(),
					Type:       ch.Type(),
					HandleType: ch.HandleType(),
					Handle:     ch.Handle(),
				})
			})
		}
		reply(out)
	})
}

func (c *Connection) channelAnnounced(ch channel.Channel, suppress bool) {
	var matched []*channel.Request
	kept := c.queuedRequests[:0]
	for _, req := range c.queuedRequests {
		if req.Matches(ch) {
			matched = append(matched, req)
			if req.Suppress {
				suppress = true
			}
		} else {
			kept = append(kept, req)
		}
	}
	c.queuedRequests = kept

	if c.newChannelHandler != nil {
		c.newChannelHandler(ch.ObjectPath(), ch.Type(), ch.HandleType(), ch.Handle(), suppress)
	}
	for _, req := range matched {
		req.Reply(ch.ObjectPath(), nil)
	}
}

func (c *Connection) channelFailed(ch channel.Channel, err error) {
	kept := c.queuedRequests[:0]
	for _, req := range c.queuedRequests {
		if req.Matches(ch) {
			req.Reply("", err)
		} else {
			kept = append(kept, req)
		}
	}
	c.queuedRequests = kept
}

func (c *Connection) channelClosed(ch channel.Channel) {
	log.Debugf("connection: channel %s closed", ch.ObjectPath())
}

func (c *Connection) rejectQueuedRequests() {
	queued := c.queuedRequests
	c.queuedRequests = nil
	for _, req := range queued {
		req.Reply("", tperror.New(tperror.Disconnected, "connection closed"))
	}
}
