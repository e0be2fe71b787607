/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package connection

import (
	"github.com/gobble-im/gobble/caps"
	"github.com/gobble-im/gobble/channel"
	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/handle"
)

// Generic channel capability flags.
const (
	CapCreate = 1 << iota
	CapInvite
)

// Type specific capability flags for streamed media channels.
const (
	MediaCapAudio = 1 << iota
	MediaCapVideo
)

// CapabilityInfo is one row of a contact's capability table.
type CapabilityInfo struct {
	Handle       handle.Handle
	ChannelType  channel.Type
	GenericFlags int
	TypeFlags    int
}

// mediaCaps is every capability bit a streamed media advertisement
// toggles.
const mediaCaps = caps.GoogleVoice | caps.GoogleTransportP2P |
	caps.Jingle | caps.JingleAudio | caps.JingleVideo

// AdvertiseCapabilities adjusts which channel types we advertise to
// other contacts, re-announcing presence when the set changed.
func (c *Connection) AdvertiseCapabilities(add, remove []channel.Type, reply func(err error)) {
	c.runq.Run(func() {
		next := c.selfCaps
		for _, typ := range add {
			mask, err := capsForChannelType(typ)
			if err != nil {
				reply(err)
				return
			}
			next |= mask
		}
		for _, typ := range remove {
			mask, err := capsForChannelType(typ)
			if err != nil {
				reply(err)
				return
			}
			next &^= mask
		}
		// Base features are not negotiable.
		next |= caps.Initial()
		changed := next != c.selfCaps
		c.selfCaps = next
		c.presences.ReplaceCapabilities(c.selfHandle, c.cfg.Resource, next, c.presences.NextSerial())
		if !changed {
			reply(nil)
			return
		}
		if c.state == StatusConnected && !c.signalOwnPresence() {
			reply(tperror.New(tperror.NetworkError, "presence update failed"))
			c.setStatus(StatusDisconnected, ReasonNetworkError)
			return
		}
		reply(nil)
	})
}

func capsForChannelType(typ channel.Type) (caps.Set, error) {
	switch typ {
	case channel.StreamedMediaType:
		return mediaCaps, nil
	case channel.TextType:
		// Text is always on; advertising it is a no-op.
		return caps.None, nil
	}
	return caps.None, tperror.Newf(tperror.InvalidArgument, "unknown channel type %q", typ)
}

// GetCapabilities reports the channel types each handle can take part
// in. Text is assumed for everyone; media rows come from the presence
// cache.
func (c *Connection) GetCapabilities(hs []handle.Handle, reply func(rows []CapabilityInfo, err error)) {
	c.runq.Run(func() {
		var rows []CapabilityInfo
		for _, h := range hs {
			if !c.handles.IsValid(handle.ContactType, h) {
				reply(nil, tperror.Newf(tperror.InvalidHandle, "invalid contact handle %d", h))
				return
			}
			rows = append(rows, CapabilityInfo{
				Handle:       h,
				ChannelType:  channel.TextType,
				GenericFlags: CapCreate,
			})
			set := caps.None
			if h == c.selfHandle {
				set = c.selfCaps
			} else if rec := c.presences.Get(h); rec != nil {
				set = rec.Caps()
			}
			typeFlags := 0
			if set.Has(caps.GoogleVoice) || set.Has(caps.Jingle|caps.JingleAudio) {
				typeFlags |= MediaCapAudio
			}
			if set.Has(caps.Jingle | caps.JingleVideo) {
				typeFlags |= MediaCapVideo
			}
			if typeFlags != 0 {
				rows = append(rows, CapabilityInfo{
					Handle:       h,
					ChannelType:  channel.StreamedMediaType,
					GenericFlags: CapCreate | CapInvite,
					TypeFlags:    typeFlags,
				})
			}
		}
		reply(rows, nil)
	})
}
