/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package connection

import (
	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/presence"
)

// MaximumStatusMessageLength bounds SetStatus messages.
const MaximumStatusMessageLength = 512

// StatusSpec describes one entry of the published status table.
type StatusSpec struct {
	Status     presence.Status
	MaySetSelf bool
	Exclusive  bool
}

var statusTable = map[string]StatusSpec{
	"available": {presence.Available, true, true},
	"chat":      {presence.Chat, true, true},
	"away":      {presence.Away, true, true},
	"xa":        {presence.ExtendedAway, true, true},
	"dnd":       {presence.DoNotDisturb, true, true},
	"hidden":    {presence.Hidden, true, true},
	"offline":   {presence.Offline, false, true},
}

// GetStatuses returns the statuses this connection understands.
func (c *Connection) GetStatuses() map[string]StatusSpec { return statusTable }

// SetStatus publishes a new self presence. The identifier must name a
// settable entry of the status table; statuses are exclusive, so the
// new one replaces whatever was set before.
func (c *Connection) SetStatus(identifier, message string, priority int16, reply func(err error)) {
	c.runq.Run(func() {
		spec, ok := statusTable[identifier]
		if !ok {
			reply(tperror.Newf(tperror.InvalidArgument, "unknown status %q", identifier))
			return
		}
		if !spec.MaySetSelf {
			reply(tperror.Newf(tperror.InvalidArgument, "status %q cannot be set on yourself", identifier))
			return
		}
		if len(message) > MaximumStatusMessageLength {
			reply(tperror.Newf(tperror.InvalidArgument, "status message exceeds %d characters", MaximumStatusMessageLength))
			return
		}
		if priority < -128 || priority > 127 {
			reply(tperror.Newf(tperror.InvalidArgument, "priority %d out of range", priority))
			return
		}
		c.selfStatus = spec.Status
		c.selfMessage = message
		c.selfPriority = int8(priority)
		c.presences.Update(c.selfHandle, c.cfg.Resource, spec.Status, message, int8(priority))
		if c.state == StatusConnected && !c.signalOwnPresence() {
			reply(tperror.New(tperror.NetworkError, "presence update failed"))
			c.setStatus(StatusDisconnected, ReasonNetworkError)
			return
		}
		reply(nil)
	})
}
