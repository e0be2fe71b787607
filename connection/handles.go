/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package connection

import (
	"strings"

	"github.com/gobble-im/gobble/disco"
	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/xmpp/jid"
)

// RequestHandles resolves identifiers to handles, holding them on
// behalf of the requesting client. Room names trigger server side MUC
// verification, so the reply may be deferred.
func (c *Connection) RequestHandles(client string, t handle.Type, names []string, reply func(handles []handle.Handle, err error)) {
	c.runq.Run(func() {
		switch t {
		case handle.ContactType:
			c.requestContactHandles(client, names, reply)
		case handle.RoomType:
			c.requestRoomHandles(client, names, reply)
		case handle.ListType:
			c.requestListHandles(client, names, reply)
		case handle.GroupType:
			c.requestGroupHandles(client, names, reply)
		default:
			reply(nil, tperror.Newf(tperror.InvalidArgument, "unknown handle type %d", t))
		}
	})
}

// HoldHandles adds a client hold on each handle.
func (c *Connection) HoldHandles(client string, t handle.Type, hs []handle.Handle, reply func(err error)) {
	c.runq.Run(func() {
		for _, h := range hs {
			if err := c.handles.ClientHold(client, t, h); err != nil {
				reply(err)
				return
			}
		}
		reply(nil)
	})
}

// ReleaseHandles drops a client hold from each handle.
func (c *Connection) ReleaseHandles(client string, t handle.Type, hs []handle.Handle, reply func(err error)) {
	c.runq.Run(func() {
		for _, h := range hs {
			if err := c.handles.ClientRelease(client, t, h); err != nil {
				reply(err)
				return
			}
		}
		reply(nil)
	})
}

// InspectHandles maps handles back to their identifiers.
func (c *Connection) InspectHandles(t handle.Type, hs []handle.Handle, reply func(ids []string, err error)) {
	c.runq.Run(func() {
		ids := make([]string, len(hs))
		for i, h := range hs {
			id, err := c.handles.Inspect(t, h)
			if err != nil {
				reply(nil, err)
				return
			}
			ids[i] = id
		}
		reply(ids, nil)
	})
}

func (c *Connection) requestContactHandles(client string, names []string, reply func([]handle.Handle, error)) {
	// Validate the whole batch before interning anything so a bad id
	// leaves no trace of its neighbours.
	for _, name := range names {
		if j, err := jid.NewWithString(name, false); err != nil || len(j.Node()) == 0 {
			reply(nil, tperror.Newf(tperror.InvalidArgument, "malformed contact %q", name))
			return
		}
	}
	hs := make([]handle.Handle, len(names))
	for i, name := range names {
		h, err := c.handles.ForContact(name, false)
		if err != nil {
			reply(nil, tperror.Newf(tperror.InvalidArgument, "malformed contact %q", name))
			return
		}
		hs[i] = h
	}
	c.holdAll(client, handle.ContactType, hs)
	reply(hs, nil)
}

func (c *Connection) requestListHandles(client string, names []string, reply func([]handle.Handle, error)) {
	hs := make([]handle.Handle, len(names))
	for i, name := range names {
		h, err := c.handles.ForList(name)
		if err != nil {
			reply(nil, err)
			return
		}
		hs[i] = h
	}
	c.holdAll(client, handle.ListType, hs)
	reply(hs, nil)
}

func (c *Connection) requestGroupHandles(client string, names []string, reply func([]handle.Handle, error)) {
	hs := make([]handle.Handle, len(names))
	for i, name := range names {
		h, err := c.handles.Ensure(handle.GroupType, name)
		if err != nil {
			reply(nil, err)
			return
		}
		hs[i] = h
	}
	c.holdAll(client, handle.GroupType, hs)
	reply(hs, nil)
}

func (c *Connection) holdAll(client string, t handle.Type, hs []handle.Handle) {
	for _, h := range hs {
		if err := c.handles.ClientHold(client, t, h); err != nil {
			log.Warnf("connection: holding handle %d failed: %v", h, err)
		}
	}
}

// roomVerifyBatch tracks one RequestHandles(Room, ...) call. The batch
// completes only when every entry is cached or disco resolved; the
// first failure cancels the rest.
type roomVerifyBatch struct {
	client  string
	handles []handle.Handle
	pending int
	infos   []*disco.Request
	done    bool
	reply   func([]handle.Handle, error)
}

func (b *roomVerifyBatch) fail(c *Connection, err error) {
	if b.done {
		return
	}
	b.done = true
	for _, req := range b.infos {
		req.Cancel()
	}
	b.reply(nil, err)
}

func (b *roomVerifyBatch) complete(c *Connection) {
	if b.done {
		return
	}
	b.done = true
	c.holdAll(b.client, handle.RoomType, b.handles)
	b.reply(b.handles, nil)
}

func (c *Connection) requestRoomHandles(client string, names []string, reply func([]handle.Handle, error)) {
	needsServer := false
	for _, name := range names {
		if !strings.Contains(name, "@") {
			needsServer = true
			break
		}
	}
	if needsServer && len(c.conferenceServer) == 0 {
		c.resolveConferenceServer(func(err error) {
			if err != nil {
				reply(nil, err)
				return
			}
			c.verifyRooms(client, names, reply)
		})
		return
	}
	c.verifyRooms(client, names, reply)
}

// resolveConferenceServer finds the server's conference service once,
// falling back to the configured server when the search finds none.
func (c *Connection) resolveConferenceServer(cb func(err error)) {
	serverJID, err := jid.NewWithString(c.localJID.Domain(), true)
	if err != nil {
		cb(err)
		return
	}
	c.disc.FindService(serverJID, mucNamespace, func(service *jid.JID, err error) {
		if err == nil {
			c.conferenceServer = service.Domain()
			cb(nil)
			return
		}
		if len(c.cfg.FallbackConferenceServer) > 0 {
			log.Infof("connection: conference service search failed, using fallback: %v", err)
			c.conferenceServer = c.cfg.FallbackConferenceServer
			cb(nil)
			return
		}
		cb(tperror.New(tperror.NotAvailable, "no conference server available"))
	})
}

func (c *Connection) verifyRooms(client string, names []string, reply func([]handle.Handle, error)) {
	batch := &roomVerifyBatch{
		client:  client,
		handles: make([]handle.Handle, len(names)),
		reply:   reply,
	}
	var toVerify []handle.Handle
	for i, name := range names {
		canonical := name
		if !strings.Contains(canonical, "@") {
			canonical = canonical + "@" + c.conferenceServer
		}
		roomJID, err := jid.NewWithString(canonical, false)
		if err != nil || len(roomJID.Node()) == 0 {
			reply(nil, tperror.Newf(tperror.InvalidArgument, "malformed room %q", name))
			return
		}
		h, err := c.handles.ForRoom(roomJID.ToBareJID().String())
		if err != nil {
			reply(nil, err)
			return
		}
		batch.handles[i] = h
		if !c.handles.RoomVerified(h) {
			toVerify = append(toVerify, h)
		}
	}
	if len(toVerify) == 0 {
		batch.complete(c)
		return
	}
	batch.pending = len(toVerify)
	for _, h := range toVerify {
		c.verifyRoom(batch, h)
	}
}

// verifyRoom discos the room's server (not the room itself) and marks
// the handle verified when it advertises MUC.
func (c *Connection) verifyRoom(batch *roomVerifyBatch, h handle.Handle) {
	id, err := c.handles.Inspect(handle.RoomType, h)
	if err != nil {
		batch.fail(c, err)
		return
	}
	roomJID, err := jid.NewWithString(id, true)
	if err != nil {
		batch.fail(c, err)
		return
	}
	serverJID, err := jid.NewWithString(roomJID.Domain(), true)
	if err != nil {
		batch.fail(c, err)
		return
	}
	req, err := c.disc.RequestInfo(serverJID, "", func(identities []disco.Identity, features []string, err error) {
		c.roomVerified(batch, h, identities, features, err)
	})
	if err != nil {
		batch.fail(c, err)
		return
	}
	batch.infos = append(batch.infos, req)
}

func (c *Connection) roomVerified(batch *roomVerifyBatch, h handle.Handle, identities []disco.Identity, features []string, err error) {
	if batch.done {
		return
	}
	if err != nil {
		batch.fail(c, tperror.Newf(tperror.NotAvailable, "room verification failed: %v", err))
		return
	}
	if !advertisesMUC(identities, features) {
		batch.fail(c, tperror.New(tperror.NotAvailable, "server does not support conferences"))
		return
	}
	c.handles.MarkRoomVerified(h)
	batch.pending--
	if batch.pending == 0 {
		batch.complete(c)
	}
}

func advertisesMUC(identities []disco.Identity, features []string) bool {
	for _, v := range features {
		if v == mucNamespace {
			return true
		}
	}
	for _, id := range identities {
		if id.Type == mucNamespace {
			return true
		}
	}
	return false
}
