/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package connection

import (
	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/xmpp/jid"
)

// AliasFlagUserSet indicates aliases may be set by the user.
const AliasFlagUserSet = 1

// aliasSource ranks where an alias came from. A later source is more
// authoritative; updates from a strictly lower source are ignored.
type aliasSource int

const (
	aliasSourceNone aliasSource = iota
	aliasSourceJID
	aliasSourceResource
	aliasSourceVCard
	aliasSourcePresence
	aliasSourceRoster
	aliasSourceConnMgr
)

// AliasChange is a single handle/alias pair in an aliases-changed
// notification.
type AliasChange struct {
	Handle handle.Handle
	Alias  string
}

// AliasesChangedHandler is notified when contact aliases improve.
type AliasesChangedHandler func(changes []AliasChange)

// GetAliasFlags reports the aliasing capabilities of this protocol.
func (c *Connection) GetAliasFlags() int { return AliasFlagUserSet }

// aliasFor returns the best alias currently known for a handle along
// with its source.
func (c *Connection) aliasFor(h handle.Handle) (string, aliasSource) {
	if h == c.selfHandle && len(c.cfg.Alias) > 0 {
		return c.cfg.Alias, aliasSourceConnMgr
	}
	if name, ok := c.roster.Name(h); ok && len(name) > 0 {
		return name, aliasSourceRoster
	}
	if rec := c.presences.Get(h); rec != nil {
		if nick := rec.Nickname(); len(nick) > 0 {
			return nick, aliasSourcePresence
		}
	}
	if nick, ok := c.vcards.Nickname(h); ok && len(nick) > 0 {
		return nick, aliasSourceVCard
	}
	id, err := c.handles.Inspect(handle.ContactType, h)
	if err != nil {
		return "", aliasSourceNone
	}
	if j, err := jid.NewWithString(id, true); err == nil {
		// a full JID identity is a room member, whose resource is the
		// member's nickname
		if res := j.Resource(); len(res) > 0 {
			return res, aliasSourceResource
		}
		if len(j.Node()) > 0 {
			return j.Node(), aliasSourceJID
		}
	}
	return id, aliasSourceJID
}

// RequestAliases resolves aliases for the given contact handles.
// Handles whose best known alias is weaker than a vCard nickname get a
// vCard fetch first; the reply fires once every fetch settles.
func (c *Connection) RequestAliases(hs []handle.Handle, reply func(aliases []string, err error)) {
	c.runq.Run(func() {
		aliases := make([]string, len(hs))
		pending := 1
		done := func() {
			pending--
			if pending == 0 {
				reply(aliases, nil)
			}
		}
		for i, h := range hs {
			if !c.handles.IsValid(handle.ContactType, h) {
				reply(nil, tperror.Newf(tperror.InvalidHandle, "invalid contact handle %d", h))
				return
			}
			alias, source := c.aliasFor(h)
			aliases[i] = alias
			if source >= aliasSourceVCard {
				continue
			}
			idx, hh := i, h
			pending++
			c.vcards.RequestNickname(hh, func(nickname string, err error) {
				if err != nil {
					log.Debugf("connection: vcard fetch for handle %d failed: %v", hh, err)
				} else if len(nickname) > 0 {
					aliases[idx] = nickname
					c.noteAlias(hh, nickname, aliasSourceVCard)
				}
				done()
			})
		}
		done()
	})
}

// SetAliases stores user chosen aliases on the roster. Renaming
// ourselves additionally patches the vCard nickname so other clients
// pick it up.
func (c *Connection) SetAliases(aliases map[handle.Handle]string, reply func(err error)) {
	c.runq.Run(func() {
		pending := 1
		var failure error
		done := func() {
			pending--
			if pending == 0 {
				reply(failure)
			}
		}
		for h, alias := range aliases {
			if err := c.roster.SetName(h, alias); err != nil {
				reply(err)
				return
			}
			c.noteAlias(h, alias, aliasSourceRoster)
			if h == c.selfHandle {
				pending++
				c.vcards.PatchNickname(h, alias, func(err error) {
					if err != nil {
						failure = err
					}
					done()
				})
			}
		}
		done()
	})
}

// noteAlias records a freshly learned alias and notifies listeners if
// it beats what we already knew.
func (c *Connection) noteAlias(h handle.Handle, alias string, source aliasSource) {
	if len(alias) == 0 {
		return
	}
	if source < c.aliasSources[h] {
		return
	}
	c.aliasSources[h] = source
	if c.aliasesHandler != nil {
		c.aliasesHandler([]AliasChange{{Handle: h, Alias: alias}})
	}
}
