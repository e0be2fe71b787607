/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package presence

import (
	"strings"

	"github.com/gobble-im/gobble/caps"
	"github.com/gobble-im/gobble/disco"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
)

// EnoughTrust is how many distinct contacts must corroborate a
// capability bundle before its cached meaning is believed without a
// fresh disco request.
const EnoughTrust = 5

// UpdateHandler is notified when a contact's availability, status
// message or nickname changes.
type UpdateHandler func(h handle.Handle)

// CapsHandler is notified when a contact's aggregate capability set
// changes.
type CapsHandler func(h handle.Handle, old, new caps.Set)

type bundleEntry struct {
	caps          caps.Set
	corroborators map[handle.Handle]struct{}
	poisoned      bool
}

func (e *bundleEntry) trust() int {
	if e.poisoned {
		return 0
	}
	return len(e.corroborators)
}

func (e *bundleEntry) corroborated(h handle.Handle) bool {
	_, ok := e.corroborators[h]
	return ok
}

type waiter struct {
	h              handle.Handle
	resource       string
	serial         uint32
	discoRequested bool
}

// Cache tracks the presence and capabilities of every contact the
// connection has heard from. It is not safe for concurrent use; the
// owning connection serializes access through its run queue.
type Cache struct {
	handles *handle.Repository
	disco   *disco.Client

	selfJID    *jid.JID
	selfHandle handle.Handle

	records map[handle.Handle]*Record
	bundles map[string]*bundleEntry
	waiters map[string][]*waiter
	serial  uint32

	updateHandler UpdateHandler
	capsHandler   CapsHandler
}

// NewCache builds a cache resolving contacts through handles and
// verifying unknown capability bundles through disc.
func NewCache(handles *handle.Repository, disc *disco.Client) *Cache {
	return &Cache{
		handles: handles,
		disco:   disc,
		records: make(map[handle.Handle]*Record),
		bundles: make(map[string]*bundleEntry),
		waiters: make(map[string][]*waiter),
	}
}

// SetSelfJID tells the cache which account it belongs to so the
// account's own reflected presence is ignored.
func (c *Cache) SetSelfJID(j *jid.JID) { c.selfJID = j }

// SetSelfHandle tells the cache which contact handle is the local
// user, whose bundle advertisements are trusted without discovery.
func (c *Cache) SetSelfHandle(h handle.Handle) { c.selfHandle = h }

// SetUpdateHandler registers the presence change callback.
func (c *Cache) SetUpdateHandler(h UpdateHandler) { c.updateHandler = h }

// SetCapsHandler registers the capability change callback.
func (c *Cache) SetCapsHandler(h CapsHandler) { c.capsHandler = h }

// Get returns the record for a handle, or nil when nothing is cached.
func (c *Cache) Get(h handle.Handle) *Record {
	return c.records[h]
}

// NextSerial returns a fresh advertisement serial. Serials order
// capability advertisements so a late disco reply cannot override
// caps learned from a newer advertisement.
func (c *Cache) NextSerial() uint32 {
	c.serial++
	return c.serial
}

// Update applies a presence report for one resource of a contact and
// fires the update callback when something observable changed. The
// record is dropped again when nothing worth keeping remains.
func (c *Cache) Update(h handle.Handle, resource string, status Status, message string, priority int8) {
	rec := c.ensureRecord(h)
	changed := rec.Update(resource, status, message, priority)
	if changed && c.updateHandler != nil {
		c.updateHandler(h)
	}
	c.maybeRemove(h)
}

// SetCapabilities stores a capability set for one resource of a
// contact, firing the caps callback on aggregate change. Used for the
// local user, whose capabilities are known rather than discovered.
func (c *Cache) SetCapabilities(h handle.Handle, resource string, set caps.Set, serial uint32) {
	c.applyCaps(h, resource, set, serial)
}

// ReplaceCapabilities overwrites the capability set of one resource,
// firing the caps callback on aggregate change. Merging would never
// let a retracted advertisement take effect.
func (c *Cache) ReplaceCapabilities(h handle.Handle, resource string, set caps.Set, serial uint32) {
	rec := c.ensureRecord(h)
	old := rec.Caps()
	rec.ReplaceCapabilities(resource, set, serial)
	if next := rec.Caps(); next != old && c.capsHandler != nil {
		c.capsHandler(h, old, next)
	}
}

// SetKeepUnavailable pins or unpins a contact's record so an open
// conversation keeps its shell record alive across sign-off.
func (c *Cache) SetKeepUnavailable(h handle.Handle, keep bool) {
	if keep {
		c.ensureRecord(h).keepUnavailable = true
		return
	}
	if rec := c.records[h]; rec != nil {
		rec.keepUnavailable = false
		c.maybeRemove(h)
	}
}

// ParsePresence digests an inbound presence stanza.
func (c *Cache) ParsePresence(pr *xmpp.Presence) {
	from := pr.FromJID()
	if from == nil || len(from.Domain()) == 0 {
		return
	}
	// Our own reflected presence carries nothing new. Other resources
	// of the account are processed like any contact.
	if c.selfJID != nil && from.Matches(c.selfJID, jid.MatchesFull) {
		return
	}
	h, err := c.handles.ForContact(from.ToBareJID().String(), false)
	if err != nil {
		log.Infof("presence: dropping stanza from unparseable sender %s", from)
		return
	}

	status, ok := statusFromPresence(pr)
	if !ok {
		return
	}
	rec := c.ensureRecord(h)
	changed := rec.Update(from.Resource(), status, pr.Status(), pr.Priority())

	if nick := pr.Nickname(); len(nick) > 0 {
		changed = rec.SetNickname(nick) || changed
	}
	if changed && c.updateHandler != nil {
		c.updateHandler(h)
	}
	if advert := pr.Capabilities(); advert != nil && status != Offline {
		c.processCaps(h, from.Resource(), advert)
	}
	c.maybeRemove(h)
}

// ParseMessage digests an inbound message stanza. A chat message from
// an unknown contact creates a shell record pinned across sign-off so
// replies can be routed to the sending resource.
func (c *Cache) ParseMessage(m *xmpp.Message) {
	from := m.FromJID()
	if from == nil || len(from.Domain()) == 0 || !m.IsChat() {
		return
	}
	h, err := c.handles.ForContact(from.ToBareJID().String(), false)
	if err != nil {
		return
	}
	rec := c.ensureRecord(h)
	rec.keepUnavailable = true

	changed := false
	if nick := m.Nickname(); len(nick) > 0 {
		changed = rec.SetNickname(nick)
	}
	if changed && c.updateHandler != nil {
		c.updateHandler(h)
	}
	if advert := m.Capabilities(); advert != nil {
		c.processCaps(h, from.Resource(), advert)
	}
}

func (c *Cache) ensureRecord(h handle.Handle) *Record {
	rec := c.records[h]
	if rec == nil {
		rec = newRecord()
		c.records[h] = rec
		c.handles.Ref(handle.ContactType, h)
	}
	return rec
}

func (c *Cache) maybeRemove(h handle.Handle) {
	rec := c.records[h]
	if rec == nil || !rec.removable() {
		return
	}
	delete(c.records, h)
	c.handles.Unref(handle.ContactType, h)
}

func statusFromPresence(pr *xmpp.Presence) (Status, bool) {
	switch pr.Type() {
	case xmpp.UnavailableType, xmpp.ErrorType:
		return Offline, true
	case xmpp.AvailableType:
	default:
		return Offline, false
	}
	switch pr.ShowState() {
	case xmpp.AwayShowState:
		return Away, true
	case xmpp.ChatShowState:
		return Chat, true
	case xmpp.DoNotDisturbShowState:
		return DoNotDisturb, true
	case xmpp.ExtendedAwaysShowState:
		return ExtendedAway, true
	}
	return Available, true
}

// processCaps runs the trust algorithm over every bundle URI of a
// capability advertisement. Trusted bundles apply immediately; the
// rest wait for corroborating disco replies.
func (c *Cache) processCaps(h handle.Handle, resource string, advert *xmpp.Capabilities) {
	serial := c.NextSerial()
	for _, uri := range advert.Bundles() {
		if c.selfHandle != 0 && h == c.selfHandle {
			if set, ok := localBundleCaps(uri); ok {
				c.applyCaps(h, resource, set, serial)
			}
			continue
		}
		e, found := c.bundles[uri]
		if found && e.trust() >= EnoughTrust {
			c.applyCaps(h, resource, e.caps, serial)
			continue
		}

		w := &waiter{h: h, resource: resource, serial: serial}
		c.waiters[uri] = append(c.waiters[uri], w)

		trust := 0
		if found {
			trust = e.trust()
		}
		possible := trust
		for _, pw := range c.waiters[uri] {
			if pw.discoRequested {
				possible++
			}
		}
		if !found || trust+possible < EnoughTrust {
			w.discoRequested = true
			c.requestDisco(uri, w)
		}
	}
}

// localBundleCaps resolves a bundle URI against our own feature
// table. Only bundles published under our caps node resolve.
func localBundleCaps(uri string) (caps.Set, bool) {
	i := strings.LastIndexByte(uri, '#')
	if i < 0 || uri[:i] != caps.Node {
		return caps.None, false
	}
	return caps.ForBundle(uri[i+1:])
}

func (c *Cache) requestDisco(uri string, w *waiter) {
	bare, err := c.handles.Inspect(handle.ContactType, w.h)
	if err != nil {
		log.Warnf("presence: cannot inspect handle %d for disco: %v", w.h, err)
		c.discoFailed(uri, w)
		return
	}
	j, err := jid.NewWithString(bare, true)
	if err != nil {
		c.discoFailed(uri, w)
		return
	}
	if len(w.resource) > 0 {
		j = j.WithResource(w.resource)
	}
	_, err = c.disco.RequestInfo(j, uri, func(_ []disco.Identity, features []string, err error) {
		if err != nil {
			log.Infof("presence: disco on %s for %s failed: %v", j, uri, err)
			c.discoFailed(uri, w)
			return
		}
		c.discoSucceeded(uri, w.h, caps.FromFeatureVars(features))
	})
	if err != nil {
		c.discoFailed(uri, w)
	}
}

// discoFailed drops the failed waiter and retries against another
// waiter not yet asked, or abandons the bundle when nobody is left.
func (c *Cache) discoFailed(uri string, failed *waiter) {
	ws := c.waiters[uri]
	kept := ws[:0]
	for _, w := range ws {
		if w != failed {
			kept = append(kept, w)
		}
	}
	for _, w := range kept {
		if !w.discoRequested {
			c.waiters[uri] = kept
			w.discoRequested = true
			c.requestDisco(uri, w)
			return
		}
	}
	if len(kept) == 0 {
		delete(c.waiters, uri)
		return
	}
	c.waiters[uri] = kept
}

// discoSucceeded folds a disco reply into the bundle entry, then
// drains waiters that the new trust level unblocks. A reply
// disagreeing with the cached meaning poisons the bundle so it is
// always re-verified per contact.
func (c *Cache) discoSucceeded(uri string, from handle.Handle, set caps.Set) {
	e, found := c.bundles[uri]
	switch {
	case !found:
		e = &bundleEntry{caps: set, corroborators: map[handle.Handle]struct{}{from: {}}}
		c.bundles[uri] = e
	case e.poisoned:
	case e.caps != set:
		log.Infof("presence: conflicting meanings for bundle %s, poisoning", uri)
		e.poisoned = true
		e.corroborators = nil
	default:
		e.corroborators[from] = struct{}{}
	}

	ws := c.waiters[uri]
	kept := ws[:0]
	for _, w := range ws {
		// A reply is authoritative for its own sender, and any waiter
		// who already corroborated the cached meaning can take it as
		// is, whatever the bundle's trust level.
		if w.h == from {
			c.applyCaps(w.h, w.resource, set, w.serial)
			continue
		}
		if e.corroborated(w.h) {
			c.applyCaps(w.h, w.resource, e.caps, w.serial)
			continue
		}
		if e.trust() >= EnoughTrust {
			c.applyCaps(w.h, w.resource, e.caps, w.serial)
			continue
		}
		if e.trust() == 0 && !w.discoRequested {
			w.discoRequested = true
			c.requestDisco(uri, w)
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 || e.trust() >= EnoughTrust {
		delete(c.waiters, uri)
		return
	}
	c.waiters[uri] = kept
}

func (c *Cache) applyCaps(h handle.Handle, resource string, set caps.Set, serial uint32) {
	rec := c.ensureRecord(h)
	old := rec.Caps()
	rec.SetCapabilities(resource, set, serial)
	if next := rec.Caps(); next != old && c.capsHandler != nil {
		c.capsHandler(h, old, next)
	}
}
