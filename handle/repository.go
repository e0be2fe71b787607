/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package handle

import (
	"sync"

	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/xmpp/jid"
)

// Type enumerates the handle namespaces the repository manages.
type Type int

const (
	// NoneType is the zero handle type.
	NoneType Type = iota

	// ContactType identifies a contact handle.
	ContactType

	// RoomType identifies a chat room handle.
	RoomType

	// ListType identifies a contact list handle.
	ListType

	// GroupType identifies a contact group handle.
	GroupType
)

func (t Type) String() string {
	switch t {
	case ContactType:
		return "contact"
	case RoomType:
		return "room"
	case ListType:
		return "list"
	case GroupType:
		return "group"
	}
	return "none"
}

// IsValidType tells whether t names a handle namespace the
// repository can hand out handles for.
func IsValidType(t Type) bool {
	switch t {
	case ContactType, RoomType, ListType, GroupType:
		return true
	}
	return false
}

// Handle is a process-lifetime stable identifier for a contact,
// room, list or group. Zero is never a valid handle.
type Handle uint32

var listNames = []string{"publish", "subscribe", "known", "deny"}

type entry struct {
	id       string
	refCount int
}

// Repository allocates handles, canonicalises the identifiers behind
// them and tracks per-client holds so a vanished client releases
// everything it held.
type Repository struct {
	mu            sync.RWMutex
	contacts      map[Handle]*entry
	contactIDs    map[string]Handle
	rooms         map[Handle]*entry
	roomIDs       map[string]Handle
	verifiedRooms map[Handle]bool
	groups        map[Handle]*entry
	groupIDs      map[string]Handle
	contactSerial Handle
	roomSerial    Handle
	groupSerial   Handle
	clientHolds   map[string]map[Type]map[Handle]int
}

// New returns an empty handle repository.
func New() *Repository {
	return &Repository{
		contacts:      make(map[Handle]*entry),
		contactIDs:    make(map[string]Handle),
		rooms:         make(map[Handle]*entry),
		roomIDs:       make(map[string]Handle),
		verifiedRooms: make(map[Handle]bool),
		groups:        make(map[Handle]*entry),
		groupIDs:      make(map[string]Handle),
		clientHolds:   make(map[string]map[Type]map[Handle]int),
	}
}

// Ensure canonicalises id and returns the handle for it within the
// given type namespace, allocating one if needed.
func (r *Repository) Ensure(t Type, id string) (Handle, error) {
	switch t {
	case ContactType:
		return r.ForContact(id, false)
	case RoomType:
		return r.ForRoom(id)
	case ListType:
		return r.ForList(id)
	case GroupType:
		return r.ForGroup(id)
	}
	return 0, tperror.Newf(tperror.NotAvailable, "unhandled handle type %d", t)
}

// ForContact returns the handle for a contact JID. The JID user and
// server parts are canonicalised so differently cased spellings share
// one handle. When withResource is set the full JID, resource
// included, becomes the handle identity.
func (r *Repository) ForContact(id string, withResource bool) (Handle, error) {
	j, err := jid.NewWithString(id, false)
	if err != nil {
		return 0, tperror.Newf(tperror.InvalidHandle, "unable to parse JID %q: %v", id, err)
	}
	if len(j.Node()) == 0 {
		return 0, tperror.Newf(tperror.InvalidHandle, "JID %q has no user part", id)
	}
	if withResource && !j.IsFull() {
		return 0, tperror.Newf(tperror.InvalidHandle, "JID %q has no resource part", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if j.IsFull() {
		if h, ok := r.contactIDs[j.String()]; ok {
			return h, nil
		}
	}
	if !withResource {
		bare := j.ToBareJID().String()
		if h, ok := r.contactIDs[bare]; ok {
			return h, nil
		}
		j = j.ToBareJID()
	}
	r.contactSerial++
	h := r.contactSerial
	r.contacts[h] = &entry{id: j.String()}
	r.contactIDs[j.String()] = h
	return h, nil
}

// ForRoom returns the handle for a room JID in its canonical bare
// form. A freshly allocated room handle starts out unverified; see
// MarkRoomVerified.
func (r *Repository) ForRoom(id string) (Handle, error) {
	j, err := jid.NewWithString(id, false)
	if err != nil {
		return 0, tperror.Newf(tperror.InvalidHandle, "unable to parse JID %q: %v", id, err)
	}
	if len(j.Node()) == 0 {
		return 0, tperror.Newf(tperror.InvalidHandle, "room JID %q has no room part", id)
	}
	bare := j.ToBareJID().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.roomIDs[bare]; ok {
		return h, nil
	}
	r.roomSerial++
	h := r.roomSerial
	r.rooms[h] = &entry{id: bare}
	r.roomIDs[bare] = h
	return h, nil
}

// RoomExists tells whether a room JID already has a verified handle.
func (r *Repository) RoomExists(id string) bool {
	j, err := jid.NewWithString(id, false)
	if err != nil || len(j.Node()) == 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.roomIDs[j.ToBareJID().String()]
	return ok && r.verifiedRooms[h]
}

// MarkRoomVerified records that the room behind h has been confirmed
// to exist on a conference service.
func (r *Repository) MarkRoomVerified(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[h]; ok {
		r.verifiedRooms[h] = true
	}
}

// RoomVerified tells whether the room behind h has been verified.
func (r *Repository) RoomVerified(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verifiedRooms[h]
}

// ForList returns the fixed handle of a named contact list.
func (r *Repository) ForList(name string) (Handle, error) {
	for i, n := range listNames {
		if n == name {
			return Handle(i + 1), nil
		}
	}
	return 0, tperror.Newf(tperror.InvalidHandle, "unknown list %q", name)
}

// ForGroup returns the handle for a roster group, allocating one the
// first time the group name is seen.
func (r *Repository) ForGroup(name string) (Handle, error) {
	if len(name) == 0 {
		return 0, tperror.New(tperror.InvalidHandle, "empty group name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.groupIDs[name]; ok {
		return h, nil
	}
	r.groupSerial++
	h := r.groupSerial
	r.groups[h] = &entry{id: name}
	r.groupIDs[name] = h
	return h, nil
}

// Inspect returns the identifier behind a handle.
func (r *Repository) Inspect(t Type, h Handle) (string, error) {
	if t == ListType {
		if h >= 1 && int(h) <= len(listNames) {
			return listNames[h-1], nil
		}
		return "", tperror.Newf(tperror.InvalidHandle, "invalid list handle %d", h)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.lookup(t, h); e != nil {
		return e.id, nil
	}
	return "", tperror.Newf(tperror.InvalidHandle, "invalid %s handle %d", t, h)
}

// IsValid tells whether h is currently a live handle of type t.
func (r *Repository) IsValid(t Type, h Handle) bool {
	if t == ListType {
		return h >= 1 && int(h) <= len(listNames)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(t, h) != nil
}

// Ref takes a repository-side reference on a handle.
func (r *Repository) Ref(t Type, h Handle) bool {
	if t == ListType {
		return h >= 1 && int(h) <= len(listNames)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.lookup(t, h)
	if e == nil {
		return false
	}
	e.refCount++
	return true
}

// Unref drops a reference on a handle, removing it once the count
// reaches zero and no client holds remain.
func (r *Repository) Unref(t Type, h Handle) bool {
	if t == ListType {
		return h >= 1 && int(h) <= len(listNames)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.lookup(t, h)
	if e == nil {
		return false
	}
	if e.refCount > 0 {
		e.refCount--
	}
	if e.refCount == 0 {
		r.remove(t, h, e)
	}
	return true
}

// ClientHold records a hold on a handle on behalf of a named client.
func (r *Repository) ClientHold(client string, t Type, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t != ListType && r.lookup(t, h) == nil {
		return tperror.Newf(tperror.InvalidHandle, "invalid %s handle %d", t, h)
	}
	holds := r.clientHolds[client]
	if holds == nil {
		holds = make(map[Type]map[Handle]int)
		r.clientHolds[client] = holds
	}
	byType := holds[t]
	if byType == nil {
		byType = make(map[Handle]int)
		holds[t] = byType
	}
	byType[h]++
	if e := r.lookup(t, h); e != nil {
		e.refCount++
	}
	return nil
}

// ClientRelease drops one hold a client had on a handle.
func (r *Repository) ClientRelease(client string, t Type, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType := r.clientHolds[client][t]
	if byType == nil || byType[h] == 0 {
		return tperror.Newf(tperror.InvalidHandle, "client %s does not hold %s handle %d", client, t, h)
	}
	byType[h]--
	if byType[h] == 0 {
		delete(byType, h)
	}
	r.dropRef(t, h)
	return nil
}

// ReleaseClient releases every hold a client had. Called when a
// client disappears from the bus.
func (r *Repository) ReleaseClient(client string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, byType := range r.clientHolds[client] {
		for h, n := range byType {
			for i := 0; i < n; i++ {
				r.dropRef(t, h)
			}
		}
	}
	delete(r.clientHolds, client)
}

func (r *Repository) lookup(t Type, h Handle) *entry {
	switch t {
	case ContactType:
		return r.contacts[h]
	case RoomType:
		return r.rooms[h]
	case GroupType:
		return r.groups[h]
	}
	return nil
}

func (r *Repository) dropRef(t Type, h Handle) {
	e := r.lookup(t, h)
	if e == nil {
		return
	}
	if e.refCount > 0 {
		e.refCount--
	}
	if e.refCount == 0 {
		r.remove(t, h, e)
	}
}

func (r *Repository) remove(t Type, h Handle, e *entry) {
	switch t {
	case ContactType:
		delete(r.contacts, h)
		delete(r.contactIDs, e.id)
	case RoomType:
		delete(r.rooms, h)
		delete(r.roomIDs, e.id)
		delete(r.verifiedRooms, h)
	case GroupType:
		delete(r.groups, h)
		delete(r.groupIDs, e.id)
	}
}
