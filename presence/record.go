/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package presence

import (
	"github.com/gobble-im/gobble/caps"
)

// Status enumerates contact availability, ordered by increasing
// availability.
type Status int

const (
	// Offline means no resource of the contact is connected.
	Offline Status = iota

	// Hidden means connected but invisible. Only ever used for the
	// local user.
	Hidden

	// ExtendedAway maps to the 'xa' show value.
	ExtendedAway

	// Away maps to the 'away' show value.
	Away

	// DoNotDisturb maps to the 'dnd' show value.
	DoNotDisturb

	// Available is the plain available state.
	Available

	// Chat maps to the 'chat' show value.
	Chat
)

func (s Status) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case ExtendedAway:
		return "xa"
	case Away:
		return "away"
	case DoNotDisturb:
		return "dnd"
	case Available:
		return "available"
	case Chat:
		return "chat"
	}
	return "offline"
}

type resource struct {
	name       string
	status     Status
	message    string
	priority   int8
	caps       caps.Set
	capsSerial uint32
	seq        uint64
}

// Record carries everything the cache knows about one contact.
type Record struct {
	resources       map[string]*resource
	offlineMessage  string
	nickname        string
	keepUnavailable bool
	seq             uint64
}

func newRecord() *Record {
	return &Record{resources: make(map[string]*resource)}
}

// Update applies a presence report for one resource and tells whether
// anything observable changed. An Offline report removes the
// resource; its status message is retained at record level so a
// parting message survives the last resource.
func (rec *Record) Update(name string, status Status, message string, priority int8) bool {
	prevStatus := rec.Status()
	prevMessage := rec.StatusMessage()

	if status == Offline {
		delete(rec.resources, name)
		rec.offlineMessage = message
	} else {
		res := rec.resources[name]
		if res == nil {
			res = &resource{name: name}
			rec.resources[name] = res
		}
		res.status = status
		res.message = message
		res.priority = priority
		rec.seq++
		res.seq = rec.seq
		rec.offlineMessage = ""
	}
	return rec.Status() != prevStatus || rec.StatusMessage() != prevMessage
}

// SetCapabilities merges a learned capability set into one resource,
// guarded by the advertisement serial so a late disco reply cannot
// clobber caps learned from a newer advertisement.
func (rec *Record) SetCapabilities(name string, set caps.Set, serial uint32) {
	res := rec.resources[name]
	if res == nil {
		res = &resource{name: name}
		rec.resources[name] = res
		rec.seq++
		res.seq = rec.seq
	}
	if serial < res.capsSerial {
		return
	}
	res.caps |= set
	res.capsSerial = serial
}

// ReplaceCapabilities overwrites a resource's capability set instead
// of merging, for when the local user retracts an advertisement.
func (rec *Record) ReplaceCapabilities(name string, set caps.Set, serial uint32) {
	res := rec.resources[name]
	if res == nil {
		res = &resource{name: name}
		rec.resources[name] = res
		rec.seq++
		res.seq = rec.seq
	}
	if serial < res.capsSerial {
		return
	}
	res.caps = set
	res.capsSerial = serial
}

// SetNickname updates the cached nickname, reporting a change.
func (rec *Record) SetNickname(nickname string) bool {
	if rec.nickname == nickname {
		return false
	}
	rec.nickname = nickname
	return true
}

// Nickname returns the cached nickname.
func (rec *Record) Nickname() string {
	return rec.nickname
}

// Status returns the availability of the active resource, or Offline
// when no resource is connected.
func (rec *Record) Status() Status {
	if res := rec.active(); res != nil {
		return res.status
	}
	return Offline
}

// StatusMessage returns the status message of the active resource, or
// the parting message of the last one to go offline.
func (rec *Record) StatusMessage() string {
	if res := rec.active(); res != nil {
		return res.message
	}
	return rec.offlineMessage
}

// ActiveResource returns the name of the resource stanzas should be
// addressed to: highest priority, ties broken by most recent update.
func (rec *Record) ActiveResource() string {
	if res := rec.active(); res != nil {
		return res.name
	}
	return ""
}

// Caps returns the union of every connected resource's capabilities.
func (rec *Record) Caps() caps.Set {
	var s caps.Set
	for _, res := range rec.resources {
		s |= res.caps
	}
	return s
}

// ResourceCaps returns the capabilities of one resource.
func (rec *Record) ResourceCaps(name string) caps.Set {
	if res := rec.resources[name]; res != nil {
		return res.caps
	}
	return caps.None
}

// ResourceForCaps returns a resource carrying every bit of mask,
// preferring the active one.
func (rec *Record) ResourceForCaps(mask caps.Set) (string, bool) {
	if res := rec.active(); res != nil && res.caps.Has(mask) {
		return res.name, true
	}
	for _, res := range rec.resources {
		if res.caps.Has(mask) {
			return res.name, true
		}
	}
	return "", false
}

func (rec *Record) active() *resource {
	var best *resource
	for _, res := range rec.resources {
		if best == nil ||
			res.priority > best.priority ||
			(res.priority == best.priority && res.seq > best.seq) {
			best = res
		}
	}
	return best
}

func (rec *Record) removable() bool {
	return rec.Status() == Offline && len(rec.StatusMessage()) == 0 && !rec.keepUnavailable
}
