/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package media

import (
	"time"

	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
)

const (
	googleSessionNamespace      = "http://www.google.com/session"
	googleSessionPhoneNamespace = "http://www.google.com/session/phone"
	jingleNamespace             = "http://jabber.org/protocol/jingle"
	jingleAudioNamespace        = "http://jabber.org/protocol/jingle/description/audio"
	jingleVideoNamespace        = "http://jabber.org/protocol/jingle/description/video"
	googleTransportNamespace    = "http://www.google.com/transport/p2p"
)

// MaxStreams bounds the number of streams on one session.
const MaxStreams = 99

// SessionTimeout is how long an unanswered call rings before it is
// torn down.
const SessionTimeout = 50 * time.Second

// googleStreamName is the fixed stream name of a Google mode call,
// which only ever carries one stream.
const googleStreamName = "gtalk"

// MediaType is the payload kind of one stream.
type MediaType int

const (
	Audio MediaType = iota
	Video
)

func (t MediaType) String() string {
	if t == Video {
		return "video"
	}
	return "audio"
}

// Initiator tells which end created a session or stream.
type Initiator int

const (
	Local Initiator = iota
	Remote
)

// Mode selects the signalling dialect of a session. It never changes
// once the session has streams.
type Mode int

const (
	ModeGoogle Mode = iota
	ModeJingle
)

func (m Mode) String() string {
	if m == ModeGoogle {
		return "google"
	}
	return "jingle"
}

// Direction is what a stream carries from our point of view.
type Direction uint8

const (
	DirectionNone    Direction = 0
	DirectionSend    Direction = 1
	DirectionReceive Direction = 2
	DirectionBoth    Direction = DirectionSend | DirectionReceive
)

// PendingSend flags directionality changes awaiting an approval.
type PendingSend uint8

const (
	// PendingLocalSend means the peer asked us to start sending and
	// the local user has not approved yet.
	PendingLocalSend PendingSend = 1 << iota

	// PendingRemoteSend means we asked the peer to start sending.
	PendingRemoteSend
)

// SignallingState tracks whether a stream has been told to the peer.
type SignallingState int

const (
	SignallingNew SignallingState = iota
	SignallingSent
	SignallingAcknowledged
)

// ConnectionState is the transport readiness of one stream as
// reported by the media engine.
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
)

// SessionState is the signalling state of a call.
type SessionState int

const (
	StatePendingCreated SessionState = iota
	StatePendingInitiateSent
	StatePendingInitiated
	StatePendingAcceptSent
	StateActive
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StatePendingCreated:
		return "pending-created"
	case StatePendingInitiateSent:
		return "pending-initiate-sent"
	case StatePendingInitiated:
		return "pending-initiated"
	case StatePendingAcceptSent:
		return "pending-accept-sent"
	case StateActive:
		return "active"
	}
	return "ended"
}

// Reason qualifies a session termination.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonRequested
	ReasonError
)

// Codec is one payload type a stream can carry.
type Codec struct {
	ID        int
	Name      string
	ClockRate int
	Channels  int
}

// Candidate is one transport candidate of the p2p negotiation.
type Candidate struct {
	Name       string
	Address    string
	Port       int
	Username   string
	Password   string
	Preference string
	Protocol   string
	Type       string
	Network    string
	Generation string
}

// Engine is the local media stack a session drives. The core is
// agnostic to its implementation; a rendering process binds these
// hooks.
type Engine interface {
	SetRemoteCodecs(streamName string, codecs []Codec)
	SetRemoteCandidates(streamName string, candidates []Candidate)
	SetPlaying(streamName string, playing bool)
	SetSending(streamName string, sending bool)
	StartTelephonyEvent(streamName string, event byte)
	StopTelephonyEvent(streamName string)
	SetOutputWindow(streamName string, windowID uint32)
	MuteInput(streamName string, mute bool)
	MuteOutput(streamName string, mute bool)
	SetVolume(streamName string, volume uint16)
	Close(streamName string)
}

// Signaller is what a session needs from the owning connection:
// stanza output, IQ round-trips, the local full address, and a way to
// post timer work onto the connection's run queue.
type Signaller interface {
	SendStanza(elem xmpp.XElement) error
	SendIQWithReply(iq *xmpp.IQ, timeout time.Duration, cb func(reply xmpp.XElement, err error)) (cancel func(), err error)
	LocalJID() *jid.JID
	Post(fn func())
}
