/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package media

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/gobble-im/gobble/xmpp"
)

// Stream is one media content of a session: codec and candidate
// negotiation state plus the direction the call flows in.
type Stream struct {
	session *Session

	name      string
	id        uint32
	mediaType MediaType
	initiator Initiator

	direction   Direction
	pendingSend PendingSend

	signallingState SignallingState
	connectionState ConnectionState

	localCodecs    []Codec
	gotLocalCodecs bool
	playing        bool
	closed         bool
}

func (st *Stream) Name() string                     { return st.name }
func (st *Stream) ID() uint32                       { return st.id }
func (st *Stream) MediaType() MediaType             { return st.mediaType }
func (st *Stream) Initiator() Initiator             { return st.initiator }
func (st *Stream) Direction() Direction             { return st.direction }
func (st *Stream) PendingSend() PendingSend         { return st.pendingSend }
func (st *Stream) SignallingState() SignallingState { return st.signallingState }
func (st *Stream) Playing() bool                    { return st.playing }

// SetLocalCodecs is called by the engine once the local stack knows
// what it can encode. It may trigger the session's pending initiate
// or accept.
func (st *Stream) SetLocalCodecs(codecs []Codec) {
	if st.closed || st.gotLocalCodecs {
		return
	}
	st.localCodecs = codecs
	st.gotLocalCodecs = true
	st.session.streamReadinessChanged(st)
}

// SetConnectionState is called by the engine as the transport comes
// up or goes down.
func (st *Stream) SetConnectionState(cs ConnectionState) {
	if st.closed || st.connectionState == cs {
		return
	}
	st.connectionState = cs
	if cs == ConnectionConnected {
		st.session.streamReadinessChanged(st)
	}
}

func (st *Stream) setPlaying(playing bool) {
	if st.playing == playing {
		return
	}
	st.playing = playing
	st.session.engine.SetPlaying(st.name, playing)
	if playing {
		st.session.engine.SetSending(st.name, st.direction&DirectionSend != 0)
	}
}

func (st *Stream) setCombinedDirection(dir Direction, pending PendingSend) {
	if st.direction == dir && st.pendingSend == pending {
		return
	}
	st.direction = dir
	st.pendingSend = pending
	if st.playing {
		st.session.engine.SetSending(st.name, dir&DirectionSend != 0)
	}
}

// postRemoteCodecs digests the payload types of a description node.
// An empty intersection with the local codecs fails the negotiation.
func (st *Stream) postRemoteCodecs(desc xmpp.XElement) error {
	var remote []Codec
	for _, pt := range desc.Elements().All() {
		if pt.Name() != "payload-type" {
			continue
		}
		id, err := strconv.Atoi(pt.Attributes().Get("id"))
		if err != nil {
			return errors.Wrapf(err, "payload-type with unusable id on stream %s", st.name)
		}
		c := Codec{
			ID:   id,
			Name: pt.Attributes().Get("name"),
		}
		if v := pt.Attributes().Get("clockrate"); len(v) > 0 {
			c.ClockRate, _ = strconv.Atoi(v)
		}
		if v := pt.Attributes().Get("channels"); len(v) > 0 {
			c.Channels, _ = strconv.Atoi(v)
		}
		remote = append(remote, c)
	}
	if st.gotLocalCodecs {
		remote = intersectCodecs(remote, st.localCodecs)
		if len(remote) == 0 {
			return errors.Errorf("no codec intersection on stream %s", st.name)
		}
	}
	st.session.engine.SetRemoteCodecs(st.name, remote)
	return nil
}

// postRemoteCandidates digests the candidate children of a transport
// node (or, in Google mode, of the session node itself).
func (st *Stream) postRemoteCandidates(trans xmpp.XElement) error {
	var cands []Candidate
	for _, cn := range trans.Elements().All() {
		if cn.Name() != "candidate" {
			continue
		}
		attrs := cn.Attributes()
		port, err := strconv.Atoi(attrs.Get("port"))
		if err != nil {
			return errors.Wrapf(err, "candidate with unusable port on stream %s", st.name)
		}
		cands = append(cands, Candidate{
			Name:       attrs.Get("name"),
			Address:    attrs.Get("address"),
			Port:       port,
			Username:   attrs.Get("username"),
			Password:   attrs.Get("password"),
			Preference: attrs.Get("preference"),
			Protocol:   attrs.Get("protocol"),
			Type:       attrs.Get("type"),
			Network:    attrs.Get("network"),
			Generation: attrs.Get("generation"),
		})
	}
	if len(cands) == 0 {
		return errors.Errorf("no candidates on stream %s", st.name)
	}
	st.session.engine.SetRemoteCandidates(st.name, cands)
	return nil
}

func (st *Stream) descriptionNamespace(mode Mode) string {
	if mode == ModeGoogle {
		return googleSessionPhoneNamespace
	}
	if st.mediaType == Video {
		return jingleVideoNamespace
	}
	return jingleAudioNamespace
}

// addDescription appends this stream's description and transport
// children to a content node.
func (st *Stream) addDescription(mode Mode, content *xmpp.Element) {
	desc := xmpp.NewElementNamespace("description", st.descriptionNamespace(mode))
	for _, c := range st.localCodecs {
		pt := xmpp.NewElementName("payload-type")
		pt.SetAttribute("id", strconv.Itoa(c.ID))
		pt.SetAttribute("name", c.Name)
		if c.ClockRate > 0 {
			pt.SetAttribute("clockrate", strconv.Itoa(c.ClockRate))
		}
		if c.Channels > 0 {
			pt.SetAttribute("channels", strconv.Itoa(c.Channels))
		}
		desc.AppendElement(pt)
	}
	content.AppendElement(desc)

	if mode == ModeJingle {
		content.AppendElement(xmpp.NewElementNamespace("transport", googleTransportNamespace))
	}
}

func (st *Stream) close() {
	if st.closed {
		return
	}
	st.closed = true
	st.session.engine.Close(st.name)
}

func intersectCodecs(remote, local []Codec) []Codec {
	known := make(map[int]bool, len(local))
	for _, c := range local {
		known[c.ID] = true
	}
	kept := remote[:0]
	for _, c := range remote {
		if known[c.ID] {
			kept = append(kept, c)
		}
	}
	return kept
}
