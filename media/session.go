/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package media

import (
	"fmt"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/gobble-im/gobble/caps"
	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/presence"
	"github.com/gobble-im/gobble/xmpp"
)

const (
	googleAudioCaps = caps.GoogleVoice
	jingleAudioCaps = caps.Jingle | caps.JingleAudio | caps.GoogleTransportP2P
	jingleVideoCaps = caps.Jingle | caps.JingleVideo | caps.GoogleTransportP2P
)

// stateUnchanged marks table entries whose action leaves the session
// state alone.
const stateUnchanged SessionState = -1

// Session is the signalling side of one call with one peer.
type Session struct {
	sig       Signaller
	engine    Engine
	handles   *handle.Repository
	presences *presence.Cache

	id           string
	peer         handle.Handle
	peerResource string
	initiator    Initiator
	mode         Mode
	state        SessionState

	streams    map[string]*Stream
	streamList []*Stream

	locallyAccepted bool
	terminated      bool

	timer        *time.Timer
	nextStreamID uint32

	terminatedHandler func(actor handle.Handle, reason Reason)
}

func newSession(sig Signaller, engine Engine, handles *handle.Repository,
	presences *presence.Cache, id string, peer handle.Handle, peerResource string,
	initiator Initiator) *Session {
	return &Session{
		sig:          sig,
		engine:       engine,
		handles:      handles,
		presences:    presences,
		id:           id,
		peer:         peer,
		peerResource: peerResource,
		initiator:    initiator,
		mode:         ModeJingle,
		state:        StatePendingCreated,
		streams:      make(map[string]*Stream),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Peer() handle.Handle  { return s.peer }
func (s *Session) Initiator() Initiator { return s.initiator }
func (s *Session) Mode() Mode           { return s.mode }
func (s *Session) State() SessionState  { return s.state }
func (s *Session) Terminated() bool     { return s.terminated }

// Streams returns the live streams in creation order.
func (s *Session) Streams() []*Stream {
	out := make([]*Stream, len(s.streamList))
	copy(out, s.streamList)
	return out
}

// SetTerminatedHandler registers the termination callback.
func (s *Session) SetTerminatedHandler(h func(actor handle.Handle, reason Reason)) {
	s.terminatedHandler = h
}

func (s *Session) setState(next SessionState) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	log.Debugf("media: session %s state %s -> %s", s.id, prev, next)

	// An outstanding initiate, whichever end sent it, rings for 50s
	// before the call is abandoned.
	if (prev == StatePendingCreated && next == StatePendingInitiated) ||
		next == StatePendingInitiateSent {
		s.timer = time.AfterFunc(SessionTimeout, func() {
			s.sig.Post(s.timerExpired)
		})
	} else if next == StateActive || next == StateEnded {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	}
}

func (s *Session) timerExpired() {
	if s.state == StateActive || s.state == StateEnded {
		return
	}
	log.Infof("media: session %s timed out", s.id)
	s.Terminate(Local, ReasonError)
}

type actionHandler func(s *Session, content xmpp.XElement, name string, st *Stream, desc, trans xmpp.XElement) error

type actionEntry struct {
	actions  []string
	minState SessionState
	maxState SessionState
	handlers []actionHandler
	newState SessionState
}

var actionTable = []actionEntry{
	{
		actions:  []string{"initiate", "session-initiate"},
		minState: StatePendingCreated, maxState: StatePendingCreated,
		handlers: []actionHandler{handleCreate, handleDirection, handleCodecs},
		newState: StatePendingInitiated,
	},
	{
		actions:  []string{"accept", "session-accept"},
		minState: StatePendingInitiated, maxState: StatePendingInitiated,
		handlers: []actionHandler{handleDirection, handleCodecs, handleAccept},
		newState: StateActive,
	},
	{
		actions:  []string{"reject"},
		minState: StatePendingInitiated, maxState: StatePendingInitiated,
		handlers: []actionHandler{handleTerminate},
		newState: stateUnchanged,
	},
	{
		actions:  []string{"terminate", "session-terminate"},
		minState: StatePendingInitiated, maxState: StateEnded,
		handlers: []actionHandler{handleTerminate},
		newState: stateUnchanged,
	},
	{
		actions:  []string{"candidates", "transport-info"},
		minState: StatePendingInitiated, maxState: StateActive,
		handlers: []actionHandler{handleCandidates},
		newState: stateUnchanged,
	},
	{
		actions:  []string{"content-add"},
		minState: StateActive, maxState: StateActive,
		handlers: []actionHandler{handleCreate, handleDirection, handleCodecs},
		newState: stateUnchanged,
	},
	{
		actions:  []string{"content-modify"},
		minState: StatePendingInitiated, maxState: StateActive,
		handlers: []actionHandler{handleDirection},
		newState: stateUnchanged,
	},
	{
		actions:  []string{"content-accept"},
		minState: StatePendingInitiated, maxState: StateActive,
		handlers: []actionHandler{handleDirection, handleCodecs, handleAccept},
		newState: stateUnchanged,
	},
	{
		actions:  []string{"content-remove", "content-decline"},
		minState: StatePendingInitiated, maxState: StateActive,
		handlers: []actionHandler{handleRemove},
		newState: stateUnchanged,
	},
}

// HandleAction dispatches one inbound session action. The IQ is
// acknowledged on success; a disallowed or failing action is answered
// with not-allowed and tears the session down locally.
func (s *Session) HandleAction(iq *xmpp.IQ, sessionNode xmpp.XElement, action string) {
	entry := lookupAction(action)
	if entry == nil {
		log.Infof("media: session %s got unknown action %q", s.id, action)
		s.actionFailed(iq)
		return
	}
	if s.state < entry.minState || s.state > entry.maxState {
		log.Infof("media: session %s action %q not allowed in state %s", s.id, action, s.state)
		s.actionFailed(iq)
		return
	}
	if err := s.callHandlersOnStreams(sessionNode, entry.handlers); err != nil {
		log.Infof("media: session %s action %q failed: %v", s.id, action, err)
		s.actionFailed(iq)
		return
	}
	if entry.newState != stateUnchanged {
		s.setState(entry.newState)
	}
	_ = s.sig.SendStanza(iq.ResultIQ())
}

func lookupAction(action string) *actionEntry {
	for i := range actionTable {
		for _, a := range actionTable[i].actions {
			if a == action {
				return &actionTable[i]
			}
		}
	}
	return nil
}

func (s *Session) actionFailed(iq *xmpp.IQ) {
	_ = s.sig.SendStanza(iq.NotAllowedError())
	s.Terminate(Local, ReasonError)
}

func (s *Session) callHandlersOnStreams(sessionNode xmpp.XElement, handlers []actionHandler) error {
	if sessionNode.Namespace() == googleSessionNamespace {
		return s.callHandlersOnStream(sessionNode, googleStreamName, handlers)
	}
	contents := sessionNode.Elements().Children("content")
	if len(contents) == 0 {
		return s.callHandlersOnStream(nil, "", handlers)
	}
	for _, content := range contents {
		name := content.Attributes().Get("name")
		if len(name) == 0 {
			return errors.New("content node without a name")
		}
		if err := s.callHandlersOnStream(content, name, handlers); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) callHandlersOnStream(content xmpp.XElement, name string, handlers []actionHandler) error {
	var desc, trans xmpp.XElement
	if content != nil {
		desc = content.Elements().Child("description")
		trans = content.Elements().ChildNamespace("transport", googleTransportNamespace)
	}
	for _, fn := range handlers {
		// handlers may create the stream
		var st *Stream
		if len(name) > 0 {
			st = s.streams[name]
		}
		if err := fn(s, content, name, st, desc, trans); err != nil {
			return err
		}
	}
	return nil
}

func handleCreate(s *Session, content xmpp.XElement, name string, st *Stream, desc, trans xmpp.XElement) error {
	if st != nil {
		return errors.Errorf("stream %q already exists", name)
	}
	if desc == nil {
		return errors.New("cannot create a stream without a content description")
	}

	var mode Mode
	var mediaType MediaType
	switch desc.Namespace() {
	case googleSessionPhoneNamespace:
		mode, mediaType = ModeGoogle, Audio
	case jingleAudioNamespace:
		mode, mediaType = ModeJingle, Audio
	case jingleVideoNamespace:
		mode, mediaType = ModeJingle, Video
	default:
		return errors.Errorf("unsupported content description %q", desc.Namespace())
	}

	// Google mode gets away without a transport node.
	if mode == ModeJingle && trans == nil {
		return errors.New("unsupported transport")
	}
	if mode != s.mode {
		if len(s.streams) > 0 {
			return errors.New("refusing to change mode while streams exist")
		}
		s.mode = mode
	}
	if len(s.streams) == MaxStreams {
		return errors.Errorf("refusing to create more than %d streams", MaxStreams)
	}
	st = s.createStream(name, Remote, mediaType)
	st.signallingState = SignallingAcknowledged
	return nil
}

func handleDirection(s *Session, content xmpp.XElement, name string, st *Stream, desc, trans xmpp.XElement) error {
	if s.mode == ModeGoogle {
		return nil
	}
	if st == nil {
		return errors.Errorf("direction for unknown stream %q", name)
	}

	requested := DirectionBoth
	if senders := content.Attributes().Get("senders"); len(senders) > 0 {
		requested = s.sendersToDirection(senders)
		if requested == DirectionNone {
			return errors.Errorf("invalid senders value %q on stream %q", senders, name)
		}
	}

	pending := st.pendingSend
	// The peer asking us to start sending needs the user's approval
	// first; flag it instead of flipping the direction.
	if st.direction&DirectionSend == 0 && requested&DirectionSend != 0 {
		requested &^= DirectionSend
		pending |= PendingLocalSend
	}
	st.setCombinedDirection(requested, pending)
	return nil
}

func handleAccept(s *Session, content xmpp.XElement, name string, st *Stream, desc, trans xmpp.XElement) error {
	if st == nil {
		return errors.Errorf("accept for unknown stream %q", name)
	}
	st.setPlaying(true)
	return nil
}

func handleCodecs(s *Session, content xmpp.XElement, name string, st *Stream, desc, trans xmpp.XElement) error {
	if st == nil {
		return errors.Errorf("codecs for unknown stream %q", name)
	}
	if desc == nil {
		return errors.New("codecs without a content description")
	}
	return st.postRemoteCodecs(desc)
}

func handleCandidates(s *Session, content xmpp.XElement, name string, st *Stream, desc, trans xmpp.XElement) error {
	if st == nil {
		return errors.Errorf("candidates for unknown stream %q", name)
	}
	if trans == nil {
		if s.mode != ModeGoogle {
			return errors.New("candidates without a transport node")
		}
		// the google session node carries the candidates itself
		trans = content
	}
	return st.postRemoteCandidates(trans)
}

func handleRemove(s *Session, content xmpp.XElement, name string, st *Stream, desc, trans xmpp.XElement) error {
	if st == nil {
		return errors.Errorf("content-remove for unknown stream %q", name)
	}
	// A session may never be reduced to zero streams; removing the
	// last one ends the call instead.
	if len(s.streams) == 1 {
		s.Terminate(Remote, ReasonNone)
		return nil
	}
	s.dropStream(st)
	return nil
}

func handleTerminate(s *Session, content xmpp.XElement, name string, st *Stream, desc, trans xmpp.XElement) error {
	s.Terminate(Remote, ReasonNone)
	return nil
}

func (s *Session) createStream(name string, initiator Initiator, mediaType MediaType) *Stream {
	s.nextStreamID++
	st := &Stream{
		session:   s,
		name:      name,
		id:        s.nextStreamID,
		mediaType: mediaType,
		initiator: initiator,
		direction: DirectionBoth,
	}
	s.streams[name] = st
	s.streamList = append(s.streamList, st)
	return st
}

func (s *Session) dropStream(st *Stream) {
	st.close()
	delete(s.streams, st.name)
	kept := s.streamList[:0]
	for _, other := range s.streamList {
		if other != st {
			kept = append(kept, other)
		}
	}
	s.streamList = kept
}

// streamReadinessChanged fires whenever a stream learns its local
// codecs or its transport connects, and drives the pending initiate,
// accept, content-accept or content-add the new readiness unlocks.
func (s *Session) streamReadinessChanged(st *Stream) {
	if st.playing {
		return
	}
	if s.state < StateActive {
		if s.initiator == Remote {
			if s.state < StatePendingAcceptSent {
				s.trySessionAccept()
			}
		} else {
			if s.state < StatePendingInitiateSent {
				s.trySessionInitiate()
			}
		}
		return
	}
	if st.initiator == Remote {
		s.tryContentAccept(st)
	} else if st.signallingState == SignallingNew && st.gotLocalCodecs {
		s.doContentAdd(st)
	}
}

func (st *Stream) readyForAccept() bool {
	// locally initiated streams shouldn't delay acceptance
	if st.initiator == Local {
		return true
	}
	return st.gotLocalCodecs && st.connectionState == ConnectionConnected
}

func (s *Session) trySessionAccept() {
	if s.state < StateActive && !s.locallyAccepted {
		log.Debugf("media: session %s waiting for the local user to accept", s.id)
		return
	}
	for _, st := range s.streamList {
		if !st.readyForAccept() {
			log.Debugf("media: session %s stream %s not ready for accept", s.id, st.name)
			return
		}
	}

	action := "session-accept"
	if s.mode == ModeGoogle {
		action = "accept"
	}
	iq, node := s.sessionMessage(action)
	s.addContentDescriptions(node, Remote)

	s.sendActionWithReply(iq, func(err error) {
		if err != nil {
			log.Infof("media: session %s accept failed: %v", s.id, err)
			s.Terminate(Local, ReasonError)
			return
		}
		s.setState(StateActive)
	})

	for _, st := range s.streamList {
		if st.initiator == Remote {
			st.setPlaying(true)
		}
	}
	s.setState(StatePendingAcceptSent)
}

func (s *Session) trySessionInitiate() {
	for _, st := range s.streamList {
		if !st.gotLocalCodecs {
			log.Debugf("media: session %s stream %s missing local codecs", s.id, st.name)
			return
		}
	}

	action := "session-initiate"
	if s.mode == ModeGoogle {
		action = "initiate"
	}
	iq, node := s.sessionMessage(action)
	s.addContentDescriptions(node, Local)

	s.sendActionWithReply(iq, func(err error) {
		if err != nil {
			log.Infof("media: session %s initiate failed: %v", s.id, err)
			s.Terminate(Local, ReasonError)
			return
		}
		s.setState(StatePendingInitiated)
	})

	for _, st := range s.streamList {
		if st.initiator == Local {
			st.signallingState = SignallingSent
		}
	}
	s.setState(StatePendingInitiateSent)
}

func (s *Session) tryContentAccept(st *Stream) {
	if !st.readyForAccept() {
		log.Debugf("media: session %s stream %s not ready for content-accept", s.id, st.name)
		return
	}
	iq, node := s.sessionMessage("content-accept")
	s.addContentDescription(node, st)

	s.sendActionWithReply(iq, func(err error) {
		if err != nil {
			log.Infof("media: session %s content-accept for %s failed, removing stream", s.id, st.name)
			s.RemoveStreams([]*Stream{st})
		}
	})
	st.setPlaying(true)
}

func (s *Session) doContentAdd(st *Stream) {
	iq, node := s.sessionMessage("content-add")
	s.addContentDescription(node, st)

	s.sendActionWithReply(iq, func(err error) {
		if err != nil {
			log.Infof("media: session %s content-add for %s failed, removing stream", s.id, st.name)
			s.RemoveStreams([]*Stream{st})
		}
	})
	st.signallingState = SignallingSent
}

// Accept is the local user taking the call; any pending local send
// flags are approved along the way.
func (s *Session) Accept() {
	s.locallyAccepted = true
	for _, st := range s.streamList {
		if st.pendingSend&PendingLocalSend != 0 {
			st.setCombinedDirection(st.direction|DirectionSend, st.pendingSend&^PendingLocalSend)
		}
	}
	s.trySessionAccept()
}

// RemoveStreams drops streams from the call, telling the peer when
// anything about this session has been signalled. Removing every
// stream ends the call.
func (s *Session) RemoveStreams(streams []*Stream) {
	if len(streams) == len(s.streams) {
		s.Terminate(Local, ReasonNone)
		return
	}
	var iq *xmpp.IQ
	var node *xmpp.Element
	if s.state > StatePendingCreated {
		iq, node = s.sessionMessage("content-remove")
	}
	for _, st := range streams {
		if node != nil {
			content := xmpp.NewElementName("content")
			content.SetAttribute("name", st.name)
			node.AppendElement(content)
		}
		s.dropStream(st)
	}
	if iq != nil {
		s.sendActionWithReply(iq, nil)
	}
}

// RequestStreams adds locally initiated streams, choosing the peer
// resource and the signalling mode from the peer's capabilities on
// the first call.
func (s *Session) RequestStreams(types []MediaType) ([]*Stream, error) {
	rec := s.presences.Get(s.peer)
	if rec == nil {
		return nil, tperror.New(tperror.NotAvailable, "member has no audio/video capabilities")
	}

	wantAudio, wantVideo := false, false
	for _, t := range types {
		switch t {
		case Audio:
			wantAudio = true
		case Video:
			wantVideo = true
		default:
			return nil, tperror.Newf(tperror.InvalidArgument, "media type %d is invalid", t)
		}
	}

	var desired caps.Set
	if wantAudio {
		desired |= jingleAudioCaps
	}
	if wantVideo {
		desired |= jingleVideoCaps
	}

	if len(s.peerResource) > 0 {
		// existing call; the recipient and the mode are already decided
		if s.mode == ModeGoogle {
			return nil, tperror.New(tperror.NotAvailable, "google talk calls may only contain one stream")
		}
		if !rec.ResourceCaps(s.peerResource).Has(desired) {
			return nil, tperror.New(tperror.NotAvailable, "existing call member doesn't support all requested media types")
		}
	} else {
		// prefer a fully capable resource so streams can be added later
		resource, ok := rec.ResourceForCaps(jingleAudioCaps | jingleVideoCaps)
		if !ok {
			resource, ok = rec.ResourceForCaps(desired)
		}
		if !ok && wantAudio && !wantVideo {
			resource, ok = rec.ResourceForCaps(googleAudioCaps)
			if ok {
				if len(types) != 1 {
					return nil, tperror.New(tperror.NotAvailable, "google talk calls may only contain one stream")
				}
				s.mode = ModeGoogle
			}
		}
		if !ok {
			return nil, tperror.New(tperror.NotAvailable, "member does not have the desired audio/video capabilities")
		}
		s.peerResource = resource
	}

	if len(s.streams)+len(types) > MaxStreams {
		return nil, tperror.New(tperror.NotAvailable, "too many streams")
	}

	created := make([]*Stream, 0, len(types))
	for _, t := range types {
		created = append(created, s.createStream(s.nameStream(t), Local, t))
	}
	return created, nil
}

// RequestStreamDirection changes what a stream carries. Requesting
// none removes the stream.
func (s *Session) RequestStreamDirection(st *Stream, requested Direction) error {
	if s.mode == ModeGoogle {
		if requested == DirectionBoth {
			return nil
		}
		return tperror.New(tperror.NotAvailable, "google talk calls can only be bi-directional")
	}
	if requested == DirectionNone {
		s.RemoveStreams([]*Stream{st})
		return nil
	}

	current := st.direction
	pending := st.pendingSend
	// While a local send decision is pending the peer believes we are
	// bidirectional; answer with the delta from their view.
	if pending&PendingLocalSend != 0 {
		pending &^= PendingLocalSend
		current ^= DirectionSend
	}

	st.setCombinedDirection(requested, pending)

	if current == requested {
		return nil
	}

	iq, node := s.sessionMessage("content-modify")
	content := xmpp.NewElementName("content")
	content.SetAttribute("name", st.name)
	content.SetAttribute("senders", s.directionToSenders(requested))
	node.AppendElement(content)

	s.sendActionWithReply(iq, func(err error) {
		if err != nil {
			log.Infof("media: session %s direction change failed: %v", s.id, err)
			s.Terminate(Local, ReasonError)
		}
	})
	return nil
}

// Terminate ends the call. A local termination of a not yet accepted
// Google call declines with "reject"; anything already signalled gets
// a terminate action.
func (s *Session) Terminate(who Initiator, reason Reason) {
	if s.state == StateEnded {
		return
	}
	// a zero actor means the local user ended the call
	var actor handle.Handle
	if who == Remote {
		actor = s.peer
	} else {
		if s.initiator == Remote && s.state == StatePendingInitiated && s.mode == ModeGoogle {
			iq, _ := s.sessionMessage("reject")
			s.sendActionWithReply(iq, nil)
		} else if s.state > StatePendingCreated {
			action := "session-terminate"
			if s.mode == ModeGoogle {
				action = "terminate"
			}
			iq, _ := s.sessionMessage(action)
			s.sendActionWithReply(iq, nil)
		}
	}
	for _, st := range s.streamList {
		st.close()
	}
	s.streams = make(map[string]*Stream)
	s.streamList = nil

	s.terminated = true
	s.setState(StateEnded)
	if s.terminatedHandler != nil {
		s.terminatedHandler(actor, reason)
	}
}

func (s *Session) sendActionWithReply(iq *xmpp.IQ, done func(err error)) {
	_, err := s.sig.SendIQWithReply(iq, SessionTimeout, func(reply xmpp.XElement, err error) {
		if s.terminated {
			return
		}
		if err == nil && reply != nil && reply.Type() == xmpp.ErrorType {
			err = errors.New("error reply")
		}
		if done != nil {
			done(err)
		}
	})
	if err != nil && done != nil {
		done(err)
	}
}

func (s *Session) sessionMessage(action string) (*xmpp.IQ, *xmpp.Element) {
	iq := xmpp.NewIQType(uuid.New(), xmpp.SetType)
	iq.SetTo(s.peerJID())

	elName, idAttr, actionAttr, ns := "jingle", "sid", "action", jingleNamespace
	if s.mode == ModeGoogle {
		elName, idAttr, actionAttr, ns = "session", "id", "type", googleSessionNamespace
	}
	node := xmpp.NewElementNamespace(elName, ns)
	node.SetAttribute(idAttr, s.id)
	node.SetAttribute(actionAttr, action)
	node.SetAttribute("initiator", s.initiatorJID())
	iq.AppendElement(node)
	return iq, node
}

func (s *Session) peerJID() string {
	bare, err := s.handles.Inspect(handle.ContactType, s.peer)
	if err != nil {
		return ""
	}
	if len(s.peerResource) > 0 {
		return bare + "/" + s.peerResource
	}
	return bare
}

func (s *Session) initiatorJID() string {
	if s.initiator == Local {
		return s.sig.LocalJID().String()
	}
	return s.peerJID()
}

func (s *Session) addContentDescriptions(node *xmpp.Element, initiator Initiator) {
	for _, st := range s.streamList {
		if st.initiator == initiator {
			s.addContentDescription(node, st)
		}
	}
}

func (s *Session) addContentDescription(node *xmpp.Element, st *Stream) {
	if s.mode == ModeGoogle {
		st.addDescription(s.mode, node)
		return
	}
	content := xmpp.NewElementName("content")
	content.SetAttribute("name", st.name)
	st.addDescription(s.mode, content)
	node.AppendElement(content)
}

func (s *Session) sendersToDirection(senders string) Direction {
	switch senders {
	case "initiator":
		if s.initiator == Local {
			return DirectionSend
		}
		return DirectionReceive
	case "responder":
		if s.initiator == Remote {
			return DirectionSend
		}
		return DirectionReceive
	case "both":
		return DirectionBoth
	}
	return DirectionNone
}

func (s *Session) directionToSenders(dir Direction) string {
	switch dir {
	case DirectionSend:
		if s.initiator == Local {
			return "initiator"
		}
		return "responder"
	case DirectionReceive:
		if s.initiator == Remote {
			return "initiator"
		}
		return "responder"
	}
	return "both"
}

func (s *Session) nameStream(t MediaType) string {
	if s.mode == ModeGoogle {
		return googleStreamName
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s%d", t, i)
		if _, exists := s.streams[name]; !exists {
			return name
		}
	}
}
