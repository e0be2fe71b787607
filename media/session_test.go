/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gobble-im/gobble/channel"
	"github.com/gobble-im/gobble/disco"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/presence"
	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
)

type sentIQ struct {
	iq *xmpp.IQ
	cb func(reply xmpp.XElement, err error)
}

type fakeSignaller struct {
	stanzas []xmpp.XElement
	iqs     []sentIQ
	local   *jid.JID
}

func (f *fakeSignaller) SendStanza(elem xmpp.XElement) error {
	f.stanzas = append(f.stanzas, elem)
	return nil
}

func (f *fakeSignaller) SendIQWithReply(iq *xmpp.IQ, timeout time.Duration, cb func(reply xmpp.XElement, err error)) (func(), error) {
	f.iqs = append(f.iqs, sentIQ{iq: iq, cb: cb})
	return func() {}, nil
}

func (f *fakeSignaller) LocalJID() *jid.JID { return f.local }
func (f *fakeSignaller) Post(fn func())     { fn() }

func (f *fakeSignaller) lastIQ() *xmpp.IQ {
	return f.iqs[len(f.iqs)-1].iq
}

func (f *fakeSignaller) replyOK(i int) {
	reply := xmpp.NewElementName("iq")
	reply.SetType(xmpp.ResultType)
	f.iqs[i].cb(reply, nil)
}

type fakeEngine struct {
	remoteCodecs     map[string][]Codec
	remoteCandidates map[string][]Candidate
	playing          map[string]bool
	sending          map[string]bool
	closed           []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		remoteCodecs:     make(map[string][]Codec),
		remoteCandidates: make(map[string][]Candidate),
		playing:          make(map[string]bool),
		sending:          make(map[string]bool),
	}
}

func (e *fakeEngine) SetRemoteCodecs(name string, codecs []Codec) { e.remoteCodecs[name] = codecs }
func (e *fakeEngine) SetRemoteCandidates(name string, cands []Candidate) {
	e.remoteCandidates[name] = append(e.remoteCandidates[name], cands...)
}
func (e *fakeEngine) SetPlaying(name string, playing bool)     { e.playing[name] = playing }
func (e *fakeEngine) SetSending(name string, sending bool)     { e.sending[name] = sending }
func (e *fakeEngine) StartTelephonyEvent(name string, ev byte) {}
func (e *fakeEngine) StopTelephonyEvent(name string)           {}
func (e *fakeEngine) SetOutputWindow(name string, win uint32)  {}
func (e *fakeEngine) MuteInput(name string, mute bool)         {}
func (e *fakeEngine) MuteOutput(name string, mute bool)        {}
func (e *fakeEngine) SetVolume(name string, volume uint16)     {}
func (e *fakeEngine) Close(name string)                        { e.closed = append(e.closed, name) }

func testFactory(t *testing.T) (*Factory, *fakeSignaller, *fakeEngine, *handle.Repository, *presence.Cache) {
	t.Helper()
	local, err := jid.NewWithString("alice@example.org/gobble", true)
	require.Nil(t, err)
	sig := &fakeSignaller{local: local}
	eng := newFakeEngine()
	repo := handle.New()
	cache := presence.NewCache(repo, disco.NewClient(sig))
	return NewFactory(sig, eng, repo, cache), sig, eng, repo, cache
}

func sessionIQ(t *testing.T, from string, node *xmpp.Element) *xmpp.IQ {
	t.Helper()
	el := xmpp.NewElementName("iq")
	el.SetID("q1")
	el.SetType(xmpp.SetType)
	el.SetFrom(from)
	el.SetTo("alice@example.org/gobble")
	el.AppendElement(node)

	fromJID, err := jid.NewWithString(from, true)
	require.Nil(t, err)
	toJID, err := jid.NewWithString("alice@example.org/gobble", true)
	require.Nil(t, err)
	iq, err := xmpp.NewIQFromElement(el, fromJID, toJID)
	require.Nil(t, err)
	return iq
}

func jingleNode(sid, action string) *xmpp.Element {
	node := xmpp.NewElementNamespace("jingle", jingleNamespace)
	node.SetAttribute("sid", sid)
	node.SetAttribute("action", action)
	node.SetAttribute("initiator", "bob@example.org/pc")
	return node
}

func audioContent(name string) *xmpp.Element {
	content := xmpp.NewElementName("content")
	content.SetAttribute("name", name)
	desc := xmpp.NewElementNamespace("description", jingleAudioNamespace)
	pt := xmpp.NewElementName("payload-type")
	pt.SetAttribute("id", "8")
	pt.SetAttribute("name", "PCMA")
	pt.SetAttribute("clockrate", "8000")
	desc.AppendElement(pt)
	content.AppendElement(desc)
	content.AppendElement(xmpp.NewElementNamespace("transport", googleTransportNamespace))
	return content
}

func jingleInitiate(t *testing.T, sid string) *xmpp.IQ {
	node := jingleNode(sid, "session-initiate")
	node.AppendElement(audioContent("voice"))
	return sessionIQ(t, "bob@example.org/pc", node)
}

func lastStanzaType(sig *fakeSignaller) string {
	return sig.stanzas[len(sig.stanzas)-1].Type()
}

func TestMediaInboundInitiate(t *testing.T) {
	f, sig, eng, _, _ := testFactory(t)

	var announced channel.Channel
	var suppressed bool
	f.SetNewChannelHandler(func(ch channel.Channel, suppress bool) {
		announced, suppressed = ch, suppress
	})

	require.True(t, f.HandleIQ(jingleInitiate(t, "call1")))

	require.NotNil(t, announced)
	require.False(t, suppressed)
	require.Equal(t, channel.StreamedMediaType, announced.Type())

	sess := announced.(*Channel).Session()
	require.Equal(t, StatePendingInitiated, sess.State())
	require.Equal(t, ModeJingle, sess.Mode())
	require.Len(t, sess.Streams(), 1)

	st := sess.Streams()[0]
	require.Equal(t, "voice", st.Name())
	require.Equal(t, Remote, st.Initiator())

	codecs := eng.remoteCodecs["voice"]
	require.Len(t, codecs, 1)
	require.Equal(t, "PCMA", codecs[0].Name)

	require.Equal(t, xmpp.ResultType, lastStanzaType(sig))
}

func TestMediaAcceptFlow(t *testing.T) {
	f, sig, eng, _, _ := testFactory(t)

	var announced *Channel
	f.SetNewChannelHandler(func(ch channel.Channel, suppress bool) {
		announced = ch.(*Channel)
	})
	require.True(t, f.HandleIQ(jingleInitiate(t, "call2")))
	sess := announced.Session()
	st := sess.Streams()[0]

	// not ready and not accepted yet; nothing goes out
	st.SetLocalCodecs([]Codec{{ID: 8, Name: "PCMA", ClockRate: 8000}})
	st.SetConnectionState(ConnectionConnected)
	require.Empty(t, sig.iqs)

	sess.Accept()
	require.Len(t, sig.iqs, 1)
	require.Equal(t, StatePendingAcceptSent, sess.State())
	require.True(t, eng.playing["voice"])

	accept := sig.lastIQ().Elements().ChildNamespace("jingle", jingleNamespace)
	require.NotNil(t, accept)
	require.Equal(t, "session-accept", accept.Attributes().Get("action"))
	require.Equal(t, "call2", accept.Attributes().Get("sid"))
	require.Equal(t, "bob@example.org/pc", sig.lastIQ().Attributes().Get("to"))

	sig.replyOK(0)
	require.Equal(t, StateActive, sess.State())
}

func TestMediaInboundTimeout(t *testing.T) {
	f, sig, _, _, _ := testFactory(t)

	var announced *Channel
	f.SetNewChannelHandler(func(ch channel.Channel, suppress bool) {
		announced = ch.(*Channel)
	})
	var closed channel.Channel
	f.SetClosedHandler(func(ch channel.Channel) { closed = ch })

	require.True(t, f.HandleIQ(jingleInitiate(t, "call3")))
	sess := announced.Session()

	sess.timerExpired()

	require.Equal(t, StateEnded, sess.State())
	require.Equal(t, announced, closed)

	term := sig.lastIQ().Elements().ChildNamespace("jingle", jingleNamespace)
	require.NotNil(t, term)
	require.Equal(t, "session-terminate", term.Attributes().Get("action"))

	// the finished session id is remembered; a straggler is dropped
	// without an error reply
	stanzas := len(sig.stanzas)
	node := jingleNode("call3", "transport-info")
	node.AppendElement(audioContent("voice"))
	require.True(t, f.HandleIQ(sessionIQ(t, "bob@example.org/pc", node)))
	require.Len(t, sig.stanzas, stanzas)
}

func TestMediaUnknownActionTearsDown(t *testing.T) {
	f, sig, _, _, _ := testFactory(t)

	var announced *Channel
	f.SetNewChannelHandler(func(ch channel.Channel, suppress bool) {
		announced = ch.(*Channel)
	})
	require.True(t, f.HandleIQ(jingleInitiate(t, "call4")))
	sess := announced.Session()

	node := jingleNode("call4", "fly-to-the-moon")
	require.True(t, f.HandleIQ(sessionIQ(t, "bob@example.org/pc", node)))

	require.Equal(t, xmpp.ErrorType, lastStanzaType(sig))
	require.Equal(t, StateEnded, sess.State())
}

func TestMediaRemoveLastStreamEndsCall(t *testing.T) {
	f, sig, _, _, _ := testFactory(t)

	var announced *Channel
	f.SetNewChannelHandler(func(ch channel.Channel, suppress bool) {
		announced = ch.(*Channel)
	})
	require.True(t, f.HandleIQ(jingleInitiate(t, "call5")))
	sess := announced.Session()

	var actor handle.Handle
	var reason Reason
	gotEnd := false
	sess.SetTerminatedHandler(func(a handle.Handle, r Reason) {
		actor, reason, gotEnd = a, r, true
	})

	node := jingleNode("call5", "content-remove")
	content := xmpp.NewElementName("content")
	content.SetAttribute("name", "voice")
	node.AppendElement(content)
	require.True(t, f.HandleIQ(sessionIQ(t, "bob@example.org/pc", node)))

	require.True(t, gotEnd)
	require.Equal(t, sess.Peer(), actor)
	require.Equal(t, ReasonNone, reason)
	require.Equal(t, xmpp.ResultType, lastStanzaType(sig))
}

func TestMediaMalformedSessionIQs(t *testing.T) {
	f, sig, _, _, _ := testFactory(t)

	// stanzas that aren't session signalling aren't consumed
	other := xmpp.NewElementName("iq")
	other.SetID("x1")
	other.SetType(xmpp.SetType)
	other.SetFrom("bob@example.org/pc")
	other.SetTo("alice@example.org/gobble")
	other.AppendElement(xmpp.NewElementNamespace("query", "jabber:iq:version"))
	fromJID, _ := jid.NewWithString("bob@example.org/pc", true)
	toJID, _ := jid.NewWithString("alice@example.org/gobble", true)
	iq, err := xmpp.NewIQFromElement(other, fromJID, toJID)
	require.Nil(t, err)
	require.False(t, f.HandleIQ(iq))

	// unknown session with a non-initiate action
	node := jingleNode("nope", "transport-info")
	require.True(t, f.HandleIQ(sessionIQ(t, "bob@example.org/pc", node)))
	require.Equal(t, xmpp.ErrorType, lastStanzaType(sig))

	// missing session id
	node = xmpp.NewElementNamespace("jingle", jingleNamespace)
	node.SetAttribute("action", "session-initiate")
	require.True(t, f.HandleIQ(sessionIQ(t, "bob@example.org/pc", node)))
	require.Equal(t, xmpp.ErrorType, lastStanzaType(sig))
}

func TestMediaOutboundGoogleMode(t *testing.T) {
	f, sig, _, repo, cache := testFactory(t)

	h, err := repo.ForContact("bob@example.org", false)
	require.Nil(t, err)
	cache.Update(h, "phone", presence.Available, "", 0)
	cache.SetCapabilities(h, "phone", googleAudioCaps, 1)

	status, ch, err := f.Request(channel.StreamedMediaType, handle.ContactType, h, true)
	require.Nil(t, err)
	require.Equal(t, channel.RequestDone, status)

	sess := ch.(*Channel).Session()
	streams, err := sess.RequestStreams([]MediaType{Audio})
	require.Nil(t, err)
	require.Len(t, streams, 1)
	require.Equal(t, ModeGoogle, sess.Mode())
	require.Equal(t, googleStreamName, streams[0].Name())

	// the signalling dialect is fixed; no second stream for google
	_, err = sess.RequestStreams([]MediaType{Video})
	require.NotNil(t, err)

	streams[0].SetLocalCodecs([]Codec{{ID: 8, Name: "PCMA", ClockRate: 8000}})
	require.Len(t, sig.iqs, 1)
	require.Equal(t, StatePendingInitiateSent, sess.State())

	session := sig.lastIQ().Elements().ChildNamespace("session", googleSessionNamespace)
	require.NotNil(t, session)
	require.Equal(t, "initiate", session.Attributes().Get("type"))
	require.Equal(t, "alice@example.org/gobble", session.Attributes().Get("initiator"))
	require.Equal(t, "bob@example.org/phone", sig.lastIQ().Attributes().Get("to"))

	sig.replyOK(0)
	require.Equal(t, StatePendingInitiated, sess.State())

	// google calls cannot be made one-way
	require.Nil(t, sess.RequestStreamDirection(streams[0], DirectionBoth))
	require.NotNil(t, sess.RequestStreamDirection(streams[0], DirectionReceive))
}

func TestMediaOutboundPrefersJingleResource(t *testing.T) {
	f, _, _, repo, cache := testFactory(t)

	h, err := repo.ForContact("bob@example.org", false)
	require.Nil(t, err)
	cache.Update(h, "phone", presence.Available, "", 10)
	cache.SetCapabilities(h, "phone", googleAudioCaps, 1)
	cache.Update(h, "pc", presence.Available, "", 0)
	cache.SetCapabilities(h, "pc", jingleAudioCaps|jingleVideoCaps, 2)

	_, ch, err := f.Request(channel.StreamedMediaType, handle.ContactType, h, false)
	require.Nil(t, err)

	sess := ch.(*Channel).Session()
	streams, err := sess.RequestStreams([]MediaType{Audio})
	require.Nil(t, err)
	require.Equal(t, ModeJingle, sess.Mode())
	require.Equal(t, "audio1", streams[0].Name())

	// a second stream goes to the same resource
	more, err := sess.RequestStreams([]MediaType{Video})
	require.Nil(t, err)
	require.Equal(t, "video1", more[0].Name())
}

func TestMediaDirectionChangeNeedsApproval(t *testing.T) {
	f, _, eng, _, _ := testFactory(t)

	var announced *Channel
	f.SetNewChannelHandler(func(ch channel.Channel, suppress bool) {
		announced = ch.(*Channel)
	})

	// the peer starts a receive-only stream, then asks us to send too
	node := jingleNode("call6", "session-initiate")
	content := audioContent("voice")
	content.SetAttribute("senders", "initiator")
	node.AppendElement(content)
	require.True(t, f.HandleIQ(sessionIQ(t, "bob@example.org/pc", node)))

	sess := announced.Session()
	st := sess.Streams()[0]
	require.Equal(t, DirectionReceive, st.Direction())

	node = jingleNode("call6", "content-modify")
	content = xmpp.NewElementName("content")
	content.SetAttribute("name", "voice")
	content.SetAttribute("senders", "both")
	node.AppendElement(content)
	require.True(t, f.HandleIQ(sessionIQ(t, "bob@example.org/pc", node)))

	// sending awaits the local user's approval
	require.Equal(t, DirectionReceive, st.Direction())
	require.NotZero(t, st.PendingSend()&PendingLocalSend)

	st.SetLocalCodecs([]Codec{{ID: 8, Name: "PCMA", ClockRate: 8000}})
	st.SetConnectionState(ConnectionConnected)
	// accepting approves the pending send
	sess.Accept()
	require.Equal(t, DirectionBoth, st.Direction())
	require.Zero(t, st.PendingSend()&PendingLocalSend)
	require.True(t, eng.sending["voice"])
}

func TestMediaRequestStreamsWithoutCaps(t *testing.T) {
	f, _, _, repo, cache := testFactory(t)

	h, err := repo.ForContact("carol@example.org", false)
	require.Nil(t, err)
	cache.Update(h, "web", presence.Available, "", 0)

	_, ch, err := f.Request(channel.StreamedMediaType, handle.ContactType, h, false)
	require.Nil(t, err)

	_, err = ch.(*Channel).Session().RequestStreams([]MediaType{Audio})
	require.NotNil(t, err)
}
