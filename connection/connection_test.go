/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package connection

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gobble-im/gobble/caps"
	"github.com/gobble-im/gobble/channel"
	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/media"
	"github.com/gobble-im/gobble/stream"
	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
)

type nullEngine struct{}

func (nullEngine) SetRemoteCodecs(name string, codecs []media.Codec)        {}
func (nullEngine) SetRemoteCandidates(name string, cands []media.Candidate) {}
func (nullEngine) SetPlaying(name string, playing bool)                     {}
func (nullEngine) SetSending(name string, sending bool)                     {}
func (nullEngine) StartTelephonyEvent(name string, ev byte)                 {}
func (nullEngine) StopTelephonyEvent(name string)                           {}
func (nullEngine) SetOutputWindow(name string, win uint32)                  {}
func (nullEngine) MuteInput(name string, mute bool)                         {}
func (nullEngine) MuteOutput(name string, mute bool)                        {}
func (nullEngine) SetVolume(name string, volume uint16)                     {}
func (nullEngine) Close(name string)                                        {}

type statusChange struct {
	status Status
	reason StatusReason
}

type handlesReply struct {
	handles []handle.Handle
	err     error
}

type pathReply struct {
	path string
	err  error
}

type aliasesReply struct {
	aliases []string
	err     error
}

type newChannelEvent struct {
	path     string
	typ      channel.Type
	ht       handle.Type
	h        handle.Handle
	suppress bool
}

func noSRV(service, proto, name string) (string, []*net.SRV, error) {
	return "", nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func testConn(t *testing.T, cfg Config) (*Connection, *stream.MockStream, chan statusChange) {
	t.Helper()
	if len(cfg.Account) == 0 {
		cfg.Account = "alice@example.org"
	}
	cfg.Password = "secret"
	c := New(cfg, nullEngine{})
	c.lookupSRV = noSRV
	ms := stream.NewMockStream("mock-1")
	c.newStream = func(stream.Config) stream.Stream { return ms }
	st := make(chan statusChange, 16)
	c.SetStatusChangedHandler(func(s Status, r StatusReason) { st <- statusChange{s, r} })
	return c, ms, st
}

func requireStatus(t *testing.T, st chan statusChange, want Status) StatusReason {
	t.Helper()
	select {
	case sc := <-st:
		require.Equal(t, want, sc.status)
		return sc.reason
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status %s", want)
	}
	return 0
}

func fetchSent(t *testing.T, ms *stream.MockStream) xmpp.XElement {
	t.Helper()
	elem := ms.FetchSent(2 * time.Second)
	require.NotNil(t, elem)
	return elem
}

func fetchSentIQ(t *testing.T, ms *stream.MockStream) *xmpp.IQ {
	t.Helper()
	iq, ok := fetchSent(t, ms).(*xmpp.IQ)
	require.True(t, ok)
	return iq
}

func resultIQ(t *testing.T, from, id string, child *xmpp.Element) *xmpp.IQ {
	t.Helper()
	el := xmpp.NewElementName("iq")
	el.SetID(id)
	el.SetType(xmpp.ResultType)
	el.SetFrom(from)
	el.SetTo("alice@example.org/gobble")
	if child != nil {
		el.AppendElement(child)
	}
	fromJID, err := jid.NewWithString(from, true)
	require.Nil(t, err)
	toJID, err := jid.NewWithString("alice@example.org/gobble", true)
	require.Nil(t, err)
	iq, err := xmpp.NewIQFromElement(el, fromJID, toJID)
	require.Nil(t, err)
	return iq
}

func inboundIQ(t *testing.T, from, id, typ string, child *xmpp.Element) *xmpp.IQ {
	t.Helper()
	el := xmpp.NewElementName("iq")
	el.SetID(id)
	el.SetType(typ)
	el.SetFrom(from)
	el.SetTo("alice@example.org/gobble")
	el.AppendElement(child)
	fromJID, err := jid.NewWithString(from, true)
	require.Nil(t, err)
	toJID, err := jid.NewWithString("alice@example.org/gobble", true)
	require.Nil(t, err)
	iq, err := xmpp.NewIQFromElement(el, fromJID, toJID)
	require.Nil(t, err)
	return iq
}

func infoQuery(features ...string) *xmpp.Element {
	query := xmpp.NewElementNamespace("query", discoInfoNamespace)
	for _, v := range features {
		f := xmpp.NewElementName("feature")
		f.SetAttribute("var", v)
		query.AppendElement(f)
	}
	return query
}

func replyServerDisco(t *testing.T, ms *stream.MockStream, features []string) {
	t.Helper()
	iq := fetchSentIQ(t, ms)
	require.Equal(t, xmpp.GetType, iq.Type())
	ms.ReceiveStanza(resultIQ(t, "example.org", iq.ID(), infoQuery(features...)))
}

// connectServer drives the mock through the whole connect sequence and
// drains the initial own presence and roster fetch. Connections whose
// server advertises google:jingleinfo send extra traffic and must be
// driven by hand.
func connectServer(t *testing.T, c *Connection, ms *stream.MockStream, st chan statusChange, features ...string) xmpp.XElement {
	t.Helper()
	c.Connect()
	requireStatus(t, st, StatusConnecting)
	replyServerDisco(t, ms, features)
	pr := fetchSent(t, ms)
	require.Equal(t, "presence", pr.Name())
	requireStatus(t, st, StatusConnected)
	fetchSentIQ(t, ms)
	return pr
}

func contactHandle(t *testing.T, c *Connection, name string) handle.Handle {
	t.Helper()
	ch := make(chan handlesReply, 1)
	c.RequestHandles("test-client", handle.ContactType, []string{name}, func(hs []handle.Handle, err error) {
		ch <- handlesReply{handles: hs, err: err}
	})
	select {
	case r := <-ch:
		require.Nil(t, r.err)
		require.Len(t, r.handles, 1)
		return r.handles[0]
	case <-time.After(2 * time.Second):
		t.Fatal("timed out resolving contact handle")
	}
	return 0
}

func TestConnectionConnect(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	require.Equal(t, StatusDisconnected, c.GetStatus())

	c.Connect()
	reason := requireStatus(t, st, StatusConnecting)
	require.Equal(t, ReasonRequested, reason)

	replyServerDisco(t, ms, []string{featureVarGoogleRoster})

	pr := fetchSent(t, ms)
	require.Equal(t, "presence", pr.Name())
	capsEl := pr.Elements().ChildNamespace("c", xmpp.CapabilitiesNamespace)
	require.NotNil(t, capsEl)
	require.Equal(t, caps.Node, capsEl.Attributes().Get("node"))
	require.Equal(t, caps.BaseBundle(), capsEl.Attributes().Get("ver"))

	reason = requireStatus(t, st, StatusConnected)
	require.Equal(t, ReasonRequested, reason)

	rosterIQ := fetchSentIQ(t, ms)
	query := rosterIQ.Elements().ChildNamespace("query", "jabber:iq:roster")
	require.NotNil(t, query)
	require.Equal(t, "google:roster", query.Attributes().Get("xmlns:gr"))

	done := make(chan handle.Handle, 1)
	c.Post(func() { done <- c.GetSelfHandle() })
	require.NotZero(t, <-done)
}

func TestConnectionAuthFailure(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	ms.SetAuthResult(false)
	c.Connect()
	requireStatus(t, st, StatusConnecting)
	require.Equal(t, ReasonAuthenticationFailed, requireStatus(t, st, StatusDisconnected))
}

func TestConnectionRegisterConflict(t *testing.T) {
	c, ms, st := testConn(t, Config{Register: true})
	ms.SetRegisterError(stream.ErrConflict)
	c.Connect()
	requireStatus(t, st, StatusConnecting)
	require.Equal(t, ReasonNameInUse, requireStatus(t, st, StatusDisconnected))
}

func TestConnectionCertFailure(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	ms.SetOpenResult(false)
	ms.SetSSLFailure(stream.SSLCertExpired)
	disconnected := make(chan struct{})
	c.SetDisconnectedHandler(func() { close(disconnected) })

	c.Connect()
	requireStatus(t, st, StatusConnecting)
	require.Equal(t, ReasonCertExpired, requireStatus(t, st, StatusDisconnected))
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never signalled")
	}
}

func TestConnectionProxyRetry(t *testing.T) {
	cfg := Config{
		Account:     "alice@example.org",
		Password:    "secret",
		ProxyServer: "proxy.example.org",
		ProxyPort:   8080,
	}
	c := New(cfg, nullEngine{})
	c.lookupSRV = noSRV
	streams := []*stream.MockStream{stream.NewMockStream("a"), stream.NewMockStream("b")}
	streams[0].SetOpenResult(false)
	var cfgs []stream.Config
	next := 0
	c.newStream = func(sc stream.Config) stream.Stream {
		cfgs = append(cfgs, sc)
		s := streams[next]
		if next < len(streams)-1 {
			next++
		}
		return s
	}
	st := make(chan statusChange, 16)
	c.SetStatusChangedHandler(func(s Status, r StatusReason) { st <- statusChange{s, r} })

	c.Connect()
	requireStatus(t, st, StatusConnecting)
	replyServerDisco(t, streams[1], nil)
	requireStatus(t, st, StatusConnected)

	read := make(chan []stream.Config, 1)
	c.Post(func() { read <- cfgs })
	got := <-read
	require.Len(t, got, 2)
	require.Equal(t, "proxy.example.org", got[0].ProxyServer)
	require.Empty(t, got[1].ProxyServer)
}

func TestConnectionDisconnectOrder(t *testing.T) {
	cfg := Config{Account: "alice@example.org", Password: "secret"}
	c := New(cfg, nullEngine{})
	c.lookupSRV = noSRV
	ms := stream.NewMockStream("mock-1")
	c.newStream = func(stream.Config) stream.Stream { return ms }

	events := make(chan string, 16)
	c.SetStatusChangedHandler(func(s Status, r StatusReason) { events <- "status:" + s.String() })
	c.SetDisconnectedHandler(func() { events <- "shutdown" })

	c.Connect()
	replyServerDisco(t, ms, nil)

	c.Disconnect()
	var got []string
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, saw %v", got)
		}
	}
	require.Equal(t, []string{"status:connecting", "status:connected", "status:disconnected", "shutdown"}, got)
}

func TestConnectionUnknownIQ(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	connectServer(t, c, ms, st)

	ms.ReceiveStanza(inboundIQ(t, "bob@example.org/pc", "v1", xmpp.GetType,
		xmpp.NewElementNamespace("query", "jabber:iq:version")))

	reply := fetchSent(t, ms)
	require.Equal(t, xmpp.ErrorType, reply.Type())
	require.Equal(t, "v1", reply.ID())
}

func TestConnectionJingleInfo(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	infoCh := make(chan JingleInfo, 4)
	c.SetJingleInfoHandler(func(info JingleInfo) { infoCh <- info })

	c.Connect()
	requireStatus(t, st, StatusConnecting)
	replyServerDisco(t, ms, []string{featureVarGoogleJingleInfo})
	require.Equal(t, "presence", fetchSent(t, ms).Name())
	requireStatus(t, st, StatusConnected)

	jingleIQ := fetchSentIQ(t, ms)
	require.NotNil(t, jingleIQ.Elements().ChildNamespace("query", jingleInfoNamespace))
	fetchSentIQ(t, ms) // roster fetch

	query := xmpp.NewElementNamespace("query", jingleInfoNamespace)
	stun := xmpp.NewElementName("stun")
	server := xmpp.NewElementName("server")
	server.SetAttribute("host", "stun.example.org")
	server.SetAttribute("udp", "19302")
	stun.AppendElement(server)
	relay := xmpp.NewElementName("relay")
	token := xmpp.NewElementName("token")
	token.SetText("relay-token")
	relayServer := xmpp.NewElementName("server")
	relayServer.SetAttribute("host", "relay.example.org")
	relay.AppendElement(token)
	relay.AppendElement(relayServer)
	query.AppendElement(stun)
	query.AppendElement(relay)
	ms.ReceiveStanza(resultIQ(t, "example.org", jingleIQ.ID(), query))

	select {
	case info := <-infoCh:
		require.Equal(t, "stun.example.org", info.StunServer)
		require.Equal(t, 19302, info.StunPort)
		require.Equal(t, "relay-token", info.RelayToken)
		require.Equal(t, "relay.example.org", info.RelayServer)
	case <-time.After(2 * time.Second):
		t.Fatal("jingle info never delivered")
	}
}

func TestConnectionRequestTextChannel(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	connectServer(t, c, ms, st)

	events := make(chan newChannelEvent, 4)
	c.SetNewChannelHandler(func(path string, typ channel.Type, ht handle.Type, h handle.Handle, suppress bool) {
		events <- newChannelEvent{path: path, typ: typ, ht: ht, h: h, suppress: suppress}
	})
	bob := contactHandle(t, c, "bob@example.org")

	replies := make(chan pathReply, 1)
	c.RequestChannel(channel.TextType, handle.ContactType, bob, false, func(path string, err error) {
		replies <- pathReply{path: path, err: err}
	})
	r := <-replies
	require.Nil(t, r.err)
	require.NotEmpty(t, r.path)

	select {
	case ev := <-events:
		require.Equal(t, r.path, ev.path)
		require.Equal(t, channel.TextType, ev.typ)
		require.Equal(t, bob, ev.h)
		require.False(t, ev.suppress)
	case <-time.After(2 * time.Second):
		t.Fatal("new channel never announced")
	}

	c.RequestChannel(channel.TextType, handle.ContactType, 9999, false, func(path string, err error) {
		replies <- pathReply{path: path, err: err}
	})
	r = <-replies
	code, ok := tperror.CodeOf(r.err)
	require.True(t, ok)
	require.Equal(t, tperror.InvalidHandle, code)

	c.RequestChannel(channel.RoomListType, handle.ListType, 0, false, func(path string, err error) {
		replies <- pathReply{path: path, err: err}
	})
	r = <-replies
	code, ok = tperror.CodeOf(r.err)
	require.True(t, ok)
	require.Equal(t, tperror.NotImplemented, code)
}

func TestConnectionRoomHandles(t *testing.T) {
	c, ms, st := testConn(t, Config{FallbackConferenceServer: "conf.example.org"})
	connectServer(t, c, ms, st)

	replies := make(chan handlesReply, 1)
	c.RequestHandles("test-client", handle.RoomType, []string{"muc-room@conf.example.org"}, func(hs []handle.Handle, err error) {
		replies <- handlesReply{handles: hs, err: err}
	})

	verifyIQ := fetchSentIQ(t, ms)
	require.Equal(t, "conf.example.org", verifyIQ.Attributes().Get("to"))
	ms.ReceiveStanza(resultIQ(t, "conf.example.org", verifyIQ.ID(), infoQuery(mucNamespace)))

	r := <-replies
	require.Nil(t, r.err)
	require.Len(t, r.handles, 1)
	room := r.handles[0]

	// A verified room answers from cache without touching the wire; a
	// bare name resolves the conference server first.
	c.RequestHandles("test-client", handle.RoomType, []string{"muc-room"}, func(hs []handle.Handle, err error) {
		replies <- handlesReply{handles: hs, err: err}
	})
	itemsIQ := fetchSentIQ(t, ms)
	require.NotNil(t, itemsIQ.Elements().ChildNamespace("query", "http://jabber.org/protocol/disco#items"))
	ms.ReceiveStanza(resultIQ(t, "example.org", itemsIQ.ID(), nil))

	r = <-replies
	require.Nil(t, r.err)
	require.Equal(t, []handle.Handle{room}, r.handles)
	require.Nil(t, ms.TryFetchSent())

	// An unverifiable room fails the whole request.
	c.RequestHandles("test-client", handle.RoomType, []string{"other@bad.example.org"}, func(hs []handle.Handle, err error) {
		replies <- handlesReply{handles: hs, err: err}
	})
	verifyIQ = fetchSentIQ(t, ms)
	require.Equal(t, "bad.example.org", verifyIQ.Attributes().Get("to"))
	ms.ReceiveStanza(resultIQ(t, "bad.example.org", verifyIQ.ID(), infoQuery("http://jabber.org/protocol/pubsub")))

	r = <-replies
	code, ok := tperror.CodeOf(r.err)
	require.True(t, ok)
	require.Equal(t, tperror.NotAvailable, code)
}

func TestConnectionAliases(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	connectServer(t, c, ms, st)

	changes := make(chan AliasChange, 8)
	c.SetAliasesChangedHandler(func(cs []AliasChange) {
		for _, ch := range cs {
			changes <- ch
		}
	})

	bob := contactHandle(t, c, "bob@example.org")
	carol := contactHandle(t, c, "carol@example.org")

	// roster push names bob
	query := xmpp.NewElementNamespace("query", "jabber:iq:roster")
	item := xmpp.NewElementName("item")
	item.SetAttribute("jid", "bob@example.org")
	item.SetAttribute("name", "Bobby")
	item.SetAttribute("subscription", "both")
	query.AppendElement(item)
	ms.ReceiveStanza(inboundIQ(t, "alice@example.org", "push1", xmpp.SetType, query))

	ack := fetchSentIQ(t, ms)
	require.True(t, ack.IsResult())
	select {
	case ch := <-changes:
		require.Equal(t, bob, ch.Handle)
		require.Equal(t, "Bobby", ch.Alias)
	case <-time.After(2 * time.Second):
		t.Fatal("alias change never signalled")
	}

	// carol has no alias source yet, so her vCard is consulted
	replies := make(chan aliasesReply, 1)
	c.RequestAliases([]handle.Handle{bob, carol}, func(aliases []string, err error) {
		replies <- aliasesReply{aliases: aliases, err: err}
	})
	vcardIQ := fetchSentIQ(t, ms)
	require.Equal(t, "carol@example.org", vcardIQ.Attributes().Get("to"))
	card := xmpp.NewElementNamespace("vCard", "vcard-temp")
	nick := xmpp.NewElementName("NICKNAME")
	nick.SetText("Caz")
	card.AppendElement(nick)
	ms.ReceiveStanza(resultIQ(t, "carol@example.org", vcardIQ.ID(), card))

	r := <-replies
	require.Nil(t, r.err)
	require.Equal(t, []string{"Bobby", "Caz"}, r.aliases)

	// renaming goes to the roster
	errCh := make(chan error, 1)
	c.SetAliases(map[handle.Handle]string{bob: "Robert"}, func(err error) { errCh <- err })
	renameIQ := fetchSentIQ(t, ms)
	renamed := renameIQ.Elements().ChildNamespace("query", "jabber:iq:roster").Elements().Child("item")
	require.NotNil(t, renamed)
	require.Equal(t, "bob@example.org", renamed.Attributes().Get("jid"))
	require.Equal(t, "Robert", renamed.Attributes().Get("name"))
	require.Nil(t, <-errCh)

	require.Equal(t, 1, c.GetAliasFlags()&AliasFlagUserSet)
}

func TestConnectionSetStatus(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	connectServer(t, c, ms, st, featureVarPresenceInvisible)

	errCh := make(chan error, 1)
	c.SetStatus("bogus", "", 0, func(err error) { errCh <- err })
	code, ok := tperror.CodeOf(<-errCh)
	require.True(t, ok)
	require.Equal(t, tperror.InvalidArgument, code)

	c.SetStatus("offline", "", 0, func(err error) { errCh <- err })
	code, ok = tperror.CodeOf(<-errCh)
	require.True(t, ok)
	require.Equal(t, tperror.InvalidArgument, code)

	c.SetStatus("away", strings.Repeat("x", MaximumStatusMessageLength+1), 0, func(err error) { errCh <- err })
	code, ok = tperror.CodeOf(<-errCh)
	require.True(t, ok)
	require.Equal(t, tperror.InvalidArgument, code)

	c.SetStatus("away", "brb", 5, func(err error) { errCh <- err })
	require.Nil(t, <-errCh)
	pr := fetchSent(t, ms)
	require.Equal(t, "presence", pr.Name())
	require.Equal(t, "away", pr.Elements().Child("show").Text())
	require.Equal(t, "brb", pr.Elements().Child("status").Text())
	require.Equal(t, "5", pr.Elements().Child("priority").Text())

	c.SetStatus("hidden", "", 0, func(err error) { errCh <- err })
	require.Nil(t, <-errCh)
	pr = fetchSent(t, ms)
	require.Equal(t, "invisible", pr.Type())
	require.Nil(t, pr.Elements().Child("show"))
}

func TestConnectionAdvertiseCapabilities(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	pr := connectServer(t, c, ms, st)
	capsEl := pr.Elements().ChildNamespace("c", xmpp.CapabilitiesNamespace)
	require.Empty(t, capsEl.Attributes().Get("ext"))

	errCh := make(chan error, 1)
	c.AdvertiseCapabilities([]channel.Type{channel.StreamedMediaType}, nil, func(err error) { errCh <- err })
	require.Nil(t, <-errCh)

	pr = fetchSent(t, ms)
	capsEl = pr.Elements().ChildNamespace("c", xmpp.CapabilitiesNamespace)
	require.Equal(t, "voice-v1 jingle-audio jingle-video", capsEl.Attributes().Get("ext"))

	// the voice bundle is now answerable over disco
	node := caps.Node + "#voice-v1"
	query := xmpp.NewElementNamespace("query", discoInfoNamespace)
	query.SetAttribute("node", node)
	ms.ReceiveStanza(inboundIQ(t, "bob@example.org/pc", "d1", xmpp.GetType, query))
	reply := fetchSent(t, ms)
	require.Equal(t, xmpp.ResultType, reply.Type())
	feats := reply.Elements().ChildNamespace("query", discoInfoNamespace).Elements().Children("feature")
	require.Len(t, feats, 1)
	require.Equal(t, "http://www.google.com/xmpp/protocol/voice/v1", feats[0].Attributes().Get("var"))

	rows := make(chan []CapabilityInfo, 1)
	done := make(chan handle.Handle, 1)
	c.Post(func() { done <- c.GetSelfHandle() })
	self := <-done
	c.GetCapabilities([]handle.Handle{self}, func(rs []CapabilityInfo, err error) { rows <- rs })
	got := <-rows
	require.Len(t, got, 2)
	require.Equal(t, channel.TextType, got[0].ChannelType)
	require.Equal(t, channel.StreamedMediaType, got[1].ChannelType)
	require.Equal(t, MediaCapAudio|MediaCapVideo, got[1].TypeFlags)

	// retracting drops the bundles again
	c.AdvertiseCapabilities(nil, []channel.Type{channel.StreamedMediaType}, func(err error) { errCh <- err })
	require.Nil(t, <-errCh)
	pr = fetchSent(t, ms)
	capsEl = pr.Elements().ChildNamespace("c", xmpp.CapabilitiesNamespace)
	require.Empty(t, capsEl.Attributes().Get("ext"))

	c.GetCapabilities([]handle.Handle{self}, func(rs []CapabilityInfo, err error) { rows <- rs })
	got = <-rows
	require.Len(t, got, 1)
	require.Equal(t, channel.TextType, got[0].ChannelType)
}

func TestConnectionUnknownBundleDisco(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	connectServer(t, c, ms, st)

	query := xmpp.NewElementNamespace("query", discoInfoNamespace)
	query.SetAttribute("node", "http://elsewhere.example/caps#voice-v1")
	ms.ReceiveStanza(inboundIQ(t, "bob@example.org/pc", "d2", xmpp.GetType, query))
	reply := fetchSent(t, ms)
	require.Equal(t, xmpp.ErrorType, reply.Type())
	require.Equal(t, "d2", reply.ID())
}

type stubChannel struct {
	channel.Base
}

func (*stubChannel) Close() error { return nil }

// roomListFactory hands out room list channels asynchronously so the
// request sits queued until the factory announces the channel.
type roomListFactory struct {
	announce channel.NewChannelHandler
}

func (f *roomListFactory) Connecting()                      {}
func (f *roomListFactory) Connected()                       {}
func (f *roomListFactory) Disconnected()                    {}
func (f *roomListFactory) CloseAll()                        {}
func (f *roomListFactory) Foreach(func(ch channel.Channel)) {}

func (f *roomListFactory) Request(typ channel.Type, ht handle.Type, h handle.Handle, suppress bool) (channel.RequestStatus, channel.Channel, error) {
	if typ != channel.RoomListType {
		return channel.RequestNotImplemented, nil, nil
	}
	return channel.RequestQueued, nil, nil
}

func (f *roomListFactory) SetNewChannelHandler(h channel.NewChannelHandler) { f.announce = h }
func (f *roomListFactory) SetErrorHandler(channel.ErrorHandler)             {}
func (f *roomListFactory) SetClosedHandler(channel.ClosedHandler)           {}

func TestConnectionQueuedChannelRequest(t *testing.T) {
	c, ms, st := testConn(t, Config{})
	connectServer(t, c, ms, st)

	qf := &roomListFactory{}
	installed := make(chan struct{})
	c.Post(func() {
		qf.SetNewChannelHandler(c.channelAnnounced)
		c.factories = append([]channel.Factory{qf}, c.factories...)
		close(installed)
	})
	<-installed

	events := make(chan newChannelEvent, 1)
	c.SetNewChannelHandler(func(path string, typ channel.Type, ht handle.Type, h handle.Handle, suppress bool) {
		events <- newChannelEvent{path: path, typ: typ, ht: ht, h: h, suppress: suppress}
	})

	replies := make(chan pathReply, 1)
	c.RequestChannel(channel.RoomListType, handle.NoneType, 0, true, func(path string, err error) {
		replies <- pathReply{path: path, err: err}
	})

	select {
	case r := <-replies:
		t.Fatalf("queued request answered early: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	ch := &stubChannel{Base: channel.NewBaseChannel(channel.RoomListType, handle.NoneType, 0)}
	c.Post(func() { qf.announce(ch, false) })

	select {
	case r := <-replies:
		require.Nil(t, r.err)
		require.Equal(t, ch.ObjectPath(), r.path)
	case <-time.After(2 * time.Second):
		t.Fatal("queued request never completed")
	}
	select {
	case ev := <-events:
		require.Equal(t, ch.ObjectPath(), ev.path)
		require.True(t, ev.suppress)
	case <-time.After(2 * time.Second):
		t.Fatal("no new channel signal")
	}
}

func TestConnectionStreamLoss(t *testing.T) {
	c, ms, st := testConn(t, Config{})

	disconnected := make(chan struct{})
	c.SetDisconnectedHandler(func() { close(disconnected) })
	connectServer(t, c, ms, st)

	ms.Disconnect(stream.DisconnectHangUp)
	reason := requireStatus(t, st, StatusDisconnected)
	require.Equal(t, ReasonNetworkError, reason)
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnected signal never fired")
	}
}

func TestConnectionServerResolution(t *testing.T) {
	resolve := func(cfg Config, lookup func(service, proto, name string) (string, []*net.SRV, error)) stream.Config {
		cfg.Account = "alice@example.org"
		cfg.Password = "secret"
		c := New(cfg, nullEngine{})
		c.lookupSRV = lookup
		got := make(chan stream.Config, 1)
		c.newStream = func(sc stream.Config) stream.Stream {
			got <- sc
			ms := stream.NewMockStream("mock-srv")
			ms.SetOpenResult(false)
			return ms
		}
		c.Connect()
		select {
		case sc := <-got:
			return sc
		case <-time.After(2 * time.Second):
			t.Fatal("stream never created")
		}
		return stream.Config{}
	}

	// explicit override wins without consulting DNS
	asked := make(chan string, 1)
	sc := resolve(Config{Server: "talk.example.net", Port: 5223}, func(service, proto, name string) (string, []*net.SRV, error) {
		asked <- name
		return "", nil, nil
	})
	require.Equal(t, "talk.example.net", sc.Server)
	require.Equal(t, 5223, sc.Port)
	select {
	case name := <-asked:
		t.Fatalf("unexpected SRV query for %s", name)
	default:
	}

	// SRV record supplies host and port
	sc = resolve(Config{}, func(service, proto, name string) (string, []*net.SRV, error) {
		return "_xmpp-client._tcp." + name, []*net.SRV{{Target: "xmpp1.example.org.", Port: 5269}}, nil
	})
	require.Equal(t, "example.org", sc.Domain)
	require.Equal(t, "xmpp1.example.org", sc.Server)
	require.Equal(t, 5269, sc.Port)

	// no SRV record falls back to the JID domain
	sc = resolve(Config{}, noSRV)
	require.Equal(t, "example.org", sc.Server)
	require.Equal(t, 5222, sc.Port)
}

func TestConnectionRoomMemberAlias(t *testing.T) {
	c, _, _ := testConn(t, Config{})

	type aliasAndSource struct {
		alias  string
		source aliasSource
	}
	got := make(chan aliasAndSource, 1)
	c.Post(func() {
		h, err := c.handles.ForContact("tavern@conf.example.org/Hugo", true)
		if err != nil {
			got <- aliasAndSource{}
			return
		}
		alias, source := c.aliasFor(h)
		got <- aliasAndSource{alias: alias, source: source}
	})

	r := <-got
	require.Equal(t, "Hugo", r.alias)
	require.Equal(t, aliasSourceResource, r.source)
}
