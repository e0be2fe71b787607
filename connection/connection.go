/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package connection

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pborman/uuid"

	"github.com/gobble-im/gobble/caps"
	"github.com/gobble-im/gobble/channel"
	"github.com/gobble-im/gobble/disco"
	"github.com/gobble-im/gobble/errors"
	"github.com/gobble-im/gobble/handle"
	"github.com/gobble-im/gobble/log"
	"github.com/gobble-im/gobble/media"
	"github.com/gobble-im/gobble/presence"
	"github.com/gobble-im/gobble/roster"
	"github.com/gobble-im/gobble/runqueue"
	"github.com/gobble-im/gobble/stream"
	"github.com/gobble-im/gobble/vcard"
	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
)

// Status is the externally observable connection state.
type Status int

const (
	StatusNew Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "disconnected"
}

// StatusReason tells why a status transition happened.
type StatusReason int

const (
	ReasonRequested StatusReason = iota
	ReasonNetworkError
	ReasonNameInUse
	ReasonAuthenticationFailed
	ReasonEncryptionError
	ReasonCertNotProvided
	ReasonCertUntrusted
	ReasonCertExpired
	ReasonCertNotActivated
	ReasonCertHostnameMismatch
	ReasonCertFingerprintMismatch
	ReasonCertOtherError
)

// Protocol is the protocol name reported to external callers.
const Protocol = "jabber"

// Interfaces is the static interface set this connection exposes.
var Interfaces = []string{
	"im.gobble.Connection.Interface.Aliasing",
	"im.gobble.Connection.Interface.Capabilities",
	"im.gobble.Connection.Interface.Presence",
	"im.gobble.Connection.Interface.SimplePresence",
	"im.gobble.Connection.Interface.Properties",
}

const (
	discoInfoNamespace  = "http://jabber.org/protocol/disco#info"
	jingleInfoNamespace = "google:jingleinfo"
	mucNamespace        = "http://jabber.org/protocol/muc"

	serverDiscoTimeout = 5 * time.Second
	iqDefaultTimeout   = 30 * time.Second
)

const (
	featureVarGoogleJingleInfo  = "google:jingleinfo"
	featureVarGoogleRoster      = "google:roster"
	featureVarPresenceInvisible = "presence-invisible"
	featureVarPrivacy           = "jabber:iq:privacy"
)

type serverFeature uint8

const (
	serverGoogleJingleInfo serverFeature = 1 << iota
	serverGoogleRoster
	serverPresenceInvisible
	serverPrivacy
)

// JingleInfo carries the relay and STUN hints discovered through
// google:jingleinfo.
type JingleInfo struct {
	StunServer  string
	StunPort    int
	RelayToken  string
	RelayServer string
}

// StatusChangedHandler observes connection state transitions.
type StatusChangedHandler func(status Status, reason StatusReason)

// NewChannelHandler observes announced channels.
type NewChannelHandler func(objectPath string, typ channel.Type, ht handle.Type, h handle.Handle, suppress bool)

// DisconnectedHandler fires once the connection has fully shut down
// and the enclosing process may release its bus name.
type DisconnectedHandler func()

// PresenceUpdateHandler observes contact presence changes.
type PresenceUpdateHandler func(h handle.Handle)

// JingleInfoHandler observes relay/STUN hint updates.
type JingleInfoHandler func(info JingleInfo)

type pendingIQ struct {
	cb    func(reply xmpp.XElement, err error)
	timer *time.Timer
}

// Connection owns the stream, the channel factories, the handle
// repository and the presence cache. All state is confined to its run
// queue; public methods either run there or hop onto it.
type Connection struct {
	cfg  Config
	runq *runqueue.RunQueue

	newStream func(cfg stream.Config) stream.Stream
	lookupSRV func(service, proto, name string) (string, []*net.SRV, error)
	strm      stream.Stream
	streamCfg stream.Config

	state        Status
	proxyRetried bool
	disconnEmit  bool

	localJID   *jid.JID
	selfHandle handle.Handle

	handles   *handle.Repository
	presences *presence.Cache
	disc      *disco.Client
	roster    *roster.Roster
	vcards    *vcard.Manager

	textFactory  *channel.TextFactory
	mediaFactory *media.Factory
	factories    []channel.Factory

	queuedRequests []*channel.Request

	iqHandlers []func(iq *xmpp.IQ) bool
	pendingIQs map[string]*pendingIQ

	serverFeatures serverFeature
	jingleInfo     JingleInfo

	selfStatus   presence.Status
	selfMessage  string
	selfPriority int8
	selfCaps     caps.Set

	conferenceServer string

	aliasSources map[handle.Handle]aliasSource

	statusHandler     StatusChangedHandler
	newChannelHandler NewChannelHandler
	disconnHandler    DisconnectedHandler
	presenceHandler   PresenceUpdateHandler
	aliasesHandler    AliasesChangedHandler
	capsHandler       presence.CapsHandler
	jingleInfoHandler JingleInfoHandler
}

// New builds an unconnected connection for one account. The engine is
// the local media stack media channels will drive.
func New(cfg Config, engine media.Engine) *Connection {
	cfg.applyDefaults()
	c := &Connection{
		cfg:          cfg,
		runq:         runqueue.New("connection:" + cfg.Account),
		state:        StatusNew,
		handles:      handle.New(),
		pendingIQs:   make(map[string]*pendingIQ),
		aliasSources: make(map[handle.Handle]aliasSource),
		selfStatus:   presence.Available,
	}
	c.newStream = func(sc stream.Config) stream.Stream { return stream.NewSocket(sc) }
	c.lookupSRV = net.LookupSRV

	c.disc = disco.NewClient(c)
	c.presences = presence.NewCache(c.handles, c.disc)
	c.roster = roster.New(c, c.handles)
	c.vcards = vcard.NewManager(c, c.handles)

	c.textFactory = channel.NewTextFactory(c.handles, c)
	c.mediaFactory = media.NewFactory(c, engine, c.handles, c.presences)
	c.factories = []channel.Factory{c.textFactory, c.mediaFactory}
	for _, f := range c.factories {
		f.SetNewChannelHandler(c.channelAnnounced)
		f.SetErrorHandler(c.channelFailed)
		f.SetClosedHandler(c.channelClosed)
	}

	c.presences.SetUpdateHandler(c.presenceUpdated)
	c.presences.SetCapsHandler(func(h handle.Handle, old, now caps.Set) {
		if c.capsHandler != nil {
			c.capsHandler(h, old, now)
		}
	})
	c.roster.SetUpdateHandler(func(h handle.Handle, item roster.Item) {
		if len(item.Name) > 0 {
			c.noteAlias(h, item.Name, aliasSourceRoster)
		}
	})
	return c
}

func (c *Connection) SetStatusChangedHandler(h StatusChangedHandler) { c.statusHandler = h }
func (c *Connection) SetNewChannelHandler(h NewChannelHandler)       { c.newChannelHandler = h }
func (c *Connection) SetDisconnectedHandler(h DisconnectedHandler)   { c.disconnHandler = h }
func (c *Connection) SetPresenceUpdateHandler(h PresenceUpdateHandler) {
	c.presenceHandler = h
}
func (c *Connection) SetAliasesChangedHandler(h AliasesChangedHandler) {
	c.aliasesHandler = h
}
func (c *Connection) SetCapabilitiesChangedHandler(h presence.CapsHandler) {
	c.capsHandler = h
}
func (c *Connection) SetJingleInfoHandler(h JingleInfoHandler) { c.jingleInfoHandler = h }

// GetStatus reports the connection state; a never-connected
// connection reads as disconnected.
func (c *Connection) GetStatus() Status {
	if c.state == StatusNew {
		return StatusDisconnected
	}
	return c.state
}

func (c *Connection) GetProtocol() string     { return Protocol }
func (c *Connection) GetInterfaces() []string { return Interfaces }

// GetSelfHandle returns the handle of the connected account, zero
// before Connect.
func (c *Connection) GetSelfHandle() handle.Handle { return c.selfHandle }

// LocalJID returns the full JID this connection is signed in as.
func (c *Connection) LocalJID() *jid.JID { return c.localJID }

// Post runs fn on the connection's run queue.
func (c *Connection) Post(fn func()) { c.runq.Run(fn) }

// Connect starts the asynchronous connection sequence. Progress is
// reported through the status changed handler.
func (c *Connection) Connect() {
	c.runq.Run(c.connect)
}

// Disconnect tears the connection down.
func (c *Connection) Disconnect() {
	c.runq.Run(func() {
		switch c.state {
		case StatusConnecting, StatusConnected:
			c.setStatus(StatusDisconnected, ReasonRequested)
		case StatusNew:
			c.setStatus(StatusDisconnected, ReasonRequested)
		}
	})
}

func (c *Connection) connect() {
	if c.state != StatusNew {
		log.Warnf("connection: connect requested in state %s", c.state)
		return
	}
	j, err := jid.NewWithString(c.cfg.Account, false)
	if err != nil || len(j.Node()) == 0 {
		log.Errorf("connection: malformed account %q", c.cfg.Account)
		c.setStatus(StatusDisconnected, ReasonNetworkError)
		return
	}
	c.localJID = j.ToBareJID().WithResource(c.cfg.Resource)

	h, err := c.handles.ForContact(j.ToBareJID().String(), false)
	if err != nil {
		c.setStatus(StatusDisconnected, ReasonNetworkError)
		return
	}
	c.selfHandle = h
	c.handles.Ref(handle.ContactType, h)
	c.presences.SetSelfJID(c.localJID)
	c.presences.SetSelfHandle(h)

	// seed the local view of ourselves before anything hits the wire
	c.selfCaps = caps.Initial()
	c.presences.Update(h, c.cfg.Resource, presence.Available, "", 0)
	c.presences.SetCapabilities(h, c.cfg.Resource, c.selfCaps, c.presences.NextSerial())

	c.setStatus(StatusConnecting, ReasonRequested)

	// DNS blocks, so resolve off the run queue and hop back.
	go func() {
		server, port := c.resolveServer(j.Domain())
		c.runq.Run(func() {
			if c.state != StatusConnecting {
				return
			}
			c.streamCfg = stream.Config{
				Domain:          j.Domain(),
				Server:          server,
				Port:            port,
				ProxyServer:     c.cfg.ProxyServer,
				ProxyPort:       c.cfg.ProxyPort,
				OldSSL:          c.cfg.OldSSL,
				SSLErrorHandler: c.sslError,
				KeepAlive:       c.cfg.KeepAlive,
			}
			c.openStream()
		})
	}()
}

// resolveServer picks the stream server: an explicit configured
// override wins, then the domain's xmpp-client SRV record, then the
// domain itself.
func (c *Connection) resolveServer(domain string) (string, int) {
	if len(c.cfg.Server) > 0 {
		return c.cfg.Server, c.cfg.Port
	}
	_, addrs, err := c.lookupSRV("xmpp-client", "tcp", domain)
	if err != nil || len(addrs) == 0 {
		return domain, c.cfg.Port
	}
	target := strings.TrimSuffix(addrs[0].Target, ".")
	if len(target) == 0 {
		return domain, c.cfg.Port
	}
	return target, int(addrs[0].Port)
}

func (c *Connection) openStream() {
	c.strm = c.newStream(c.streamCfg)
	c.strm.SetStanzaHandler(func(stanza xmpp.Stanza) {
		c.runq.Run(func() { c.handleStanza(stanza) })
	})
	c.strm.SetDisconnectHandler(func(reason stream.DisconnectReason) {
		c.runq.Run(func() { c.streamDisconnected(reason) })
	})
	c.strm.Open(func(success bool) {
		c.runq.Run(func() { c.openDone(success) })
	})
}

func (c *Connection) sslError(status stream.SSLStatus) stream.SSLResponse {
	if c.cfg.IgnoreSSLErrors {
		return stream.SSLContinue
	}
	return stream.SSLStop
}

func (c *Connection) openDone(success bool) {
	if c.state != StatusConnecting {
		return
	}
	if !success {
		// a broken proxy should not doom the account; try once direct
		if len(c.streamCfg.ProxyServer) > 0 && !c.proxyRetried {
			c.proxyRetried = true
			c.streamCfg.ProxyServer = ""
			c.streamCfg.ProxyPort = 0
			log.Infof("connection: proxied open failed, retrying direct")
			c.openStream()
			return
		}
		reason := ReasonNetworkError
		if status, latched := c.strm.SSLFailure(); latched {
			reason = certReason(status)
		}
		c.setStatus(StatusDisconnected, reason)
		return
	}
	if c.cfg.Register {
		c.strm.Register(c.localJID.Node(), c.cfg.Password, func(err error) {
			c.runq.Run(func() { c.registerDone(err) })
		})
		return
	}
	c.authenticate()
}

func (c *Connection) registerDone(err error) {
	if c.state != StatusConnecting {
		return
	}
	switch err {
	case nil:
		c.authenticate()
	case stream.ErrConflict:
		c.setStatus(StatusDisconnected, ReasonNameInUse)
	default:
		c.setStatus(StatusDisconnected, ReasonAuthenticationFailed)
	}
}

func (c *Connection) authenticate() {
	c.strm.Authenticate(c.localJID.Node(), c.cfg.Password, c.cfg.Resource, func(success bool) {
		c.runq.Run(func() { c.authDone(success) })
	})
}

func (c *Connection) authDone(success bool) {
	if c.state != StatusConnecting {
		return
	}
	if !success {
		c.setStatus(StatusDisconnected, ReasonAuthenticationFailed)
		return
	}
	serverJID, err := jid.NewWithString(c.localJID.Domain(), true)
	if err != nil {
		c.setStatus(StatusDisconnected, ReasonNetworkError)
		return
	}
	_, err = c.disc.RequestInfoWithTimeout(serverJID, "", func(identities []disco.Identity, features []string, err error) {
		c.serverDiscoDone(features, err)
	}, serverDiscoTimeout)
	if err != nil {
		c.setStatus(StatusDisconnected, ReasonNetworkError)
	}
}

func (c *Connection) serverDiscoDone(features []string, err error) {
	if c.state != StatusConnecting {
		return
	}
	if err != nil {
		// a server without disco still speaks presence; carry on bare
		log.Warnf("connection: server feature discovery failed: %v", err)
	}
	for _, v := range features {
		switch v {
		case featureVarGoogleJingleInfo:
			c.serverFeatures |= serverGoogleJingleInfo
		case featureVarGoogleRoster:
			c.serverFeatures |= serverGoogleRoster
		case featureVarPresenceInvisible:
			c.serverFeatures |= serverPresenceInvisible
		case featureVarPrivacy:
			c.serverFeatures |= serverPrivacy
		}
	}
	if !c.signalOwnPresence() {
		c.setStatus(StatusDisconnected, ReasonNetworkError)
		return
	}
	c.setStatus(StatusConnected, ReasonRequested)

	if c.serverFeatures&serverGoogleJingleInfo != 0 {
		c.requestJingleInfo()
	}
	c.roster.SetGoogleRoster(c.serverFeatures&serverGoogleRoster != 0)
	if err := c.roster.Fetch(); err != nil {
		log.Warnf("connection: roster fetch failed: %v", err)
	}
}

func (c *Connection) setStatus(next Status, reason StatusReason) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	log.Infof("connection: %s -> %s (%d)", prev, next, reason)

	switch next {
	case StatusConnecting:
		c.registerIQHandlers()
		for _, f := range c.factories {
			f.Connecting()
		}
	case StatusConnected:
		for _, f := range c.factories {
			f.Connected()
		}
	case StatusDisconnected:
		for _, f := range c.factories {
			f.CloseAll()
		}
		c.rejectQueuedRequests()
		if c.selfHandle != 0 {
			c.handles.Unref(handle.ContactType, c.selfHandle)
		}
		c.iqHandlers = nil
		c.failPendingIQs()
		for _, f := range c.factories {
			f.Disconnected()
		}
	}

	if c.statusHandler != nil {
		c.statusHandler(next, reason)
	}

	if next == StatusDisconnected {
		if c.strm != nil && c.strm.IsOpen() {
			c.strm.Close()
		} else {
			c.emitDisconnected()
		}
	}
}

func (c *Connection) streamDisconnected(reason stream.DisconnectReason) {
	if c.state == StatusDisconnected || c.state == StatusNew {
		c.emitDisconnected()
		return
	}
	if reason == stream.DisconnectClosed {
		c.setStatus(StatusDisconnected, ReasonRequested)
		return
	}
	c.setStatus(StatusDisconnected, ReasonNetworkError)
}

func (c *Connection) emitDisconnected() {
	if c.disconnEmit {
		return
	}
	c.disconnEmit = true
	if c.disconnHandler != nil {
		c.disconnHandler()
	}
}

func certReason(status stream.SSLStatus) StatusReason {
	switch status {
	case stream.SSLNoCertProvided:
		return ReasonCertNotProvided
	case stream.SSLUntrustedCert:
		return ReasonCertUntrusted
	case stream.SSLCertExpired:
		return ReasonCertExpired
	case stream.SSLCertNotActivated:
		return ReasonCertNotActivated
	case stream.SSLCertHostnameMismatch:
		return ReasonCertHostnameMismatch
	}
	return ReasonCertOtherError
}

// signalOwnPresence composes and sends our <presence/> with the
// entity capability attribute attached.
func (c *Connection) signalOwnPresence() bool {
	pr := xmpp.NewElementName("presence")

	show := ""
	switch c.selfStatus {
	case presence.Away:
		show = "away"
	case presence.Chat:
		show = "chat"
	case presence.DoNotDisturb:
		show = "dnd"
	case presence.ExtendedAway:
		show = "xa"
	case presence.Hidden:
		if c.serverFeatures&serverPresenceInvisible != 0 {
			pr.SetType("invisible")
		} else {
			show = "dnd"
		}
	}
	if len(show) > 0 {
		el := xmpp.NewElementName("show")
		el.SetText(show)
		pr.AppendElement(el)
	}
	if len(c.selfMessage) > 0 {
		el := xmpp.NewElementName("status")
		el.SetText(c.selfMessage)
		pr.AppendElement(el)
	}
	if c.selfPriority != 0 {
		el := xmpp.NewElementName("priority")
		el.SetText(strconv.Itoa(int(c.selfPriority)))
		pr.AppendElement(el)
	}

	capsEl := xmpp.NewElementNamespace("c", xmpp.CapabilitiesNamespace)
	capsEl.SetAttribute("node", caps.Node)
	capsEl.SetAttribute("ver", caps.BaseBundle())
	if exts := c.selfCaps.BundleExtensions(); len(exts) > 0 {
		capsEl.SetAttribute("ext", strings.Join(exts, " "))
	}
	pr.AppendElement(capsEl)

	if err := c.strm.Send(pr); err != nil {
		log.Warnf("connection: sending own presence failed: %v", err)
		return false
	}
	return true
}

// SendStanza writes a stanza to the wire.
func (c *Connection) SendStanza(elem xmpp.XElement) error {
	if c.strm == nil || !c.strm.IsOpen() {
		return tperror.New(tperror.Disconnected, "stream is not open")
	}
	return c.strm.Send(elem)
}

// SendIQWithReply sends an IQ and routes its result or error reply to
// cb. The returned cancel silently drops the reply.
func (c *Connection) SendIQWithReply(iq *xmpp.IQ, timeout time.Duration, cb func(reply xmpp.XElement, err error)) (func(), error) {
	if c.strm == nil || !c.strm.IsOpen() {
		return nil, tperror.New(tperror.Disconnected, "stream is not open")
	}
	if timeout == 0 {
		timeout = iqDefaultTimeout
	}
	if err := c.strm.Send(iq); err != nil {
		return nil, err
	}
	id := iq.ID()
	p := &pendingIQ{cb: cb}
	p.timer = time.AfterFunc(timeout, func() {
		c.runq.Run(func() { c.expirePendingIQ(id, p) })
	})
	c.pendingIQs[id] = p
	cancel := func() {
		c.runq.Run(func() { c.dropPendingIQ(id, p) })
	}
	return cancel, nil
}

func (c *Connection) expirePendingIQ(id string, p *pendingIQ) {
	if c.pendingIQs[id] != p {
		return
	}
	delete(c.pendingIQs, id)
	p.cb(nil, tperror.Newf(tperror.NetworkError, "no reply for iq %s", id))
}

func (c *Connection) dropPendingIQ(id string, p *pendingIQ) {
	if c.pendingIQs[id] != p {
		return
	}
	p.timer.Stop()
	delete(c.pendingIQs, id)
}

func (c *Connection) failPendingIQs() {
	for id, p := range c.pendingIQs {
		p.timer.Stop()
		delete(c.pendingIQs, id)
		p.cb(nil, tperror.New(tperror.Disconnected, "connection closed"))
	}
}

func (c *Connection) handleStanza(stanza xmpp.Stanza) {
	switch st := stanza.(type) {
	case *xmpp.Presence:
		c.presences.ParsePresence(st)
	case *xmpp.Message:
		c.presences.ParseMessage(st)
		c.textFactory.ReceiveMessage(st)
	case *xmpp.IQ:
		c.handleIQ(st)
	}
}

func (c *Connection) handleIQ(iq *xmpp.IQ) {
	// replies match on (id, result|error); other subtypes with a known
	// id keep flowing to the handlers
	if p, ok := c.pendingIQs[iq.ID()]; ok {
		if iq.IsResult() || iq.Type() == xmpp.ErrorType {
			p.timer.Stop()
			delete(c.pendingIQs, iq.ID())
			p.cb(iq, nil)
			return
		}
	}
	for _, h := range c.iqHandlers {
		if h(iq) {
			return
		}
	}
	if iq.Type() == xmpp.GetType || iq.Type() == xmpp.SetType {
		_ = c.SendStanza(iq.ServiceUnavailableError())
	}
}

func (c *Connection) registerIQHandlers() {
	c.iqHandlers = []func(iq *xmpp.IQ) bool{
		c.handleJingleInfoIQ,
		c.handleDiscoInfoIQ,
		c.roster.HandleIQ,
		c.mediaFactory.HandleIQ,
	}
}

func (c *Connection) presenceUpdated(h handle.Handle) {
	if c.presenceHandler != nil {
		c.presenceHandler(h)
	}
	if rec := c.presences.Get(h); rec != nil {
		if nick := rec.Nickname(); len(nick) > 0 {
			c.noteAlias(h, nick, aliasSourcePresence)
		}
	}
}

// handleDiscoInfoIQ answers disco#info queries addressed to us, both
// for the full feature list and for single capability bundles.
func (c *Connection) handleDiscoInfoIQ(iq *xmpp.IQ) bool {
	if iq.Type() != xmpp.GetType {
		return false
	}
	query := iq.Elements().ChildNamespace("query", discoInfoNamespace)
	if query == nil {
		return false
	}
	node := query.Attributes().Get("node")
	var features []string
	if len(node) == 0 {
		features = c.selfCaps.FeaturesForBundle("")
	} else {
		i := strings.LastIndex(node, "#")
		if i < 0 || node[:i] != caps.Node {
			_ = c.SendStanza(iq.ItemNotFoundError())
			return true
		}
		features = c.selfCaps.FeaturesForBundle(node[i+1:])
		if len(features) == 0 {
			_ = c.SendStanza(iq.ItemNotFoundError())
			return true
		}
	}
	result := iq.ResultIQ()
	reply := xmpp.NewElementNamespace("query", discoInfoNamespace)
	if len(node) > 0 {
		reply.SetAttribute("node", node)
	}
	identity := xmpp.NewElementName("identity")
	identity.SetAttribute("category", "client")
	identity.SetAttribute("type", "pc")
	identity.SetAttribute("name", "gobble")
	reply.AppendElement(identity)
	for _, v := range features {
		f := xmpp.NewElementName("feature")
		f.SetAttribute("var", v)
		reply.AppendElement(f)
	}
	result.AppendElement(reply)
	_ = c.SendStanza(result)
	return true
}

func newIQID() string { return uuid.New() }

func (c *Connection) requestJingleInfo() {
	iq := xmpp.NewIQType(newIQID(), xmpp.GetType)
	iq.AppendElement(xmpp.NewElementNamespace("query", jingleInfoNamespace))
	_, err := c.SendIQWithReply(iq, iqDefaultTimeout, func(reply xmpp.XElement, err error) {
		if err != nil {
			log.Warnf("connection: jingle info discovery failed: %v", err)
			return
		}
		c.parseJingleInfo(reply)
	})
	if err != nil {
		log.Warnf("connection: jingle info request failed: %v", err)
	}
}

// handleJingleInfoIQ consumes server pushed relay/STUN updates.
func (c *Connection) handleJingleInfoIQ(iq *xmpp.IQ) bool {
	if iq.Type() != xmpp.SetType {
		return false
	}
	if iq.Elements().ChildNamespace("query", jingleInfoNamespace) == nil {
		return false
	}
	c.parseJingleInfo(iq)
	_ = c.SendStanza(iq.ResultIQ())
	return true
}

func (c *Connection) parseJingleInfo(el xmpp.XElement) {
	query := el.Elements().ChildNamespace("query", jingleInfoNamespace)
	if query == nil {
		return
	}
	if stun := query.Elements().Child("stun"); stun != nil {
		for _, server := range stun.Elements().Children("server") {
			host := server.Attributes().Get("host")
			if len(host) == 0 {
				continue
			}
			c.jingleInfo.StunServer = host
			if port, err := strconv.Atoi(server.Attributes().Get("udp")); err == nil {
				c.jingleInfo.StunPort = port
			}
			break
		}
	}
	if relay := query.Elements().Child("relay"); relay != nil {
		if token := relay.Elements().Child("token"); token != nil {
			c.jingleInfo.RelayToken = token.Text()
		}
		if server := relay.Elements().Child("server"); server != nil {
			c.jingleInfo.RelayServer = server.Attributes().Get("host")
		}
	}
	if c.jingleInfoHandler != nil {
		c.jingleInfoHandler(c.jingleInfo)
	}
}
