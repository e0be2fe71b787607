/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package disco

import (
	"time"

	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

const (
	infoNamespace  = "http://jabber.org/protocol/disco#info"
	itemsNamespace = "http://jabber.org/protocol/disco#items"
)

// DefaultTimeout bounds a discovery request that the caller did not
// put an explicit deadline on.
const DefaultTimeout = 20 * time.Second

// ErrServiceNotFound is handed to a FindService callback when no
// server item advertises the wanted feature.
var ErrServiceNotFound = errors.New("disco: no item advertises the requested feature")

// ErrServiceUnavailable is handed to a FindService callback while the
// server's discovery service is tripped.
var ErrServiceUnavailable = errors.New("disco: discovery service unavailable")

// IQSender issues an IQ and routes the reply, or a timeout error,
// back to the given callback. The returned cancel function suppresses
// the callback.
type IQSender interface {
	SendIQWithReply(iq *xmpp.IQ, timeout time.Duration, cb func(reply xmpp.XElement, err error)) (cancel func(), err error)
}

// Identity is one disco#info <identity/> entry.
type Identity struct {
	Category string
	Type     string
	Name     string
}

// Item is one disco#items <item/> entry.
type Item struct {
	Jid  string
	Node string
	Name string
}

// InfoHandler receives a disco#info result.
type InfoHandler func(identities []Identity, features []string, err error)

// ItemsHandler receives a disco#items result.
type ItemsHandler func(items []Item, err error)

// Request is a cancellation handle for an in-flight discovery request.
type Request struct {
	cancel func()
}

// Cancel suppresses the request's callback.
func (r *Request) Cancel() {
	if r != nil && r.cancel != nil {
		r.cancel()
	}
}

// Client performs service discovery requests over a connection.
type Client struct {
	sender IQSender
	cb     *gobreaker.TwoStepCircuitBreaker
}

// NewClient returns a discovery client issuing requests through sender.
func NewClient(sender IQSender) *Client {
	return &Client{
		sender: sender,
		cb:     gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{Name: "disco-service"}),
	}
}

// RequestInfo issues a disco#info request with the default timeout.
func (c *Client) RequestInfo(to *jid.JID, node string, handler InfoHandler) (*Request, error) {
	return c.RequestInfoWithTimeout(to, node, handler, DefaultTimeout)
}

// RequestInfoWithTimeout issues a disco#info request.
func (c *Client) RequestInfoWithTimeout(to *jid.JID, node string, handler InfoHandler, timeout time.Duration) (*Request, error) {
	iq := c.newRequest(to, infoNamespace, node)
	cancel, err := c.sender.SendIQWithReply(iq, timeout, func(reply xmpp.XElement, err error) {
		if err != nil {
			handler(nil, nil, err)
			return
		}
		query := replyQuery(reply, infoNamespace)
		if query == nil {
			handler(nil, nil, errors.New("disco: malformed info reply"))
			return
		}
		var identities []Identity
		for _, idn := range query.Elements().Children("identity") {
			identities = append(identities, Identity{
				Category: idn.Attributes().Get("category"),
				Type:     idn.Attributes().Get("type"),
				Name:     idn.Attributes().Get("name"),
			})
		}
		var features []string
		for _, f := range query.Elements().Children("feature") {
			features = append(features, f.Attributes().Get("var"))
		}
		handler(identities, features, nil)
	})
	if err != nil {
		return nil, err
	}
	return &Request{cancel: cancel}, nil
}

// RequestItems issues a disco#items request with the default timeout.
func (c *Client) RequestItems(to *jid.JID, node string, handler ItemsHandler) (*Request, error) {
	iq := c.newRequest(to, itemsNamespace, node)
	cancel, err := c.sender.SendIQWithReply(iq, DefaultTimeout, func(reply xmpp.XElement, err error) {
		if err != nil {
			handler(nil, err)
			return
		}
		query := replyQuery(reply, itemsNamespace)
		if query == nil {
			handler(nil, errors.New("disco: malformed items reply"))
			return
		}
		var items []Item
		for _, it := range query.Elements().Children("item") {
			items = append(items, Item{
				Jid:  it.Attributes().Get("jid"),
				Node: it.Attributes().Get("node"),
				Name: it.Attributes().Get("name"),
			})
		}
		handler(items, nil)
	})
	if err != nil {
		return nil, err
	}
	return &Request{cancel: cancel}, nil
}

// FindService walks the server's disco#items and reports the first
// item advertising the given feature var. A circuit breaker guards
// the server's discovery service so a flapping server is not hammered
// with item walks.
func (c *Client) FindService(server *jid.JID, feature string, cb func(service *jid.JID, err error)) {
	done, err := c.cb.Allow()
	if err != nil {
		cb(nil, ErrServiceUnavailable)
		return
	}
	_, err = c.RequestItems(server, "", func(items []Item, err error) {
		if err != nil {
			done(false)
			cb(nil, err)
			return
		}
		done(true)
		c.probeItems(items, feature, cb)
	})
	if err != nil {
		done(false)
		cb(nil, err)
	}
}

func (c *Client) probeItems(items []Item, feature string, cb func(service *jid.JID, err error)) {
	if len(items) == 0 {
		cb(nil, ErrServiceNotFound)
		return
	}
	head := items[0]
	tail := items[1:]

	itemJID, err := jid.NewWithString(head.Jid, false)
	if err != nil || len(head.Jid) == 0 {
		c.probeItems(tail, feature, cb)
		return
	}
	_, err = c.RequestInfo(itemJID, "", func(identities []Identity, features []string, err error) {
		if err == nil {
			for _, f := range features {
				if f == feature {
					cb(itemJID, nil)
					return
				}
			}
		}
		c.probeItems(tail, feature, cb)
	})
	if err != nil {
		c.probeItems(tail, feature, cb)
	}
}

func (c *Client) newRequest(to *jid.JID, namespace, node string) *xmpp.IQ {
	query := xmpp.NewElementNamespace("query", namespace)
	if len(node) > 0 {
		query.SetAttribute("node", node)
	}
	iq := xmpp.NewIQType(uuid.New(), xmpp.GetType)
	iq.SetTo(to.String())
	iq.AppendElement(query)
	return iq
}

func replyQuery(reply xmpp.XElement, namespace string) xmpp.XElement {
	if reply == nil {
		return nil
	}
	return reply.Elements().ChildNamespace("query", namespace)
}
