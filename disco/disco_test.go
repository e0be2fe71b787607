/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package disco

import (
	"testing"
	"time"

	"github.com/gobble-im/gobble/xmpp"
	"github.com/gobble-im/gobble/xmpp/jid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type sentRequest struct {
	iq        *xmpp.IQ
	cb        func(reply xmpp.XElement, err error)
	cancelled bool
}

type fakeSender struct {
	requests []*sentRequest
}

func (f *fakeSender) SendIQWithReply(iq *xmpp.IQ, timeout time.Duration, cb func(reply xmpp.XElement, err error)) (func(), error) {
	req := &sentRequest{iq: iq, cb: cb}
	f.requests = append(f.requests, req)
	return func() { req.cancelled = true }, nil
}

func (f *fakeSender) last() *sentRequest {
	return f.requests[len(f.requests)-1]
}

func (f *fakeSender) reply(req *sentRequest, reply xmpp.XElement, err error) {
	if !req.cancelled {
		req.cb(reply, err)
	}
}

func infoResult(req *sentRequest, features ...string) xmpp.XElement {
	iq := xmpp.NewIQType(req.iq.ID(), xmpp.ResultType)
	query := xmpp.NewElementNamespace("query", "http://jabber.org/protocol/disco#info")
	query.AppendElement(xmpp.NewElementName("identity").
		SetAttribute("category", "conference").
		SetAttribute("type", "text").
		SetAttribute("name", "Chatrooms"))
	for _, f := range features {
		query.AppendElement(xmpp.NewElementName("feature").SetAttribute("var", f))
	}
	iq.AppendElement(query)
	return iq
}

func itemsResult(req *sentRequest, jids ...string) xmpp.XElement {
	iq := xmpp.NewIQType(req.iq.ID(), xmpp.ResultType)
	query := xmpp.NewElementNamespace("query", "http://jabber.org/protocol/disco#items")
	for _, j := range jids {
		query.AppendElement(xmpp.NewElementName("item").SetAttribute("jid", j))
	}
	iq.AppendElement(query)
	return iq
}

func TestRequestInfo(t *testing.T) {
	sender := &fakeSender{}
	c := NewClient(sender)
	to, _ := jid.NewWithString("montague.lit", true)

	var gotIdentities []Identity
	var gotFeatures []string
	_, err := c.RequestInfo(to, "http://e/caps#1.0", func(identities []Identity, features []string, err error) {
		require.Nil(t, err)
		gotIdentities = identities
		gotFeatures = features
	})
	require.Nil(t, err)

	req := sender.last()
	require.Equal(t, "montague.lit", req.iq.To())
	query := req.iq.Elements().ChildNamespace("query", "http://jabber.org/protocol/disco#info")
	require.NotNil(t, query)
	require.Equal(t, "http://e/caps#1.0", query.Attributes().Get("node"))

	sender.reply(req, infoResult(req, "http://jabber.org/protocol/muc"), nil)
	require.Equal(t, []Identity{{"conference", "text", "Chatrooms"}}, gotIdentities)
	require.Equal(t, []string{"http://jabber.org/protocol/muc"}, gotFeatures)
}

func TestRequestInfoError(t *testing.T) {
	sender := &fakeSender{}
	c := NewClient(sender)
	to, _ := jid.NewWithString("montague.lit", true)

	var gotErr error
	_, err := c.RequestInfo(to, "", func(identities []Identity, features []string, err error) {
		gotErr = err
	})
	require.Nil(t, err)

	sender.reply(sender.last(), nil, errors.New("timed out"))
	require.NotNil(t, gotErr)
}

func TestRequestCancel(t *testing.T) {
	sender := &fakeSender{}
	c := NewClient(sender)
	to, _ := jid.NewWithString("montague.lit", true)

	called := false
	req, err := c.RequestInfo(to, "", func(identities []Identity, features []string, err error) {
		called = true
	})
	require.Nil(t, err)

	req.Cancel()
	sender.reply(sender.last(), infoResult(sender.last()), nil)
	require.False(t, called)
}

func TestRequestItems(t *testing.T) {
	sender := &fakeSender{}
	c := NewClient(sender)
	to, _ := jid.NewWithString("montague.lit", true)

	var gotItems []Item
	_, err := c.RequestItems(to, "", func(items []Item, err error) {
		require.Nil(t, err)
		gotItems = items
	})
	require.Nil(t, err)

	sender.reply(sender.last(), itemsResult(sender.last(), "conf.montague.lit", "pubsub.montague.lit"), nil)
	require.Equal(t, 2, len(gotItems))
	require.Equal(t, "conf.montague.lit", gotItems[0].Jid)
}

func TestFindService(t *testing.T) {
	sender := &fakeSender{}
	c := NewClient(sender)
	server, _ := jid.NewWithString("montague.lit", true)

	var found *jid.JID
	c.FindService(server, "http://jabber.org/protocol/muc", func(service *jid.JID, err error) {
		require.Nil(t, err)
		found = service
	})

	// items walk: pubsub first, conference second
	sender.reply(sender.last(), itemsResult(sender.last(), "pubsub.montague.lit", "conf.montague.lit"), nil)

	// pubsub item does not advertise MUC
	sender.reply(sender.last(), infoResult(sender.last(), "http://jabber.org/protocol/pubsub"), nil)

	// conference item does
	sender.reply(sender.last(), infoResult(sender.last(), "http://jabber.org/protocol/muc"), nil)

	require.NotNil(t, found)
	require.Equal(t, "conf.montague.lit", found.String())
}

func TestFindServiceNotFound(t *testing.T) {
	sender := &fakeSender{}
	c := NewClient(sender)
	server, _ := jid.NewWithString("montague.lit", true)

	var gotErr error
	c.FindService(server, "http://jabber.org/protocol/muc", func(service *jid.JID, err error) {
		gotErr = err
	})
	sender.reply(sender.last(), itemsResult(sender.last()), nil)
	require.Equal(t, ErrServiceNotFound, gotErr)
}
