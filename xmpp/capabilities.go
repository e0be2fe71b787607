/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"strings"
)

const (
	// CapabilitiesNamespace defines the entity capabilities namespace.
	CapabilitiesNamespace = "http://jabber.org/protocol/caps"

	// NickNamespace defines the user nickname namespace.
	NickNamespace = "http://jabber.org/protocol/nick"
)

// Capabilities carries the contents of an entity capabilities
// advertisement found in a presence or message stanza.
type Capabilities struct {
	Node string
	Ver  string
	Ext  []string
}

// Capabilities returns the stanza entity capabilities element,
// or nil if none is advertised.
func (s *stanzaElement) Capabilities() *Capabilities {
	c := s.elements.ChildNamespace("c", CapabilitiesNamespace)
	if c == nil {
		return nil
	}
	caps := &Capabilities{
		Node: c.Attributes().Get("node"),
		Ver:  c.Attributes().Get("ver"),
	}
	if ext := c.Attributes().Get("ext"); len(ext) > 0 {
		caps.Ext = strings.Fields(ext)
	}
	return caps
}

// Nickname returns the stanza user nickname, or an empty
// string if none is attached.
func (s *stanzaElement) Nickname() string {
	if n := s.elements.ChildNamespace("nick", NickNamespace); n != nil {
		return n.Text()
	}
	return ""
}

// Bundles returns every capability node advertised by the
// stanza. That is the base node plus one node per ext token,
// in "node#token" form.
func (c *Capabilities) Bundles() []string {
	bundles := []string{c.Node + "#" + c.Ver}
	for _, ext := range c.Ext {
		bundles = append(bundles, c.Node+"#"+ext)
	}
	return bundles
}
