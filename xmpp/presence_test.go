/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"testing"

	"github.com/gobble-im/gobble/xmpp/jid"
	"github.com/stretchr/testify/require"
)

func TestPresenceBuild(t *testing.T) {
	j, _ := jid.New("juliet", "capulet.lit", "balcony", true)

	elem := NewElementName("message")
	_, err := NewPresenceFromElement(elem, j, j) // wrong name...
	require.NotNil(t, err)

	elem.SetName("presence")
	elem.SetType("invalid")
	_, err = NewPresenceFromElement(elem, j, j) // invalid type...
	require.NotNil(t, err)

	elem.SetType(AvailableType)
	presence, err := NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.True(t, presence.IsAvailable())
	require.Equal(t, AvailableShowState, presence.ShowState())
	require.Equal(t, int8(0), presence.Priority())
}

func TestPresenceShowAndPriority(t *testing.T) {
	j, _ := jid.New("juliet", "capulet.lit", "balcony", true)

	elem := NewElementName("presence")
	elem.AppendElement(NewElementName("show").SetText("dnd"))
	elem.AppendElement(NewElementName("priority").SetText("12"))
	elem.AppendElement(NewElementName("status").SetText("In a meeting"))

	presence, err := NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.Equal(t, DoNotDisturbShowState, presence.ShowState())
	require.Equal(t, int8(12), presence.Priority())
	require.Equal(t, "In a meeting", presence.Status())

	elem.ClearElements()
	elem.AppendElement(NewElementName("show").SetText("sleeping"))
	_, err = NewPresenceFromElement(elem, j, j) // invalid show state...
	require.NotNil(t, err)

	// out of range priorities clamp to the int8 bounds
	elem.ClearElements()
	elem.AppendElement(NewElementName("priority").SetText("1024"))
	presence, err = NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.Equal(t, int8(127), presence.Priority())

	elem.ClearElements()
	elem.AppendElement(NewElementName("priority").SetText("-1024"))
	presence, err = NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.Equal(t, int8(-128), presence.Priority())

	elem.ClearElements()
	elem.AppendElement(NewElementName("priority").SetText("twelve"))
	_, err = NewPresenceFromElement(elem, j, j) // unparseable priority...
	require.NotNil(t, err)
}

func TestPresenceCapabilities(t *testing.T) {
	j, _ := jid.New("juliet", "capulet.lit", "balcony", true)

	elem := NewElementName("presence")
	presence, err := NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.Nil(t, presence.Capabilities())

	c := NewElementNamespace("c", CapabilitiesNamespace)
	c.SetAttribute("node", "http://example.org/client")
	c.SetAttribute("ver", "0.3.0")
	c.SetAttribute("ext", "voice-v1 video-v1")
	elem.AppendElement(c)

	presence, err = NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)

	caps := presence.Capabilities()
	require.NotNil(t, caps)
	require.Equal(t, "http://example.org/client", caps.Node)
	require.Equal(t, "0.3.0", caps.Ver)
	require.Equal(t, []string{"voice-v1", "video-v1"}, caps.Ext)

	bundles := caps.Bundles()
	require.Equal(t, []string{
		"http://example.org/client#0.3.0",
		"http://example.org/client#voice-v1",
		"http://example.org/client#video-v1",
	}, bundles)
}

func TestPresenceNickname(t *testing.T) {
	j, _ := jid.New("juliet", "capulet.lit", "balcony", true)

	elem := NewElementName("presence")
	elem.AppendElement(NewElementNamespace("nick", NickNamespace).SetText("Juliet"))

	presence, err := NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.Equal(t, "Juliet", presence.Nickname())
}

func TestMessageCapabilities(t *testing.T) {
	j, _ := jid.New("juliet", "capulet.lit", "balcony", true)

	elem := NewElementName("message")
	elem.SetType(ChatType)
	elem.AppendElement(NewElementName("body").SetText("O Romeo, Romeo"))
	c := NewElementNamespace("c", CapabilitiesNamespace)
	c.SetAttribute("node", "http://example.org/client")
	c.SetAttribute("ver", "0.3.0")
	elem.AppendElement(c)

	msg, err := NewMessageFromElement(elem, j, j)
	require.Nil(t, err)
	require.True(t, msg.IsChat())
	require.Equal(t, "O Romeo, Romeo", msg.Body())

	caps := msg.Capabilities()
	require.NotNil(t, caps)
	require.Equal(t, "0.3.0", caps.Ver)
	require.Equal(t, []string{"http://example.org/client#0.3.0"}, caps.Bundles())
}
