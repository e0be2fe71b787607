/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestElementNameAndNamespace(t *testing.T) {
	e := NewElementNamespace("query", "jabber:iq:roster")
	require.Equal(t, "query", e.Name())
	require.Equal(t, "jabber:iq:roster", e.Namespace())
}

func TestElementAttributes(t *testing.T) {
	e := NewElementName("presence")
	e.SetID("id1234")
	e.SetType("unavailable")
	e.SetLanguage("en")
	require.Equal(t, "id1234", e.ID())
	require.Equal(t, "unavailable", e.Type())
	require.Equal(t, "en", e.Language())

	e.RemoveAttribute("type")
	require.Equal(t, "", e.Type())
}

func TestElementChildren(t *testing.T) {
	e := NewElementName("iq")
	e.AppendElement(NewElementNamespace("query", "ns1"))
	e.AppendElement(NewElementNamespace("query", "ns2"))
	e.AppendElement(NewElementName("item"))

	require.Equal(t, 3, e.Elements().Count())
	require.NotNil(t, e.Elements().Child("item"))
	require.NotNil(t, e.Elements().ChildNamespace("query", "ns1"))
	require.Equal(t, 2, len(e.Elements().Children("query")))

	e.RemoveElementsNamespace("query", "ns1")
	require.Equal(t, 1, len(e.Elements().Children("query")))

	e.ClearElements()
	require.Equal(t, 0, e.Elements().Count())
}

func TestElementCopy(t *testing.T) {
	src := NewElementName("message")
	src.SetID("m1")
	src.AppendElement(NewElementName("body").SetText("Hi there"))

	cp := NewElementFromElement(src)
	require.Equal(t, src.String(), cp.String())

	// mutating the copy must not touch the source
	cp.SetID("m2")
	require.Equal(t, "m1", src.ID())
}

func TestElementToXML(t *testing.T) {
	e := NewElementName("message")
	e.SetID("m1")
	e.AppendElement(NewElementName("body").SetText(`I'll <b>see</b> you & "them"`))

	buf := new(bytes.Buffer)
	e.ToXML(buf, true)
	require.Equal(t, `<message id="m1"><body>I&#39;ll &lt;b&gt;see&lt;/b&gt; you &amp; &#34;them&#34;</body></message>`, buf.String())

	buf.Reset()
	e.ToXML(buf, false)
	require.Equal(t, `<message id="m1"><body>I&#39;ll &lt;b&gt;see&lt;/b&gt; you &amp; &#34;them&#34;</body>`, buf.String())
}

func TestElementError(t *testing.T) {
	e := NewElementName("iq")
	e.SetType(ErrorType)
	e.AppendElement(NewElementName("error"))
	require.True(t, e.IsError())
	require.NotNil(t, e.Error())
}
