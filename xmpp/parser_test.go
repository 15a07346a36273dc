/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParser_DocElement(t *testing.T) {
	docSrc := `<?xml version="1.0" encoding="UTF-8"?>
<a xmlns="im.jackal">
  <b>Hi!</b>
  <c attr="v"/>
</a>`
	p := NewParser(strings.NewReader(docSrc), DefaultMode, 0)

	elem, err := p.ParseElement() // processing instruction
	require.Nil(t, err)
	require.Nil(t, elem)

	elem, err = p.ParseElement() // whitespace
	require.Nil(t, err)
	require.Nil(t, elem)

	elem, err = p.ParseElement()
	require.Nil(t, err)
	require.NotNil(t, elem)
	require.Equal(t, "a", elem.Name())
	require.Equal(t, "im.jackal", elem.Namespace())
	require.Equal(t, "", elem.Text())
	require.Equal(t, "Hi!", elem.Elements().Child("b").Text())
	require.Equal(t, "v", elem.Elements().Child("c").Attributes().Get("attr"))
}

func TestParser_SocketStream(t *testing.T) {
	src := `<stream:stream xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams" to="jackal.im" version="1.0">` +
		`<presence/></stream:stream>`
	p := NewParser(strings.NewReader(src), SocketStream, 0)

	elem, err := p.ParseElement()
	require.Nil(t, err)
	require.Equal(t, "stream:stream", elem.Name())
	require.Equal(t, "jackal.im", elem.To())
	require.Equal(t, "http://etherx.jabber.org/streams", elem.Attributes().Get("xmlns:stream"))

	elem, err = p.ParseElement()
	require.Nil(t, err)
	require.Equal(t, "presence", elem.Name())

	_, err = p.ParseElement()
	require.Equal(t, ErrStreamClosedByPeer, err)
}

func TestParser_TooLargeStanza(t *testing.T) {
	src := `<message><body>` + strings.Repeat("a", 256) + `</body></message>`
	p := NewParser(strings.NewReader(src), DefaultMode, 64)
	_, err := p.ParseElement()
	require.Equal(t, ErrTooLargeStanza, err)
}

func TestParser_UnexpectedEnd(t *testing.T) {
	p := NewParser(strings.NewReader(`<a><b></a>`), DefaultMode, 0)
	_, err := p.ParseElement()
	require.NotNil(t, err)
}

func TestParser_EOF(t *testing.T) {
	p := NewParser(strings.NewReader(``), DefaultMode, 0)
	_, err := p.ParseElement()
	require.Equal(t, io.EOF, err)
}
