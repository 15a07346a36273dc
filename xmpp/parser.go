/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"encoding/xml"
	"io"

	"github.com/pkg/errors"
)

const streamName = "stream"

// ParsingMode defines the way in which special parsed element
// should be considered or not according to the reader nature.
type ParsingMode int

const (
	// DefaultMode treats incoming elements as provided from raw byte reader.
	DefaultMode = ParsingMode(iota)

	// SocketStream treats incoming elements as provided from a socket transport.
	SocketStream
)

// ErrTooLargeStanza is returned by ParseElement when the size of
// the incoming stanza is too large.
var ErrTooLargeStanza = errors.New("xmpp: too large stanza")

// ErrStreamClosedByPeer is returned by ParseElement when peer closes the stream.
var ErrStreamClosedByPeer = errors.New("xmpp: stream closed by peer")

// Parser parses arbitrary XML input and builds an array with the structure of all tag and data elements.
type Parser struct {
	dec           *xml.Decoder
	mode          ParsingMode
	stack         []*Element
	lastOffset    int64
	maxStanzaSize int64
}

// NewParser creates an empty Parser instance.
func NewParser(reader io.Reader, mode ParsingMode, maxStanzaSize int) *Parser {
	return &Parser{
		dec:           xml.NewDecoder(reader),
		mode:          mode,
		maxStanzaSize: int64(maxStanzaSize),
	}
}

// ParseElement parses next available XML element from reader.
// A nil element with a nil error means that only inter-stanza data (whitespace
// keepalives or a processing instruction) was consumed.
func (p *Parser) ParseElement() (XElement, error) {
	for {
		t, err := p.dec.RawToken()
		if err != nil {
			return nil, err
		}
		if off := p.dec.InputOffset(); p.maxStanzaSize > 0 && off-p.lastOffset > p.maxStanzaSize {
			return nil, ErrTooLargeStanza
		}
		switch t1 := t.(type) {
		case xml.ProcInst:
			if len(p.stack) == 0 {
				return nil, nil
			}

		case xml.StartElement:
			p.startElement(t1)
			if p.mode == SocketStream && t1.Name.Local == streamName && t1.Name.Space == streamName {
				return p.closeElement(), nil
			}

		case xml.CharData:
			if len(p.stack) == 0 {
				p.lastOffset = p.dec.InputOffset()
				return nil, nil
			}
			top := p.stack[len(p.stack)-1]
			top.text += string(t1)

		case xml.EndElement:
			if p.mode == SocketStream && t1.Name.Local == streamName && t1.Name.Space == streamName {
				return nil, ErrStreamClosedByPeer
			}
			name := xmlName(t1.Name.Space, t1.Name.Local)
			if len(p.stack) == 0 || p.stack[len(p.stack)-1].Name() != name {
				return nil, errors.Errorf("xmpp: unexpected end element </%s>", name)
			}
			if elem := p.closeElement(); elem != nil {
				return elem, nil
			}
		}
	}
}

func (p *Parser) startElement(t xml.StartElement) {
	var attrs attributeSet
	for _, a := range t.Attr {
		attrs = append(attrs, Attribute{Label: xmlName(a.Name.Space, a.Name.Local), Value: a.Value})
	}
	p.stack = append(p.stack, &Element{name: xmlName(t.Name.Space, t.Name.Local), attrs: attrs})
}

// closeElement pops the innermost element. The root element is returned once completed.
func (p *Parser) closeElement() XElement {
	elem := p.stack[len(p.stack)-1]
	elem.trimWhitespaceText()
	p.stack = p.stack[:len(p.stack)-1]

	if len(p.stack) == 0 {
		p.lastOffset = p.dec.InputOffset()
		return elem
	}
	p.stack[len(p.stack)-1].AppendElement(elem)
	return nil
}

func xmlName(space, local string) string {
	if len(space) > 0 {
		return space + ":" + local
	}
	return local
}
