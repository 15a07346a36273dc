/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"encoding/xml"
	"io"
	"strings"
)

// Element represents a generic and mutable XML node element.
type Element struct {
	name     string
	text     string
	attrs    attributeSet
	elements elementSet
}

// NewElementName creates a mutable XML XElement instance with a given name.
func NewElementName(name string) *Element {
	return &Element{name: name}
}

// NewElementNamespace creates a mutable XML XElement instance with a given name and namespace.
func NewElementNamespace(name, namespace string) *Element {
	return &Element{
		name:  name,
		attrs: attributeSet{{Label: "xmlns", Value: namespace}},
	}
}

// NewElementFromElement creates a mutable XML XElement by deep copying an element.
func NewElementFromElement(elem XElement) *Element {
	e := &Element{}
	e.copyFrom(elem)
	return e
}

// Name returns XML node name.
func (e *Element) Name() string { return e.name }

// Attributes returns XML node attribute set.
func (e *Element) Attributes() AttributeSet { return e.attrs }

// Elements returns all instance's child elements.
func (e *Element) Elements() ElementSet { return e.elements }

// Text returns XML node text value.
func (e *Element) Text() string { return e.text }

// Namespace returns 'xmlns' node attribute.
func (e *Element) Namespace() string { return e.attrs.Get("xmlns") }

// ID returns 'id' node attribute.
func (e *Element) ID() string { return e.attrs.Get("id") }

// Language returns 'xml:lang' node attribute.
func (e *Element) Language() string { return e.attrs.Get("xml:lang") }

// Version returns 'version' node attribute.
func (e *Element) Version() string { return e.attrs.Get("version") }

// From returns 'from' node attribute.
func (e *Element) From() string { return e.attrs.Get("from") }

// To returns 'to' node attribute.
func (e *Element) To() string { return e.attrs.Get("to") }

// Type returns 'type' node attribute.
func (e *Element) Type() string { return e.attrs.Get("type") }

// IsStanza returns true if element is an XMPP stanza.
func (e *Element) IsStanza() bool {
	switch e.name {
	case IQName, PresenceName, MessageName:
		return true
	}
	return false
}

// IsError returns true if element has a 'type' attribute of value 'error'.
func (e *Element) IsError() bool {
	return e.Type() == ErrorType
}

// Error returns element error sub element.
func (e *Element) Error() XElement {
	return e.elements.Child("error")
}

// String returns a string representation of the element.
func (e *Element) String() string {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	e.ToXML(buf, true)
	return buf.String()
}

// ToXML serializes element to a raw XML representation.
// includeClosing determines if closing tag should be attached.
func (e *Element) ToXML(w io.Writer, includeClosing bool) {
	_, _ = io.WriteString(w, "<")
	_, _ = io.WriteString(w, e.name)

	for _, attr := range e.attrs {
		if len(attr.Value) == 0 {
			continue
		}
		_, _ = io.WriteString(w, " ")
		_, _ = io.WriteString(w, attr.Label)
		_, _ = io.WriteString(w, `="`)
		_ = xml.EscapeText(w, []byte(attr.Value))
		_, _ = io.WriteString(w, `"`)
	}
	if e.elements.Count() == 0 && len(e.text) == 0 {
		if includeClosing {
			_, _ = io.WriteString(w, "/>")
		} else {
			_, _ = io.WriteString(w, ">")
		}
		return
	}
	_, _ = io.WriteString(w, ">")

	if len(e.text) > 0 {
		_ = xml.EscapeText(w, []byte(e.text))
	}
	for _, elem := range e.elements {
		elem.ToXML(w, true)
	}
	if includeClosing {
		_, _ = io.WriteString(w, "</")
		_, _ = io.WriteString(w, e.name)
		_, _ = io.WriteString(w, ">")
	}
}

// SetName sets XML node name.
func (e *Element) SetName(name string) *Element {
	e.name = name
	return e
}

// SetAttribute sets an XML node attribute (label=value).
func (e *Element) SetAttribute(label, value string) *Element {
	e.attrs.setAttribute(label, value)
	return e
}

// RemoveAttribute removes an XML node attribute.
func (e *Element) RemoveAttribute(label string) *Element {
	e.attrs.removeAttribute(label)
	return e
}

// SetNamespace sets 'xmlns' node attribute.
func (e *Element) SetNamespace(namespace string) *Element {
	if len(namespace) == 0 {
		return e.RemoveAttribute("xmlns")
	}
	return e.SetAttribute("xmlns", namespace)
}

// SetText sets XML node text value.
func (e *Element) SetText(text string) *Element {
	e.text = text
	return e
}

// SetID sets 'id' node attribute.
func (e *Element) SetID(identifier string) *Element { return e.SetAttribute("id", identifier) }

// SetLanguage sets 'xml:lang' node attribute.
func (e *Element) SetLanguage(language string) *Element { return e.SetAttribute("xml:lang", language) }

// SetFrom sets 'from' node attribute.
func (e *Element) SetFrom(from string) *Element { return e.SetAttribute("from", from) }

// SetTo sets 'to' node attribute.
func (e *Element) SetTo(to string) *Element { return e.SetAttribute("to", to) }

// SetType sets 'type' node attribute.
func (e *Element) SetType(tp string) *Element { return e.SetAttribute("type", tp) }

// SetVersion sets 'version' node attribute.
func (e *Element) SetVersion(version string) *Element { return e.SetAttribute("version", version) }

// AppendElement appends a new sub element.
func (e *Element) AppendElement(element XElement) *Element {
	e.elements.append(element)
	return e
}

// AppendElements appends an array of sub elements.
func (e *Element) AppendElements(elements []XElement) *Element {
	e.elements.append(elements...)
	return e
}

// RemoveElements removes all elements with a given name.
func (e *Element) RemoveElements(name string) *Element {
	e.elements.remove(name)
	return e
}

// RemoveElementsNamespace removes all elements with a given name and namespace.
func (e *Element) RemoveElementsNamespace(name, namespace string) *Element {
	e.elements.removeNamespace(name, namespace)
	return e
}

// ClearElements removes all elements.
func (e *Element) ClearElements() *Element {
	e.elements = nil
	return e
}

func (e *Element) copyFrom(el XElement) {
	e.name = el.Name()
	e.text = el.Text()
	if as, ok := el.Attributes().(attributeSet); ok {
		e.attrs = as.clone()
	}
	if es, ok := el.Elements().(elementSet); ok {
		e.elements = es.clone()
	}
}

func (e *Element) trimWhitespaceText() {
	if len(e.elements) > 0 && len(strings.TrimSpace(e.text)) == 0 {
		e.text = ""
	}
}
