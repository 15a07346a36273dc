/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

// Attribute is a single label=value element attribute.
type Attribute struct {
	Label string
	Value string
}

// AttributeSet is a read-only view over element attributes.
type AttributeSet interface {
	Get(string) string
	Count() int
}

// attributeSet keeps attributes in insertion order, labels are unique.
type attributeSet []Attribute

func (as attributeSet) indexOf(label string) int {
	for i, attr := range as {
		if attr.Label == label {
			return i
		}
	}
	return -1
}

func (as attributeSet) Get(label string) string {
	if i := as.indexOf(label); i >= 0 {
		return as[i].Value
	}
	return ""
}

func (as attributeSet) Count() int { return len(as) }

func (as *attributeSet) setAttribute(label, value string) {
	if i := as.indexOf(label); i >= 0 {
		(*as)[i].Value = value
		return
	}
	*as = append(*as, Attribute{Label: label, Value: value})
}

func (as *attributeSet) removeAttribute(label string) {
	if i := as.indexOf(label); i >= 0 {
		*as = append((*as)[:i], (*as)[i+1:]...)
	}
}

func (as attributeSet) clone() attributeSet {
	if len(as) == 0 {
		return nil
	}
	return append(attributeSet(nil), as...)
}
