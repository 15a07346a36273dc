/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

// ElementSet is a read-only view over the sub elements of an element.
type ElementSet interface {
	// Children returns all elements named name.
	Children(name string) []XElement

	// Child returns the first element named name, or nil.
	Child(name string) XElement

	// ChildrenNamespace returns all elements named name under namespace.
	ChildrenNamespace(name, namespace string) []XElement

	// ChildNamespace returns the first element named name under namespace, or nil.
	ChildNamespace(name, namespace string) XElement

	// All returns every sub element in document order.
	All() []XElement

	// Count returns sub elements count.
	Count() int
}

// matcher selects sub elements by name and, optionally, namespace.
type matcher struct {
	name, namespace string
	anyNamespace    bool
}

func (m matcher) matches(e XElement) bool {
	return e.Name() == m.name && (m.anyNamespace || e.Namespace() == m.namespace)
}

type elementSet []XElement

func (es elementSet) Children(name string) []XElement {
	return es.filter(matcher{name: name, anyNamespace: true}, false)
}

func (es elementSet) Child(name string) XElement {
	return es.first(matcher{name: name, anyNamespace: true})
}

func (es elementSet) ChildrenNamespace(name, namespace string) []XElement {
	return es.filter(matcher{name: name, namespace: namespace}, false)
}

func (es elementSet) ChildNamespace(name, namespace string) XElement {
	return es.first(matcher{name: name, namespace: namespace})
}

func (es elementSet) All() []XElement { return es }

func (es elementSet) Count() int { return len(es) }

func (es elementSet) first(m matcher) XElement {
	for _, e := range es {
		if m.matches(e) {
			return e
		}
	}
	return nil
}

// filter returns the elements m matches, or the ones it doesn't when inverse is set.
func (es elementSet) filter(m matcher, inverse bool) elementSet {
	var ret elementSet
	for _, e := range es {
		if m.matches(e) != inverse {
			ret = append(ret, e)
		}
	}
	return ret
}

func (es *elementSet) append(elems ...XElement) {
	*es = append(*es, elems...)
}

func (es *elementSet) remove(name string) {
	*es = es.filter(matcher{name: name, anyNamespace: true}, true)
}

func (es *elementSet) removeNamespace(name, namespace string) {
	*es = es.filter(matcher{name: name, namespace: namespace}, true)
}

func (es elementSet) clone() elementSet {
	if len(es) == 0 {
		return nil
	}
	ret := make(elementSet, 0, len(es))
	for _, e := range es {
		ret = append(ret, NewElementFromElement(e))
	}
	return ret
}
