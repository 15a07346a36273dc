/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jid

import (
	"bytes"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/jackal-im/presenced/pool"
	"github.com/pkg/errors"
	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

var bufPool = pool.NewBufferPool()

const maxPartLength = 1023

// ErrMalformedResource is returned when a resource part does not survive resource-prep.
var ErrMalformedResource = errors.New("jid: malformed resource")

// MatchingOptions represents a matching jid mask.
type MatchingOptions int8

const (
	// MatchesNode indicates that left and right operand has same node value.
	MatchesNode = MatchingOptions(1)

	// MatchesDomain indicates that left and right operand has same domain value.
	MatchesDomain = MatchingOptions(2)

	// MatchesResource indicates that left and right operand has same resource value.
	MatchesResource = MatchingOptions(4)

	// MatchesBare indicates that left and right operand has same node and domain value.
	MatchesBare = MatchesNode | MatchesDomain

	// MatchesFull indicates that every part of both operands is equal.
	MatchesFull = MatchesNode | MatchesDomain | MatchesResource
)

// JID represents an XMPP address.
// A JID is made up of a node (generally a username), a domain, and a resource.
// The node and resource are optional; domain is required.
type JID struct {
	node     string
	domain   string
	resource string
}

// New constructs a JID given a user, domain, and resource.
// This construction allows the caller to specify if stringprep should be applied or not.
func New(node, domain, resource string, skipStringPrep bool) (*JID, error) {
	if skipStringPrep {
		return &JID{node: node, domain: domain, resource: resource}, nil
	}
	return stringPrep(node, domain, resource)
}

// NewWithString constructs a JID from its string representation.
func NewWithString(str string, skipStringPrep bool) (*JID, error) {
	if len(str) == 0 {
		return &JID{}, nil
	}
	var node, domain, resource string

	// resource part may legally contain '@', so split it first
	if i := strings.Index(str, "/"); i >= 0 {
		if i+1 == len(str) {
			return nil, errors.New("jid: resource must not be empty")
		}
		resource = str[i+1:]
		str = str[:i]
	}
	if i := strings.Index(str, "@"); i >= 0 {
		if i == 0 {
			return nil, errors.New("jid: node must not be empty")
		}
		node = str[:i]
		str = str[i+1:]
	}
	if len(str) == 0 {
		return nil, errors.New("jid: domain must not be empty")
	}
	domain = str
	return New(node, domain, resource, skipStringPrep)
}

// Node returns the node, or empty string if this JID does not contain node information.
func (j *JID) Node() string { return j.node }

// Domain returns the domain.
func (j *JID) Domain() string { return j.domain }

// Resource returns the resource, or empty string if this JID does not contain resource information.
func (j *JID) Resource() string { return j.resource }

// ToBareJID returns the JID with its resource information removed.
func (j *JID) ToBareJID() *JID {
	return &JID{node: j.node, domain: j.domain}
}

// ToServerJID returns a JID holding only the domain part.
func (j *JID) ToServerJID() *JID {
	return &JID{domain: j.domain}
}

// WithResource returns a copy of the JID holding a different resource.
// The resource is prepped and ErrMalformedResource is returned when it is not valid.
func (j *JID) WithResource(resource string) (*JID, error) {
	if len(resource) == 0 {
		return j.ToBareJID(), nil
	}
	res, err := prepResource(resource)
	if err != nil {
		return nil, err
	}
	return &JID{node: j.node, domain: j.domain, resource: res}, nil
}

// IsServer returns true if instance is a server JID.
func (j *JID) IsServer() bool {
	return len(j.node) == 0
}

// IsBare returns true if instance is a bare JID.
func (j *JID) IsBare() bool {
	return len(j.node) > 0 && len(j.resource) == 0
}

// IsFull returns true if instance is a full JID.
func (j *JID) IsFull() bool {
	return len(j.resource) > 0
}

// IsFullWithServer returns true if instance is a full server JID.
func (j *JID) IsFullWithServer() bool {
	return len(j.node) == 0 && len(j.resource) > 0
}

// IsFullWithUser returns true if instance is a full client JID.
func (j *JID) IsFullWithUser() bool {
	return len(j.node) > 0 && len(j.resource) > 0
}

// Matches returns true if two JID's are equivalent according to a matching mask.
func (j *JID) Matches(j2 *JID, options MatchingOptions) bool {
	if j2 == nil {
		return false
	}
	if (options&MatchesNode) > 0 && j.node != j2.node {
		return false
	}
	if (options&MatchesDomain) > 0 && j.domain != j2.domain {
		return false
	}
	if (options&MatchesResource) > 0 && j.resource != j2.resource {
		return false
	}
	return true
}

// Equals returns true if both JIDs are equal in their normalized form.
func (j *JID) Equals(j2 *JID) bool {
	return j.Matches(j2, MatchesFull)
}

// Less reports whether j sorts before j2.
func (j *JID) Less(j2 *JID) bool {
	if j.domain != j2.domain {
		return j.domain < j2.domain
	}
	if j.node != j2.node {
		return j.node < j2.node
	}
	return j.resource < j2.resource
}

// String returns a string representation of the JID.
func (j *JID) String() string {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if len(j.node) > 0 {
		buf.WriteString(j.node)
		buf.WriteByte('@')
	}
	buf.WriteString(j.domain)
	if len(j.resource) > 0 {
		buf.WriteByte('/')
		buf.WriteString(j.resource)
	}
	return buf.String()
}

func stringPrep(node, domain, resource string) (*JID, error) {
	if !utf8.ValidString(node) || !utf8.ValidString(resource) {
		return nil, errors.New("jid: invalid UTF-8")
	}
	// RFC 7622 §3.2: domain slots hold U-labels; A-labels are converted first.
	var err error
	domain, err = idna.ToUnicode(domain)
	if err != nil {
		return nil, errors.Wrap(err, "jid: invalid domain")
	}
	if !utf8.ValidString(domain) {
		return nil, errors.New("jid: domain contains invalid UTF-8")
	}
	domain = strings.ToLower(domain)

	var prepNode []byte
	if len(node) > 0 {
		prepNode, err = precis.UsernameCaseMapped.Bytes([]byte(node))
		if err != nil {
			return nil, errors.Wrap(err, "jid: invalid node")
		}
	}
	var prepRes string
	if len(resource) > 0 {
		prepRes, err = prepResource(resource)
		if err != nil {
			return nil, err
		}
	}
	if err := commonChecks(prepNode, domain); err != nil {
		return nil, err
	}
	return &JID{node: string(prepNode), domain: domain, resource: prepRes}, nil
}

func prepResource(resource string) (string, error) {
	if !utf8.ValidString(resource) {
		return "", ErrMalformedResource
	}
	b, err := precis.OpaqueString.Bytes([]byte(resource))
	if err != nil || len(b) > maxPartLength {
		return "", ErrMalformedResource
	}
	return string(b), nil
}

func commonChecks(node []byte, domain string) error {
	if len(node) > maxPartLength {
		return errors.New("jid: node must be smaller than 1024 bytes")
	}
	// RFC 7622 §3.3.1 characters still forbidden in nodes after UsernameCaseMapped
	if bytes.ContainsAny(node, `"&'/:<>@`) {
		return errors.New("jid: node contains forbidden characters")
	}
	if l := len(domain); l < 1 || l > maxPartLength {
		return errors.New("jid: domain must be between 1 and 1023 bytes")
	}
	return checkIP6String(domain)
}

func checkIP6String(domain string) error {
	if l := len(domain); l > 2 && strings.HasPrefix(domain, "[") && strings.HasSuffix(domain, "]") {
		if ip := net.ParseIP(domain[1 : l-1]); ip == nil || ip.To4() != nil {
			return errors.New("jid: domain is not a valid IPv6 address")
		}
	}
	return nil
}
