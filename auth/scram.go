/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"github.com/google/uuid"
	"github.com/jackal-im/presenced/model"
	"github.com/jackal-im/presenced/storage/repository"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/util"
	"github.com/jackal-im/presenced/xmpp"
)

// ScramType represents a scram authenticator class
type ScramType int

const (
	// ScramSHA1 represents SCRAM-SHA-1 authentication method.
	ScramSHA1 ScramType = iota

	// ScramSHA256 represents SCRAM-SHA-256 authentication method.
	ScramSHA256
)

// ChannelBinder provides the channel binding bytes of a secured transport.
type ChannelBinder interface {
	ChannelBindingBytes(transport.ChannelBindingMechanism) []byte
}

type scramState int

const (
	startScramState scramState = iota
	challengedScramState
)

type scramParameter struct {
	key string
	val string
}

// clientFirstMessage holds the parsed client-first-message.
type clientFirstMessage struct {
	gs2Header   string
	cbMechanism string
	authzID     string
	params      []scramParameter
}

func (m *clientFirstMessage) param(key string) string {
	for _, p := range m.params {
		if p.key == key {
			return p.val
		}
	}
	return ""
}

// bare returns the client-first-message-bare portion.
func (m *clientFirstMessage) bare() string {
	parts := make([]string, 0, len(m.params))
	for _, p := range m.params {
		parts = append(parts, p.key+"="+p.val)
	}
	return strings.Join(parts, ",")
}

// Scram represents a SCRAM authenticator.
type Scram struct {
	binder        ChannelBinder
	userRep       repository.User
	tp            ScramType
	usesCb        bool
	h             func() hash.Hash
	state         scramState
	authenticated bool
	first         *clientFirstMessage
	user          *model.User
	srvNonce      string
	srvFirst      string
}

// NewScram returns a new scram authenticator instance.
func NewScram(binder ChannelBinder, scramType ScramType, usesChannelBinding bool, userRep repository.User) *Scram {
	s := &Scram{
		binder:  binder,
		userRep: userRep,
		tp:      scramType,
		usesCb:  usesChannelBinding,
	}
	switch scramType {
	case ScramSHA1:
		s.h = sha1.New
	case ScramSHA256:
		s.h = sha256.New
	}
	return s
}

// Mechanism returns authenticator mechanism name.
func (s *Scram) Mechanism() string {
	var name string
	switch s.tp {
	case ScramSHA1:
		name = "SCRAM-SHA-1"
	case ScramSHA256:
		name = "SCRAM-SHA-256"
	default:
		return ""
	}
	if s.usesCb {
		name += "-PLUS"
	}
	return name
}

// Username returns authenticated username in case
// authentication process has been completed.
func (s *Scram) Username() string {
	if s.authenticated {
		return s.user.Username
	}
	return ""
}

// Authenticated returns whether or not user has been authenticated.
func (s *Scram) Authenticated() bool { return s.authenticated }

// UsesChannelBinding returns whether or not scram authenticator
// requires channel binding bytes.
func (s *Scram) UsesChannelBinding() bool { return s.usesCb }

// ProcessElement process an incoming authenticator element.
func (s *Scram) ProcessElement(ctx context.Context, elem xmpp.XElement) (xmpp.XElement, error) {
	if s.authenticated {
		return nil, nil
	}
	switch {
	case elem.Name() == "auth" && s.state == startScramState:
		return s.handleStart(ctx, elem)
	case elem.Name() == "response" && s.state == challengedScramState:
		return s.handleChallenged(elem)
	}
	return nil, ErrSASLNotAuthorized
}

// Reset resets scram internal state.
func (s *Scram) Reset() {
	s.authenticated = false
	s.state = startScramState
	s.first = nil
	s.user = nil
	s.srvNonce = ""
	s.srvFirst = ""
}

func (s *Scram) handleStart(ctx context.Context, elem xmpp.XElement) (xmpp.XElement, error) {
	payload, err := decodePayload(elem)
	if err != nil {
		return nil, err
	}
	first, err := s.parseClientFirstMessage(payload)
	if err != nil {
		return nil, err
	}
	username := first.param("n")
	cNonce := first.param("r")
	if len(username) == 0 || len(cNonce) == 0 {
		return nil, ErrSASLMalformedRequest
	}
	user, err := s.userRep.FetchUser(ctx, username)
	switch {
	case err != nil:
		return nil, err
	case user == nil || len(s.saltedPassword(user)) == 0:
		return nil, ErrSASLNotAuthorized
	}
	s.first = first
	s.user = user
	s.srvNonce = cNonce + "-" + uuid.New().String()
	s.srvFirst = fmt.Sprintf("r=%s,s=%s,i=%d", s.srvNonce, base64.StdEncoding.EncodeToString(user.Salt), user.IterationCount)
	s.state = challengedScramState

	challenge := xmpp.NewElementNamespace("challenge", SASLNamespace)
	challenge.SetText(base64.StdEncoding.EncodeToString([]byte(s.srvFirst)))
	return challenge, nil
}

func (s *Scram) handleChallenged(elem xmpp.XElement) (xmpp.XElement, error) {
	payload, err := decodePayload(elem)
	if err != nil {
		return nil, err
	}
	saltedPassword := s.saltedPassword(s.user)
	clientFinalBare := fmt.Sprintf("c=%s,r=%s", s.channelBindingInput(), s.srvNonce)
	authMessage := s.first.bare() + "," + s.srvFirst + "," + clientFinalBare

	clientKey := s.hmac([]byte("Client Key"), saltedPassword)
	clientSignature := s.hmac([]byte(authMessage), s.hash(clientKey))
	clientProof := make([]byte, len(clientKey))
	for i := range clientKey {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}
	expected := clientFinalBare + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(payload)) != 1 {
		return nil, ErrSASLNotAuthorized
	}
	serverSignature := s.hmac([]byte(authMessage), s.hmac([]byte("Server Key"), saltedPassword))

	s.authenticated = true

	success := xmpp.NewElementNamespace("success", SASLNamespace)
	success.SetText(base64.StdEncoding.EncodeToString([]byte("v=" + base64.StdEncoding.EncodeToString(serverSignature))))
	return success, nil
}

func (s *Scram) saltedPassword(user *model.User) []byte {
	if s.tp == ScramSHA256 {
		return user.PasswordScramSHA256
	}
	return user.PasswordScramSHA1
}

// parseClientFirstMessage parses gs2-header and client-first-message-bare (RFC 5802 section 7).
func (s *Scram) parseClientFirstMessage(str string) (*clientFirstMessage, error) {
	sp := strings.Split(str, ",")
	if len(sp) < 3 {
		return nil, ErrSASLIncorrectEncoding
	}
	m := &clientFirstMessage{}

	gs2BindFlag := sp[0]
	switch {
	case gs2BindFlag == "n" || gs2BindFlag == "y":
		if s.usesCb {
			return nil, ErrSASLNotAuthorized
		}
	case strings.HasPrefix(gs2BindFlag, "p="):
		if !s.usesCb {
			return nil, ErrSASLNotAuthorized
		}
		m.cbMechanism = gs2BindFlag[2:]
		if m.cbMechanism != "tls-unique" {
			return nil, ErrSASLNotAuthorized
		}
	default:
		return nil, ErrSASLMalformedRequest
	}
	authzID := sp[1]
	m.gs2Header = gs2BindFlag + "," + authzID + ","
	if len(authzID) > 0 {
		key, val := util.SplitKeyAndValue(authzID, '=')
		if key != "a" {
			return nil, ErrSASLMalformedRequest
		}
		m.authzID = val
	}
	for _, kv := range sp[2:] {
		key, val := util.SplitKeyAndValue(kv, '=')
		m.params = append(m.params, scramParameter{key: key, val: val})
	}
	return m, nil
}

func (s *Scram) channelBindingInput() string {
	buf := bytes.NewBufferString(s.first.gs2Header)
	if s.usesCb && s.binder != nil {
		buf.Write(s.binder.ChannelBindingBytes(transport.TLSUnique))
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func (s *Scram) hmac(b []byte, key []byte) []byte {
	m := hmac.New(s.h, key)
	m.Write(b)
	return m.Sum(nil)
}

func (s *Scram) hash(b []byte) []byte {
	h := s.h()
	h.Write(b)
	return h.Sum(nil)
}

func decodePayload(elem xmpp.XElement) (string, error) {
	if len(elem.Text()) == 0 {
		return "", ErrSASLIncorrectEncoding
	}
	b, err := base64.StdEncoding.DecodeString(elem.Text())
	if err != nil {
		return "", ErrSASLIncorrectEncoding
	}
	return string(b), nil
}
