/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"io"

	"github.com/jackal-im/presenced/transport/compress"
)

// Type identifies the carrier of a stream.
type Type int

// Socket is a plain TCP carrier, optionally upgraded to TLS.
const Socket Type = iota + 1

// String returns Type string representation.
func (tt Type) String() string {
	if tt == Socket {
		return "socket"
	}
	return ""
}

// ChannelBindingMechanism selects the data a SCRAM-PLUS exchange binds to.
type ChannelBindingMechanism int

// TLSUnique binds to the TLS Finished message of the first handshake.
const TLSUnique ChannelBindingMechanism = iota

// Transport is the byte channel beneath an XML stream.
// StartTLS and EnableCompression swap the underlying reader and writer in place,
// so the stream parser must be reset after calling either of them.
type Transport interface {
	io.ReadWriteCloser

	Type() Type

	// WriteString writes and flushes s.
	WriteString(s string) error

	// StartTLS upgrades the channel. The handshake runs on the next read or write.
	StartTLS(cfg *tls.Config, asClient bool)

	// EnableCompression wraps the channel with zlib at the given level.
	EnableCompression(compress.Level)

	IsSecured() bool
	IsCompressed() bool

	// ChannelBindingBytes returns nil over unencrypted channels.
	ChannelBindingBytes(ChannelBindingMechanism) []byte

	// PeerCertificates returns the chain the remote side presented during TLS.
	PeerCertificates() []*x509.Certificate
}
