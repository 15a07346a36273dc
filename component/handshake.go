/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package component

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
)

// Handshake returns the expected handshake digest of a stream authenticating with secret.
func Handshake(streamID, secret string) string {
	h := sha1.New()
	h.Write([]byte(streamID + secret))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHandshake reports in constant time whether digest authenticates the stream.
func VerifyHandshake(digest, streamID, secret string) bool {
	expected := Handshake(streamID, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) == 1
}
