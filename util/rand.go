/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package util

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomBytes generates a random bytes slice of length 'len'.
func RandomBytes(len int) []byte {
	b := make([]byte, len)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// RandomHexString returns an hex encoded random string built from n random bytes.
func RandomHexString(n int) string {
	return hex.EncodeToString(RandomBytes(n))
}
