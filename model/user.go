/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package model

import (
	"crypto/sha1"
	"crypto/sha256"

	"github.com/jackal-im/presenced/util"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterationCount is the PBKDF2 iteration count used for newly created users.
const DefaultIterationCount = 4096

const saltLength = 32

// User represents a user storage entity.
type User struct {
	Username string

	// Password holds the clear text password. Only populated for accounts
	// allowed to authenticate through legacy digest authentication.
	Password string

	Salt                []byte
	IterationCount      int
	PasswordScramSHA1   []byte
	PasswordScramSHA256 []byte
}

// NewUser returns a user entity whose SCRAM salted passwords are derived from password.
func NewUser(username, password string, storePlain bool) *User {
	u := &User{
		Username:       username,
		Salt:           util.RandomBytes(saltLength),
		IterationCount: DefaultIterationCount,
	}
	u.PasswordScramSHA1 = pbkdf2.Key([]byte(password), u.Salt, u.IterationCount, sha1.Size, sha1.New)
	u.PasswordScramSHA256 = pbkdf2.Key([]byte(password), u.Salt, u.IterationCount, sha256.Size, sha256.New)
	if storePlain {
		u.Password = password
	}
	return u
}
