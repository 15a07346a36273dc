/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package cluster

import (
	"github.com/hashicorp/memberlist"
)

// broadcast is an implementation of memberlist.Broadcast.
type broadcast struct {
	key string
	msg []byte
}

// Invalidates discards any pending broadcast of an older state of the same key.
func (b *broadcast) Invalidates(other memberlist.Broadcast) bool {
	ob, ok := other.(*broadcast)
	return ok && ob.key == b.key
}

func (b *broadcast) Message() []byte {
	return b.msg
}

func (b *broadcast) Finished() {}
