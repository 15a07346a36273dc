/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package cluster

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/pkg/errors"
)

const (
	msgUpdateType byte = iota + 1
	msgStateType
)

// Entry is a replicated key/value record.
type Entry struct {
	Key     string
	Value   []byte
	Owner   string
	Version uint64
	Deleted bool

	deletedAt time.Time
}

// newer reports whether e supersedes other.
func (e *Entry) newer(other *Entry) bool {
	if e.Version != other.Version {
		return e.Version > other.Version
	}
	return e.Owner > other.Owner
}

type message struct {
	Entries []Entry
}

func encodeMessage(msgType byte, m *message) ([]byte, error) {
	buf := bytes.NewBuffer([]byte{msgType})
	if err := gob.NewEncoder(buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMessage(b []byte) (byte, *message, error) {
	if len(b) == 0 {
		return 0, nil, errors.New("cluster: empty message")
	}
	switch b[0] {
	case msgUpdateType, msgStateType:
		break
	default:
		return 0, nil, errors.Errorf("cluster: unrecognized message type: %d", b[0])
	}
	var m message
	if err := gob.NewDecoder(bytes.NewReader(b[1:])).Decode(&m); err != nil {
		return 0, nil, errors.Wrap(err, "cluster: malformed message")
	}
	return b[0], &m, nil
}
