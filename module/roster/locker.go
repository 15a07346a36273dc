/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package roster

import "sync"

type refMutex struct {
	sync.Mutex
	refs int
}

// pairLocker interns a mutex per (owner, target) pair.
// A mutex lives only as long as someone holds or waits for it.
type pairLocker struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func newPairLocker() *pairLocker {
	return &pairLocker{locks: make(map[string]*refMutex)}
}

func (l *pairLocker) lock(owner, target string) (unlock func()) {
	key := owner + " " + target

	l.mu.Lock()
	m := l.locks[key]
	if m == nil {
		m = &refMutex{}
		l.locks[key] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *pairLocker) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
