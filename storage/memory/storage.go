/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package memorystorage

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrMocked is returned by every repository operation while a mocked failure is armed.
var ErrMocked = errors.New("memstorage: mocked error")

// failAfter holds the invocation ordinal from which operations fail, zero meaning disarmed.
var (
	failAfter   int32
	invocations int32
)

// EnableMockedError makes every following operation fail with ErrMocked.
func EnableMockedError() {
	EnableMockedErrorWithInvokeLimit(1)
}

// EnableMockedErrorWithInvokeLimit lets limit-1 operations succeed before failing with ErrMocked.
func EnableMockedErrorWithInvokeLimit(limit int32) {
	atomic.StoreInt32(&invocations, 0)
	atomic.StoreInt32(&failAfter, limit)
}

// DisableMockedError disarms mocked failures.
func DisableMockedError() {
	atomic.StoreInt32(&failAfter, 0)
}

func mockedError() error {
	limit := atomic.LoadInt32(&failAfter)
	if limit == 0 {
		return nil
	}
	if atomic.AddInt32(&invocations, 1) >= limit {
		return ErrMocked
	}
	return nil
}

// memoryStorage guards a repository state with a single lock.
type memoryStorage struct {
	mu sync.RWMutex
}

func (m *memoryStorage) inWriteLock(f func() error) error {
	if err := mockedError(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return f()
}

func (m *memoryStorage) inReadLock(f func() error) error {
	if err := mockedError(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f()
}
