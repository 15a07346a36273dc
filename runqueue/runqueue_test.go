/*
 * Copyright (c) 2019 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package runqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunQueue_Consistency(t *testing.T) {
	var i int32

	var wg sync.WaitGroup
	fn := func() {
		i++
		wg.Done()
	}
	rq := New("test")
	for j := 0; j < 2000; j++ {
		wg.Add(1)
		rq.Run(fn)
		if j%2 == 1 {
			time.Sleep(time.Microsecond)
		}
	}
	wg.Wait()

	require.Equal(t, int32(2000), i)
}

func TestRunQueue_Order(t *testing.T) {
	var out []int
	done := make(chan struct{})

	rq := New("test")
	for j := 0; j < 100; j++ {
		j := j
		rq.Run(func() { out = append(out, j) })
	}
	rq.Stop(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "stop callback timeout")
	}
	require.Len(t, out, 100)
	for j := range out {
		require.Equal(t, j, out[j])
	}
}

func TestRunQueue_Stop(t *testing.T) {
	var executed int32

	rq := New("test")
	rq.Run(func() { time.Sleep(time.Millisecond * 50) })

	c := make(chan struct{})
	rq.Stop(func() { close(c) })
	rq.Run(func() { atomic.StoreInt32(&executed, 1) })

	select {
	case <-c:
	case <-time.After(time.Second):
		require.Fail(t, "stop callback timeout")
	}
	require.Equal(t, int32(0), atomic.LoadInt32(&executed))

	// second stop is a no-op
	rq.Stop(func() { require.Fail(t, "unexpected stop callback") })
}

func TestRunQueue_PanicRecovery(t *testing.T) {
	done := make(chan struct{})

	rq := New("test")
	rq.Run(func() { panic("oops") })
	rq.Run(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "queue stalled after panic")
	}
}
