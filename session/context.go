/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package session

import "sync"

// Context is a small per session scratch store shared between the session and the modules processing its stanzas.
// Its methods are safe for simultaneous use by multiple goroutines.
type Context struct {
	mu     sync.RWMutex
	m      map[string]interface{}
	doneCh chan struct{}
	once   sync.Once
}

func newContext() *Context {
	return &Context{
		m:      make(map[string]interface{}),
		doneCh: make(chan struct{}),
	}
}

// SetObject stores within the context an object reference.
func (ctx *Context) SetObject(object interface{}, key string) {
	ctx.mu.Lock()
	ctx.m[key] = object
	ctx.mu.Unlock()
}

// Object retrieves from the context a previously stored object reference.
func (ctx *Context) Object(key string) interface{} {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.m[key]
}

// SetString stores within the context an string value.
func (ctx *Context) SetString(s string, key string) { ctx.SetObject(s, key) }

// String retrieves from the context a previously stored string value.
func (ctx *Context) String(key string) string {
	s, _ := ctx.Object(key).(string)
	return s
}

// SetInt stores within the context an integer value.
func (ctx *Context) SetInt(integer int, key string) { ctx.SetObject(integer, key) }

// Int retrieves from the context a previously stored integer value.
func (ctx *Context) Int(key string) int {
	i, _ := ctx.Object(key).(int)
	return i
}

// SetBool stores within the context a boolean value.
func (ctx *Context) SetBool(boolean bool, key string) { ctx.SetObject(boolean, key) }

// Bool retrieves from the context a previously stored boolean value.
func (ctx *Context) Bool(key string) bool {
	b, _ := ctx.Object(key).(bool)
	return b
}

// Done returns a channel that is closed when the session is terminated.
func (ctx *Context) Done() <-chan struct{} {
	return ctx.doneCh
}

func (ctx *Context) terminate() {
	ctx.once.Do(func() { close(ctx.doneCh) })
}
