// Package signals provides the process-wide lifecycle notification bus.
// Game logic and contribs subscribe callbacks to named signals; the core
// fires them on login, logout, puppet and unpuppet without knowing who
// is listening.
package signals

import (
	"fmt"
	"log"
	"sync"
)

// Signal names fired by the session core.
const (
	AccountPostCreate     = "account-post-create"
	AccountPostFirstLogin = "account-post-first-login"
	AccountPostLogin      = "account-post-login"
	AccountPostLoginFail  = "account-post-login-fail"
	AccountPostLogout     = "account-post-logout"
	AccountPostLastLogout = "account-post-last-logout"
	ObjectPostCreate      = "object-post-create"
	ObjectPostPuppet      = "object-post-puppet"
	ObjectPostUnpuppet    = "object-post-unpuppet"
	ExitTraversed         = "exit-traversed"
)

// Callback is a signal subscriber. Sender is the emitting entity (an
// *Account, *Object or *Session depending on the signal); kwargs carries
// signal-specific context. Callbacks run synchronously on the emitting
// goroutine; a handler that needs asynchronous work must spawn it itself.
type Callback func(sender any, kwargs map[string]any)

type subscriber struct {
	id int
	cb Callback
}

// Bus is a named-signal publish/subscribe dispatcher. Callbacks fire in
// registration order. A panicking callback is recovered and logged
// individually; it never prevents later callbacks from running nor
// crashes the emitter.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber
	nextID int
}

// NewBus creates an empty signal bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Connect registers a callback for a signal and returns a handle usable
// with Disconnect.
func (b *Bus) Connect(signal string, cb Callback) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[signal] = append(b.subs[signal], subscriber{id: b.nextID, cb: cb})
	return b.nextID
}

// Disconnect removes a previously connected callback by handle.
func (b *Bus) Disconnect(signal string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[signal]
	for i, s := range subs {
		if s.id == id {
			b.subs[signal] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[signal]) == 0 {
		delete(b.subs, signal)
	}
}

// Send synchronously invokes all callbacks registered for the signal, in
// registration order, on the caller's goroutine. Each invocation is
// isolated: a panic is caught and logged, and dispatch continues with the
// next callback.
func (b *Bus) Send(signal string, sender any, kwargs map[string]any) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs[signal]))
	copy(subs, b.subs[signal])
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(signal, s, sender, kwargs)
	}
}

func (b *Bus) invoke(signal string, s subscriber, sender any, kwargs map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("signals: %s subscriber %d panicked: %v", signal, s.id, r)
		}
	}()
	s.cb(sender, kwargs)
}

// SubscriberCount returns the number of callbacks registered for a signal.
func (b *Bus) SubscriberCount(signal string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[signal])
}

// Kwargs is a convenience constructor for a kwargs map from alternating
// key/value pairs.
func Kwargs(pairs ...any) map[string]any {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("signals.Kwargs: odd argument count %d", len(pairs)))
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(string)] = pairs[i+1]
	}
	return m
}
