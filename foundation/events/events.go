// Package events fans node activity out to connected websocket clients.
package events

import (
	"fmt"
	"sync"
)

// subscriberBuffer sets how far a slow websocket client may fall behind
// before messages are dropped for it.
const subscriberBuffer = 100

// Events distributes node activity messages to subscribed clients. Each
// subscriber is keyed by a unique id and owns a buffered channel.
type Events struct {
	subs     map[string]chan string
	mu       sync.Mutex
	shutdown bool
}

// New constructs an Events value with no subscribers.
func New() *Events {
	return &Events{
		subs: make(map[string]chan string),
	}
}

// Acquire returns the channel for the specified subscriber id, creating
// the subscription on first use. After Shutdown the returned channel is
// already closed.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	if ch, exists := evt.subs[id]; exists {
		return ch
	}

	ch := make(chan string, subscriberBuffer)
	if evt.shutdown {
		close(ch)
		return ch
	}

	evt.subs[id] = ch
	return ch
}

// Release drops the subscription for the specified id and closes its
// channel.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.subs[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.subs, id)
	close(ch)
	return nil
}

// Send delivers the message to every subscriber. A subscriber whose
// buffer is full misses the message rather than blocking the sender.
func (evt *Events) Send(s string) {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for _, ch := range evt.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Shutdown closes every subscriber channel and refuses new
// subscriptions.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	evt.shutdown = true
	for id, ch := range evt.subs {
		delete(evt.subs, id)
		close(ch)
	}
}
