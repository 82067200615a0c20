// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package indexer

import (
	"sync"

	"github.com/tagdex/tagdexd/types"
)

// EventType describes a lifecycle transition of a transaction that
// touches a subscribed group.
type EventType int

const (
	// TxAddedToMempool fires when a transaction enters the
	// unconfirmed partition of a group.
	TxAddedToMempool EventType = iota

	// TxRemovedFromMempool fires when an unconfirmed transaction is
	// evicted, or immediately before it is re-announced during a
	// reorganization.
	TxRemovedFromMempool

	// TxConfirmed fires when a transaction enters the confirmed
	// partition of a group.
	TxConfirmed
)

func (t EventType) String() string {
	switch t {
	case TxAddedToMempool:
		return "ADDED_TO_MEMPOOL"
	case TxRemovedFromMempool:
		return "REMOVED_FROM_MEMPOOL"
	case TxConfirmed:
		return "CONFIRMED"
	}
	return "UNKNOWN"
}

// Event is delivered to group subscribers. Txid identifies the
// transaction; the payload is deliberately small so slow consumers
// fetch details through the query interface.
type Event struct {
	Txid types.ID
	Type EventType
}

// Subscription is a subscription to events of a single group. The
// channel is closed when the subscription is terminated, either by
// Close or because the subscriber fell too far behind.
type Subscription struct {
	C     <-chan *Event
	id    uint64
	key   GroupKey
	Close func()
}

type busSubscriber struct {
	ch chan *Event
}

// NotificationBus fans lifecycle events out to group subscribers.
// Each subscriber owns a buffered channel; a subscriber whose buffer
// is full when an event arrives is disconnected rather than allowed
// to stall the publisher.
type NotificationBus struct {
	subs    map[GroupKey]map[uint64]*busSubscriber
	nextID  uint64
	bufSize int
	mtx     sync.Mutex
}

// NewNotificationBus returns a bus whose subscriber channels hold up
// to bufSize pending events.
func NewNotificationBus(bufSize int) *NotificationBus {
	if bufSize < 1 {
		bufSize = 1
	}
	return &NotificationBus{
		subs:    make(map[GroupKey]map[uint64]*busSubscriber),
		bufSize: bufSize,
	}
}

// Subscribe registers for events touching the given group of the
// given plugin.
func (b *NotificationBus) Subscribe(pluginName string, group []byte) *Subscription {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	key := GroupKey{Plugin: pluginName, Group: string(group)}
	b.nextID++
	id := b.nextID

	s := &busSubscriber{ch: make(chan *Event, b.bufSize)}
	if b.subs[key] == nil {
		b.subs[key] = make(map[uint64]*busSubscriber)
	}
	b.subs[key][id] = s

	sub := &Subscription{
		C:   s.ch,
		id:  id,
		key: key,
	}
	sub.Close = func() {
		b.mtx.Lock()
		defer b.mtx.Unlock()
		if cur, ok := b.subs[sub.key][sub.id]; ok && cur == s {
			b.remove(sub.key, sub.id, s)
		}
	}
	return sub
}

// Publish delivers event to every subscriber of every key in touched.
// A subscriber appearing under several touched keys receives the
// event once per key it subscribed to.
func (b *NotificationBus) Publish(event *Event, touched []GroupKey) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, key := range touched {
		for id, s := range b.subs[key] {
			select {
			case s.ch <- event:
			default:
				log.Warnf("Dropping slow subscriber for group %s", key)
				b.remove(key, id, s)
			}
		}
	}
}

// remove must be called with the bus mutex held.
func (b *NotificationBus) remove(key GroupKey, id uint64, s *busSubscriber) {
	delete(b.subs[key], id)
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
	close(s.ch)
}
