package server

import (
	"context"
	"sync"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/session"
)

const (
	SessionEventUpdated   = "session-update"
	SessionEventEnded     = "session-ended"
	sessionEventHeartbeat = "heartbeat"
	sessionEventSource    = "storeview-identity"
)

// SessionEvent notifies the open tabs of one identity that its session changed.
type SessionEvent struct {
	UserID    string
	EventType string
	Session   *session.Session
	Timestamp time.Time
}

// SessionDispatcher fans session events out to per-identity subscribers.
type SessionDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*sessionSubscriber
	nextID      int64
	bufferSize  int
}

type sessionSubscriber struct {
	id     int64
	stream chan SessionEvent
}

func NewSessionDispatcher() *SessionDispatcher {
	return &SessionDispatcher{
		subscribers: make(map[string]map[int64]*sessionSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for userID until ctx ends or cleanup runs.
func (d *SessionDispatcher) Subscribe(ctx context.Context, userID string) (<-chan SessionEvent, func()) {
	if userID == "" {
		ch := make(chan SessionEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &sessionSubscriber{
		id:     d.nextSequence(),
		stream: make(chan SessionEvent, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers event to every subscriber of its identity. Slow
// subscribers drop events rather than block the publisher.
func (d *SessionDispatcher) Publish(event SessionEvent) {
	if event.UserID == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*sessionSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the open streams for userID.
func (d *SessionDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *SessionDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *SessionDispatcher) registerSubscriber(userID string, subscriber *sessionSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*sessionSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *SessionDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
