package bus

import (
	"context"
	"sync"
	"time"

	"shopbot/pkg/logger"
)

type MessageBus struct {
	inbound     chan InboundMessage
	subscribers map[int]chan Event
	nextSubID   int
	lastEvents  map[EventType]Event
	mu          sync.RWMutex
	closed      bool
	closeOnce   sync.Once
}

const (
	queueWriteTimeout    = 2 * time.Second
	subscriberBufferSize = 16
)

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, 100),
		subscribers: make(map[int]chan Event),
		lastEvents:  make(map[EventType]Event),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return
	}
	ch := mb.inbound
	mb.mu.RUnlock()

	defer func() {
		if recover() != nil {
			logger.WarnCF("bus", "PublishInbound on closed channel recovered", map[string]interface{}{
				logger.FieldChannel:  msg.Channel,
				logger.FieldSenderID: msg.SenderID,
			})
		}
	}()

	select {
	case ch <- msg:
	case <-time.After(queueWriteTimeout):
		logger.ErrorCF("bus", "PublishInbound timeout (queue full)", map[string]interface{}{
			logger.FieldChannel:  msg.Channel,
			logger.FieldSenderID: msg.SenderID,
		})
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishEvent fans ev out to every subscriber. Slow subscribers lose events
// rather than blocking the session lifecycle.
func (mb *MessageBus) PublishEvent(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.lastEvents[ev.Type] = ev

	for id, ch := range mb.subscribers {
		select {
		case ch <- ev:
		default:
			logger.WarnCF("bus", "Event subscriber lagging, event dropped", map[string]interface{}{
				"subscriber": id,
				"event":      string(ev.Type),
			})
		}
	}
}

// SubscribeEvents registers a new event subscriber. The returned cancel func
// must be called to release it.
func (mb *MessageBus) SubscribeEvents() (<-chan Event, func()) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if mb.closed {
		close(ch)
		return ch, func() {}
	}
	id := mb.nextSubID
	mb.nextSubID++
	mb.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			mb.mu.Lock()
			defer mb.mu.Unlock()
			if sub, ok := mb.subscribers[id]; ok {
				delete(mb.subscribers, id)
				close(sub)
			}
		})
	}
}

// LastEvent returns the most recent event of type t, if any.
func (mb *MessageBus) LastEvent(t EventType) (Event, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	ev, ok := mb.lastEvents[t]
	return ev, ok
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		close(mb.inbound)
		for id, ch := range mb.subscribers {
			close(ch)
			delete(mb.subscribers, id)
		}
		mb.mu.Unlock()
	})
}
