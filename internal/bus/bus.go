// SPDX-License-Identifier: MIT
/*
Package bus implements the in-process topic bus the node is wired to.

Producers advertise on a topic and publish raw payloads; subscribers receive
them on a dedicated goroutine per subscription. The number of live publishers
per topic is observable, which is what the listener's readiness handshake
polls for.

Delivery:
- Each subscription owns a bounded queue; a full queue drops the message
  instead of blocking the publisher.
- Messages to one subscription are delivered in publish order.
*/
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	applog "kwdetect/internal/log"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("bus: closed")

// Message is a single payload delivered on a topic.
type Message struct {
	Topic    string
	Data     []byte
	Received time.Time
}

// Handler consumes messages for one subscription.
type Handler func(Message)

// Bus is a topic based publish/subscribe hub. It is safe for concurrent use.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]*Subscription
	publishers map[string]int
	closed     bool
	wg         sync.WaitGroup
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:       make(map[string][]*Subscription),
		publishers: make(map[string]int),
	}
}

// Subscription is a registered handler with its own delivery queue.
type Subscription struct {
	bus      *Bus
	topic    string
	queue    chan Message
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// Subscribe registers handler for topic. queueSize bounds the number of
// undelivered messages; values below 1 are treated as 1.
func (b *Bus) Subscribe(topic string, queueSize int, handler Handler) (*Subscription, error) {
	if queueSize < 1 {
		queueSize = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		bus:     b,
		topic:   topic,
		queue:   make(chan Message, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(sub.stopped)
		for {
			select {
			case msg := <-sub.queue:
				handler(msg)
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}

// Unsubscribe removes the subscription. Pending messages are discarded.
// It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		b := s.bus
		b.mu.Lock()
		list := b.subs[s.topic]
		for i, other := range list {
			if other == s {
				b.subs[s.topic] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once the delivery goroutine has exited and no handler call
// is in flight. Wait on it after Unsubscribe, never from inside the handler.
func (s *Subscription) Done() <-chan struct{} {
	return s.stopped
}

// Dropped returns how many messages were dropped because the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) offer(msg Message) {
	select {
	case s.queue <- msg:
	default:
		s.dropped.Add(1)
		applog.Debugf("Bus: subscriber queue full on %s, message dropped", s.topic)
	}
}

// Publish delivers data to every subscriber of topic. It never blocks.
// Publishing does not require an advertised Publisher; the publisher count
// only reflects producers that announced themselves.
func (b *Bus) Publish(topic string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	msg := Message{Topic: topic, Data: data, Received: time.Now()}
	for _, sub := range b.subs[topic] {
		sub.offer(msg)
	}
	return nil
}

// Publishers returns the number of advertised publishers on topic.
func (b *Bus) Publishers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.publishers[topic]
}

// Subscribers returns the number of subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publisher is an advertised producer on one topic. The advertisement lasts
// until Close.
type Publisher struct {
	bus       *Bus
	topic     string
	closeOnce sync.Once
}

// Advertise announces a publisher on topic.
func (b *Bus) Advertise(topic string) (*Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.publishers[topic]++
	applog.Debugf("Bus: publisher advertised on %s, total: %d", topic, b.publishers[topic])
	return &Publisher{bus: b, topic: topic}, nil
}

// Topic returns the topic this publisher is advertised on.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends data on the publisher's topic.
func (p *Publisher) Publish(data []byte) error {
	return p.bus.Publish(p.topic, data)
}

// Close withdraws the advertisement. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		b := p.bus
		b.mu.Lock()
		if b.publishers[p.topic] > 0 {
			b.publishers[p.topic]--
		}
		b.mu.Unlock()
	})
	return nil
}

// Close stops every subscription goroutine and rejects further use.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
	b.wg.Wait()
	return nil
}
