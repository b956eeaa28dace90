// Package events implements the engine event bus: typed topics with ordered,
// queued, non-overlapping delivery per listener. Publishing never blocks;
// each listener drains its own unbounded FIFO on a dedicated goroutine, so a
// slow callback delays only its own queue.
package events

import (
	"sync"
	"time"
)

// Topic identifies an event subject.
type Topic string

const (
	TopicSignal           Topic = "signal"
	TopicSignalBacktest   Topic = "signalBacktest"
	TopicSignalLive       Topic = "signalLive"
	TopicDoneBacktest     Topic = "doneBacktest"
	TopicDoneLive         Topic = "doneLive"
	TopicDoneWalker       Topic = "doneWalker"
	TopicProgressBacktest Topic = "progressBacktest"
	TopicProgressWalker   Topic = "progressWalker"
	TopicPerformance      Topic = "performance"
	TopicPartialProfit    Topic = "partialProfit"
	TopicPartialLoss      Topic = "partialLoss"
	TopicBreakeven        Topic = "breakeven"
	TopicSchedulePing     Topic = "schedulePing"
	TopicActivePing       Topic = "activePing"
	TopicRisk             Topic = "risk"
	TopicWalker           Topic = "walker"
	TopicWalkerComplete   Topic = "walkerComplete"
	TopicError            Topic = "error"
	TopicExit             Topic = "exit"
)

// Event is one published record.
type Event struct {
	Topic     Topic
	Timestamp time.Time
	Data      any
}

// Handler consumes events. Handlers on one subscription never overlap.
type Handler func(Event)

// Filter selects events for one-shot subscriptions.
type Filter func(Event) bool

type listener struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []Event
	busy  bool
	done  bool

	fn     Handler
	filter Filter
	once   bool
	unsub  func()
}

func newListener(fn Handler, filter Filter, once bool) *listener {
	l := &listener{fn: fn, filter: filter, once: once}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *listener) push(ev Event) {
	l.mu.Lock()
	if !l.done {
		l.queue = append(l.queue, ev)
		l.cond.Signal()
	}
	l.mu.Unlock()
}

func (l *listener) stop() {
	l.mu.Lock()
	l.done = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// idle reports whether the queue is drained and no callback is running.
func (l *listener) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) == 0 && !l.busy
}

func (l *listener) run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.done {
			l.cond.Wait()
		}
		if l.done && len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		ev := l.queue[0]
		l.queue = l.queue[1:]
		l.busy = true
		l.mu.Unlock()

		deliver := l.filter == nil || l.filter(ev)
		if deliver {
			l.fn(ev)
		}

		l.mu.Lock()
		l.busy = false
		l.cond.Broadcast()
		fired := deliver && l.once
		l.mu.Unlock()

		if fired {
			l.unsub()
			return
		}
	}
}

// Bus is the event bus. The zero value is not usable; call NewBus.
type Bus struct {
	mu        sync.Mutex
	listeners map[Topic][]*listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[Topic][]*listener)}
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// handle. Adding or removing listeners during delivery is allowed; the next
// emission observes the new set.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	return b.subscribe(topic, fn, nil, false)
}

// SubscribeOnce delivers at most one event matching the filter, then
// auto-unsubscribes. A nil filter matches everything.
func (b *Bus) SubscribeOnce(topic Topic, filter Filter, fn Handler) func() {
	return b.subscribe(topic, fn, filter, true)
}

func (b *Bus) subscribe(topic Topic, fn Handler, filter Filter, once bool) func() {
	l := newListener(fn, filter, once)

	var unsubOnce sync.Once
	l.unsub = func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			list := b.listeners[topic]
			for i, cand := range list {
				if cand == l {
					b.listeners[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			l.stop()
		})
	}

	b.mu.Lock()
	b.listeners[topic] = append(b.listeners[topic], l)
	b.mu.Unlock()

	return l.unsub
}

// Publish enqueues the event for every current listener of the topic, in
// emission order.
func (b *Bus) Publish(topic Topic, data any) {
	ev := Event{Topic: topic, Timestamp: time.Now(), Data: data}

	b.mu.Lock()
	list := make([]*listener, len(b.listeners[topic]))
	copy(list, b.listeners[topic])
	b.mu.Unlock()

	for _, l := range list {
		l.push(ev)
	}
}

// Flush blocks until every listener queue is drained. Used by the walker
// between strategies and by tests that assert on delivered events.
func (b *Bus) Flush() {
	for {
		b.mu.Lock()
		all := make([]*listener, 0)
		for _, list := range b.listeners {
			all = append(all, list...)
		}
		b.mu.Unlock()

		idle := true
		for _, l := range all {
			if !l.idle() {
				idle = false
				break
			}
		}
		if idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
