package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryInEmissionOrder(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got []int

	unsub := bus.Subscribe(TopicSignal, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Data.(int))
		mu.Unlock()
	})
	defer unsub()

	for i := 0; i < 100; i++ {
		bus.Publish(TopicSignal, i)
	}
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSlowListenerDoesNotOverlap(t *testing.T) {
	bus := NewBus()
	var inFlight, maxInFlight int32
	var count int32

	unsub := bus.Subscribe(TopicSignal, func(Event) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&count, 1)
	})
	defer unsub()

	for i := 0; i < 20; i++ {
		bus.Publish(TopicSignal, i)
	}
	bus.Flush()

	assert.Equal(t, int32(20), atomic.LoadInt32(&count), "no events dropped")
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight), "callbacks must not overlap")
}

func TestSlowListenerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	slowStarted := make(chan struct{})
	release := make(chan struct{})
	fastDone := make(chan struct{})

	unsubSlow := bus.Subscribe(TopicSignal, func(Event) {
		close(slowStarted)
		<-release
	})
	defer unsubSlow()
	unsubFast := bus.Subscribe(TopicSignal, func(Event) {
		close(fastDone)
	})
	defer unsubFast()

	bus.Publish(TopicSignal, "x")

	<-slowStarted
	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("fast listener starved by slow listener")
	}
	close(release)
	bus.Flush()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	var count int32
	unsub := bus.Subscribe(TopicError, func(Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Publish(TopicError, "one")
	bus.Flush()
	unsub()
	bus.Publish(TopicError, "two")
	bus.Flush()

	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestSubscribeOnceFilter(t *testing.T) {
	bus := NewBus()
	var got []int
	var mu sync.Mutex

	bus.SubscribeOnce(TopicSignal, func(ev Event) bool {
		return ev.Data.(int) >= 3
	}, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Data.(int))
		mu.Unlock()
	})

	for i := 0; i < 6; i++ {
		bus.Publish(TopicSignal, i)
	}
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{3}, got, "exactly the first matching event")
}

func TestSubscribeDuringDeliveryObservedNextEmission(t *testing.T) {
	bus := NewBus()
	var late int32

	unsub := bus.Subscribe(TopicSignal, func(Event) {
		bus.Subscribe(TopicSignal, func(Event) {
			atomic.AddInt32(&late, 1)
		})
	})
	defer unsub()

	bus.Publish(TopicSignal, 1)
	bus.Flush()
	assert.Equal(t, int32(0), atomic.LoadInt32(&late))

	bus.Publish(TopicSignal, 2)
	bus.Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&late))
}
