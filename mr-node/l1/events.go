package l1

import (
	"fmt"
	"sync"

	"github.com/meridian-rollup/meridian/mr-service/eth"
)

// Event is a notification about L1 chain progress, published by the update
// loop to all subscribers.
type Event interface {
	fmt.Stringer
	isL1Event()
}

// NewHeadEvent announces a new chain head at the given height.
type NewHeadEvent struct {
	Head uint64
}

func (ev NewHeadEvent) String() string { return fmt.Sprintf("new-head(%d)", ev.Head) }
func (NewHeadEvent) isL1Event()        {}

// NewFinalizedEvent announces a newly finalized block.
type NewFinalizedEvent struct {
	Finalized eth.L1BlockInfoWithParent
}

func (ev NewFinalizedEvent) String() string { return fmt.Sprintf("new-finalized(%s)", ev.Finalized) }
func (NewFinalizedEvent) isL1Event()        {}

// EventSubscription is one subscriber's view of the event feed. Events arrive
// on C. A subscriber that stops draining C loses its oldest pending events
// first; the publisher never blocks.
type EventSubscription struct {
	C <-chan Event

	ch   chan Event
	feed *eventFeed
	once sync.Once
}

// Unsubscribe removes the subscription from the feed and closes C.
// It is safe to call more than once.
func (s *EventSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.remove(s)
		close(s.ch)
	})
}

// eventFeed is a lossy bounded broadcaster. Each subscriber owns a buffered
// channel; publishing to a full channel evicts the subscriber's oldest event.
type eventFeed struct {
	mu       sync.Mutex
	capacity int
	closed   bool
	subs     map[*EventSubscription]struct{}
}

func newEventFeed(capacity int) *eventFeed {
	return &eventFeed{
		capacity: capacity,
		subs:     make(map[*EventSubscription]struct{}),
	}
}

func (f *eventFeed) subscribe() *EventSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Event, f.capacity)
	sub := &EventSubscription{C: ch, ch: ch, feed: f}
	if f.closed {
		// Feed is shut down: hand out an already-closed subscription.
		close(ch)
		return sub
	}
	f.subs[sub] = struct{}{}
	return sub
}

func (f *eventFeed) remove(sub *EventSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub)
}

// send delivers the event to every subscriber without ever blocking the
// caller. This runs with the feed lock held, so no subscription can be
// removed (and its channel closed) mid-delivery.
func (f *eventFeed) send(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		for {
			select {
			case sub.ch <- ev:
			default:
				// Buffer full: evict the oldest pending event and retry.
				// The non-blocking receive covers a concurrent consumer
				// draining the buffer between our two selects.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// close shuts the feed down, closing all subscriber channels. Closing is
// delegated to each subscription's Unsubscribe so a racing Unsubscribe call
// cannot close a channel twice.
func (f *eventFeed) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := make([]*EventSubscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
