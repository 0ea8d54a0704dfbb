package events

import (
	"sync"
	"time"

	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventOpCommitted EventType = "op.committed"
	EventFileCreated EventType = "file.created"
	EventFileDeleted EventType = "file.deleted"
	EventFileMoved   EventType = "file.moved"
)

// Event is one entry on the committed-op stream. For EventOpCommitted the
// Seq/Op pair is the canonical broadcast form assigned by the serializer;
// for file-system events FSOp carries the structural change.
type Event struct {
	Type EventType
	Path string
	Seq  uint64
	Op   types.Operation
	FSOp *types.FileSystemOp

	// Vector is the document's causal vector at commit time. Replication
	// attaches it to the forwarded op so receivers can tell concurrent
	// local commits from already-integrated ones.
	Vector types.CausalVector

	Upstream  bool // arrived via replication; must not re-replicate
	Timestamp time.Time
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker decouples the serializer from the session manager and the
// replication peer: the serializer publishes committed operations, the
// consumers subscribe. Per-document commit order is preserved because
// publishing happens under the document's serialization point and the
// broker distributes from a single goroutine.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	done        chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
	<-b.done
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe(buffer int) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, buffer)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues an event for distribution to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	defer close(b.done)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			// Drain what was already accepted so commit order is never
			// silently cut short mid-stream.
			for {
				select {
				case event := <-b.eventCh:
					b.broadcast(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip: this subscriber never receives
			// the event. Slow client sessions are dropped on their own
			// session queues, not here.
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
