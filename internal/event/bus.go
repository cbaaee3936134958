// Package event provides a pub/sub event system for diffview using watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of event.
type EventType string

const (
	ReviewOpened    EventType = "review.opened"
	ReviewUpdated   EventType = "review.updated"
	ReviewFinalized EventType = "review.finalized"
	ReviewApproved  EventType = "review.approved"
	ReviewRejected  EventType = "review.rejected"
	ReviewClosed    EventType = "review.closed"
	SurfaceChanged  EventType = "surface.changed"
	FileEdited      EventType = "file.edited"
	FileRemoved     EventType = "file.removed"
)

// Topic is the watermill topic every event is mirrored to as JSON.
const Topic = "diffview.events"

// MetadataType is the watermill metadata key carrying the event type.
const MetadataType = "type"

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscription matches one event type, or every type when typ is empty.
type subscription struct {
	id  uint64
	typ EventType
	fn  Subscriber
}

// Bus is the event bus. Subscribers are called directly so they keep the
// concrete Data value; every event is also published to Topic on a
// watermill GoChannel for consumers that want the JSON form (the SSE stream).
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool

	pubsub *gochannel.GoChannel
	ctx    context.Context
	cancel context.CancelFunc
}

var defaultBus = NewBus()

// Default returns the process-wide bus.
func Default() *Bus {
	return defaultBus
}

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers fn for events of type typ and returns a function that
// removes it.
func (b *Bus) Subscribe(typ EventType, fn Subscriber) func() {
	return b.add(typ, fn)
}

// SubscribeAll registers fn for every event and returns a function that
// removes it.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.add("", fn)
}

func (b *Bus) add(typ EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, typ: typ, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// matching returns the subscribers for typ in registration order, or false
// once the bus is closed.
func (b *Bus) matching(typ EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	var out []Subscriber
	for _, s := range b.subs {
		if s.typ == "" || s.typ == typ {
			out = append(out, s.fn)
		}
	}
	return out, true
}

func (b *Bus) mirror(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("type", string(event.Type)).Msg("event not serializable")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataType, string(event.Type))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		log.Debug().Err(err).Str("type", string(event.Type)).Msg("event mirror failed")
	}
}

// Publish mirrors event and calls each subscriber in its own goroutine.
func (b *Bus) Publish(event Event) {
	subs, ok := b.matching(event.Type)
	if !ok {
		return
	}
	b.mirror(event)
	for _, fn := range subs {
		go fn(event)
	}
}

// PublishSync mirrors event and calls every subscriber before returning.
func (b *Bus) PublishSync(event Event) {
	subs, ok := b.matching(event.Type)
	if !ok {
		return
	}
	b.mirror(event)
	for _, fn := range subs {
		fn(event)
	}
}

// Stream subscribes to the JSON mirror of every event. The channel closes
// when ctx is done or the bus is closed. Each message must be acked before
// the next is delivered.
func (b *Bus) Stream(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close drops all subscribers and closes the mirror. Later publishes are
// ignored.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	b.cancel()
	b.mu.Unlock()

	return b.pubsub.Close()
}

// Done is closed when the bus closes.
func (b *Bus) Done() <-chan struct{} {
	return b.ctx.Done()
}
