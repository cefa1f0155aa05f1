package local

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/linkd/pkg/events"
	"github.com/veesix-networks/linkd/pkg/logger"
)

const publishQueueSize = 1024

type publishRequest struct {
	topic string
	event events.Event
}

type sub struct {
	bus   *Bus
	topic string
	id    uint64
}

func (s *sub) Unsubscribe() {
	s.bus.unsubscribe(s.topic, s.id)
}

// Bus delivers events asynchronously. Each handler runs on its own
// goroutine, so a slow subscriber never holds up the publisher.
type Bus struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	handlers  map[string]map[uint64]events.Handler
	nextID    atomic.Uint64
	publishCh chan publishRequest
	logger    *slog.Logger
	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus() events.Bus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[string]map[uint64]events.Handler),
		publishCh: make(chan publishRequest, publishQueueSize),
		logger:    logger.Get(logger.Events),
	}

	go b.dispatch()

	return b
}

// Publish never blocks. A full queue drops the event; link state
// subscribers fall back to polling so a dropped event only costs latency.
func (b *Bus) Publish(topic string, event events.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		event.Type = topic
	}

	select {
	case b.publishCh <- publishRequest{topic: topic, event: event}:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("Publish queue full, dropping event", "topic", topic)
	}
}

func (b *Bus) dispatch() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.publishCh:
			for _, h := range b.snapshot(req.topic) {
				go h(req.event)
			}
		}
	}
}

func (b *Bus) snapshot(topic string) []events.Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hs := make([]events.Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		hs = append(hs, h)
	}
	return hs
}

func (b *Bus) Subscribe(topic string, handler events.Handler) events.Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[uint64]events.Handler)
	}
	b.handlers[topic][id] = handler
	n := len(b.handlers[topic])
	b.mu.Unlock()

	b.logger.Debug("Subscribed", "topic", topic, "subscribers", n)

	return &sub{bus: b, topic: topic, id: id}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers[topic], id)
	if len(b.handlers[topic]) == 0 {
		delete(b.handlers, topic)
	}
}

func (b *Bus) Stats() events.Stats {
	b.mu.RLock()
	topics := make([]events.TopicStats, 0, len(b.handlers))
	for topic, hs := range b.handlers {
		topics = append(topics, events.TopicStats{Topic: topic, Subscribers: len(hs)})
	}
	b.mu.RUnlock()

	sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })

	return events.Stats{
		Topics:       topics,
		PublishChLen: len(b.publishCh),
		PublishChCap: cap(b.publishCh),
		Published:    b.published.Load(),
		Dropped:      b.dropped.Load(),
	}
}

func (b *Bus) Close() error {
	b.cancel()
	return nil
}
