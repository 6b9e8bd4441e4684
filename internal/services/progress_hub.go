package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/pipeline"
)

// Unit events are published per source on ingest:progress:<source>.
const (
	ProgressChannelPrefix = "ingest:progress:"
	progressPattern       = ProgressChannelPrefix + "*"
	subscriberBuffer      = 256
)

// ProgressPublisher forwards driver unit events to Redis so an admin server in
// another process can stream them.
type ProgressPublisher struct {
	redis   *redis.Client
	timeout time.Duration
}

func NewProgressPublisher(rdb *redis.Client) *ProgressPublisher {
	return &ProgressPublisher{redis: rdb, timeout: 2 * time.Second}
}

// OnUnit implements pipeline.Observer. Publishing is best effort.
func (p *ProgressPublisher) OnUnit(ev pipeline.UnitEvent) {
	if p == nil || p.redis == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.redis.Publish(ctx, ProgressChannelPrefix+ev.Source, payload).Err(); err != nil {
		logger.Debug("progress publish failed: %v", err)
	}
}

// ProgressFilter narrows a subscription. Empty fields match everything.
type ProgressFilter struct {
	Source string
	RunID  uuid.UUID
}

func (f ProgressFilter) match(ev pipeline.UnitEvent) bool {
	if f.Source != "" && f.Source != ev.Source {
		return false
	}
	return f.RunID == uuid.Nil || f.RunID == ev.RunID
}

// ProgressSubscription is one listener's view of the hub.
type ProgressSubscription struct {
	ID     uuid.UUID
	Events <-chan pipeline.UnitEvent

	filter  ProgressFilter
	ch      chan pipeline.UnitEvent
	dropped atomic.Int64
}

// Dropped counts events discarded because the listener fell behind.
func (s *ProgressSubscription) Dropped() int64 { return s.dropped.Load() }

// ProgressHub fans progress events from Redis out to SSE listeners over one
// pattern subscription. It also keeps the latest event of every run still in
// flight, so a listener that connects mid-run starts from the current state.
type ProgressHub struct {
	redis *redis.Client

	mu          sync.RWMutex
	subscribers map[uuid.UUID]*ProgressSubscription
	active      map[uuid.UUID]pipeline.UnitEvent
}

// NewProgressHub starts the subscription loop; it ends when ctx is cancelled.
func NewProgressHub(ctx context.Context, rdb *redis.Client) *ProgressHub {
	hub := &ProgressHub{
		redis:       rdb,
		subscribers: make(map[uuid.UUID]*ProgressSubscription),
		active:      make(map[uuid.UUID]pipeline.UnitEvent),
	}
	go hub.listen(ctx)
	return hub
}

func (h *ProgressHub) listen(ctx context.Context) {
	for ctx.Err() == nil {
		pubsub := h.redis.PSubscribe(ctx, progressPattern)
		h.consume(ctx, pubsub.Channel(redis.WithChannelSize(1024)))
		_ = pubsub.Close()

		if err := pipeline.SleepContext(ctx, time.Second); err != nil {
			return
		}
		logger.Warn("progress subscription lost, resubscribing")
	}
}

func (h *ProgressHub) consume(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev pipeline.UnitEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Debug("ignoring malformed progress event on %s", msg.Channel)
				continue
			}
			if ev.Source == "" {
				ev.Source = strings.TrimPrefix(msg.Channel, ProgressChannelPrefix)
			}
			h.dispatch(ev)
		}
	}
}

func (h *ProgressHub) dispatch(ev pipeline.UnitEvent) {
	h.mu.Lock()
	if ev.State.Terminal() && ev.Index >= ev.Total {
		delete(h.active, ev.RunID)
	} else {
		h.active[ev.RunID] = ev
	}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if !sub.filter.match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener for events matching f. The returned func
// detaches it and closes its channel.
func (h *ProgressHub) Subscribe(f ProgressFilter) (*ProgressSubscription, func()) {
	ch := make(chan pipeline.UnitEvent, subscriberBuffer)
	sub := &ProgressSubscription{ID: uuid.New(), Events: ch, filter: f, ch: ch}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()

	return sub, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[sub.ID]; ok {
			delete(h.subscribers, sub.ID)
			close(ch)
		}
	}
}

// ActiveRuns returns the latest event of each in-flight run matching f.
func (h *ProgressHub) ActiveRuns(f ProgressFilter) []pipeline.UnitEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]pipeline.UnitEvent, 0, len(h.active))
	for _, ev := range h.active {
		if f.match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers reports how many listeners are attached.
func (h *ProgressHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
