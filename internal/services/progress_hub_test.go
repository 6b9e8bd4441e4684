package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stockdata-project/collector/internal/pipeline"
)

// publishUntil keeps publishing ev until the hub delivers something on
// events; the hub subscribes asynchronously.
func publishUntil(t *testing.T, pub *ProgressPublisher, ev pipeline.UnitEvent, events <-chan pipeline.UnitEvent) pipeline.UnitEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for progress event")
		case <-tick.C:
			pub.OnUnit(ev)
		case got := <-events:
			return got
		}
	}
}

func TestProgressHubFansOutBySource(t *testing.T) {
	_, rdb, _ := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewProgressHub(ctx, rdb)
	stocks, unsubStocks := hub.Subscribe(ProgressFilter{Source: "stocks"})
	defer unsubStocks()
	etf, unsubETF := hub.Subscribe(ProgressFilter{Source: "etf"})
	defer unsubETF()

	if hub.Subscribers() != 2 {
		t.Fatalf("expected two subscribers, got %d", hub.Subscribers())
	}

	runID := uuid.New()
	ev := pipeline.UnitEvent{RunID: runID, Source: "stocks", Unit: "2024-08-01", Index: 1, Total: 2, State: pipeline.StateDone, PriceRows: 3}
	got := publishUntil(t, NewProgressPublisher(rdb), ev, stocks.Events)

	if got.RunID != runID || got.Unit != "2024-08-01" || got.PriceRows != 3 {
		t.Fatalf("unexpected event %+v", got)
	}
	select {
	case other := <-etf.Events:
		t.Fatalf("etf listener received a stocks event: %+v", other)
	default:
	}

	active := hub.ActiveRuns(ProgressFilter{Source: "stocks"})
	if len(active) != 1 || active[0].RunID != runID {
		t.Fatalf("run should be in flight after unit 1 of 2, got %v", active)
	}
	if len(hub.ActiveRuns(ProgressFilter{Source: "etf"})) != 0 {
		t.Fatal("etf filter matched a stocks run")
	}
}

func TestProgressHubForgetsFinishedRuns(t *testing.T) {
	hub := &ProgressHub{
		subscribers: make(map[uuid.UUID]*ProgressSubscription),
		active:      make(map[uuid.UUID]pipeline.UnitEvent),
	}
	runID := uuid.New()

	hub.dispatch(pipeline.UnitEvent{RunID: runID, Source: "kis", Index: 2, Total: 2, State: pipeline.StateWriting})
	if len(hub.ActiveRuns(ProgressFilter{RunID: runID})) != 1 {
		t.Fatal("run missing while its last unit is writing")
	}
	hub.dispatch(pipeline.UnitEvent{RunID: runID, Source: "kis", Index: 2, Total: 2, State: pipeline.StateFailed})
	if len(hub.ActiveRuns(ProgressFilter{})) != 0 {
		t.Fatal("finished run still listed as active")
	}
}

func TestProgressHubCountsDroppedEvents(t *testing.T) {
	hub := &ProgressHub{
		subscribers: make(map[uuid.UUID]*ProgressSubscription),
		active:      make(map[uuid.UUID]pipeline.UnitEvent),
	}
	sub, unsubscribe := hub.Subscribe(ProgressFilter{})

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.dispatch(pipeline.UnitEvent{RunID: uuid.New(), Source: "stocks", Index: 1, Total: 3, State: pipeline.StateFetching})
	}
	if sub.Dropped() != 5 {
		t.Fatalf("expected 5 dropped events, got %d", sub.Dropped())
	}

	unsubscribe()
	unsubscribe()
	drained := 0
	for range sub.Events {
		drained++
	}
	if drained != subscriberBuffer {
		t.Fatalf("expected %d buffered events before close, got %d", subscriberBuffer, drained)
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Subscribers())
	}
}
