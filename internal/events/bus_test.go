package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEmitSyncRunsHandlersInOrder(t *testing.T) {
	bus := NewEventBus()
	var order []string
	bus.Subscribe(EventPlayerStatus, "first", func(ctx context.Context, e Event) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	bus.Subscribe(EventPlayerStatus, "second", func(ctx context.Context, e Event) error {
		order = append(order, "second")
		return nil
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventPlayerStatus})
	if err == nil || err.Error() != "boom" {
		t.Errorf("EmitSync error = %v, want boom", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("handler order = %v", order)
	}
}

func TestEmitRecoversFromPanics(t *testing.T) {
	bus := NewEventBus()
	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(EventHeartbeat, "panics", func(ctx context.Context, e Event) error {
		panic("handler bug")
	})
	bus.Subscribe(EventHeartbeat, "works", func(ctx context.Context, e Event) error {
		wg.Done()
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventHeartbeat})
	wg.Wait()
	bus.Stop()
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	bus.Subscribe(EventShutdown, "a", func(ctx context.Context, e Event) error { calls++; return nil })
	bus.Subscribe(EventShutdown, "b", func(ctx context.Context, e Event) error { calls++; return nil })
	bus.Unsubscribe(EventShutdown, "a")

	if n := bus.HandlerCount(EventShutdown); n != 1 {
		t.Fatalf("HandlerCount = %d, want 1", n)
	}
	bus.EmitSync(context.Background(), Event{Type: EventShutdown})
	bus.Stop()
	bus.EmitSync(context.Background(), Event{Type: EventShutdown})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestProgressSinkPublishesInOrder(t *testing.T) {
	bus := NewEventBus()
	var got []ProgressKind
	bus.Subscribe(EventSyncProgress, "collect", func(ctx context.Context, e Event) error {
		p := e.Payload.(SyncProgress)
		if p.Time.IsZero() {
			t.Error("progress time not stamped")
		}
		got = append(got, p.Kind)
		return nil
	})

	sink := bus.ProgressSink(context.Background(), "test")
	sink.Report(SyncProgress{Kind: ProgressConnecting})
	sink.Report(SyncProgress{Kind: ProgressConnected, Time: time.Now()})
	sink.Report(SyncProgress{Kind: ProgressDone})

	want := []ProgressKind{ProgressConnecting, ProgressConnected, ProgressDone}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestProgressKindJSON(t *testing.T) {
	b, _ := ProgressMediaSendSuccess.MarshalJSON()
	if string(b) != `"media_send_success"` {
		t.Errorf("MarshalJSON = %s", b)
	}
	if ProgressKind(99).String() != "unknown" {
		t.Errorf("unknown kind = %s", ProgressKind(99))
	}
}
