package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/playfleet/stationsync/internal/config"
	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/util"
)

type doneToken struct{ done chan struct{} }

func newDoneToken() *doneToken {
	t := &doneToken{done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return nil }

type published struct {
	topic   string
	payload map[string]any
}

// fakeClient records publishes; methods not overridden panic through the
// nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	messages  []published
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var m map[string]any
	json.Unmarshal(payload.([]byte), &m)
	c.mu.Lock()
	c.messages = append(c.messages, published{topic: topic, payload: m})
	c.mu.Unlock()
	return newDoneToken()
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func newTestHandler(connected bool) (*MQTTHandler, *fakeClient, *events.EventBus) {
	bus := events.NewEventBus()
	client := &fakeClient{connected: connected}
	cfg := config.MQTTConfig{Enabled: true, TopicPrefix: "fleet"}
	h := newHandler(cfg, bus, client, util.SystemInfo{Hostname: "host-1"})
	h.subscribeEvents()
	return h, client, bus
}

func TestForwardsBusEvents(t *testing.T) {
	_, client, bus := newTestHandler(true)
	ctx := context.Background()

	bus.EmitSync(ctx, events.Event{Type: events.EventSyncProgress, Payload: events.SyncProgress{StationID: "s1", Kind: events.ProgressConnecting}})
	bus.EmitSync(ctx, events.Event{Type: events.EventPlayerBlocked, Payload: events.PlayerBlockPayload{Address: "10.0.0.1", Blocked: true}})
	bus.EmitSync(ctx, events.Event{Type: events.EventPlayerUnblocked, Payload: events.PlayerBlockPayload{Address: "10.0.0.1"}})
	bus.EmitSync(ctx, events.Event{Type: events.EventHeartbeat, Payload: events.HeartbeatPayload{Players: 2}})

	msgs := client.sent()
	wantTopics := []string{"fleet/sync/progress", "fleet/player/block", "fleet/player/block", "fleet/heartbeat"}
	if len(msgs) != len(wantTopics) {
		t.Fatalf("published %d messages, want %d", len(msgs), len(wantTopics))
	}
	for i, want := range wantTopics {
		if msgs[i].topic != want {
			t.Errorf("message %d topic = %q, want %q", i, msgs[i].topic, want)
		}
	}

	first := msgs[0].payload
	if first["hostname"] != "host-1" || first["event"] != string(events.EventSyncProgress) {
		t.Errorf("metadata = %v", first)
	}
	if p := first["payload"].(map[string]any); p["kind"] != "connecting" || p["station_id"] != "s1" {
		t.Errorf("payload = %v", p)
	}
	if msgs[2].payload["event"] != string(events.EventPlayerUnblocked) {
		t.Errorf("unblock event = %v", msgs[2].payload["event"])
	}
}

func TestDropsWhileDisconnected(t *testing.T) {
	h, client, bus := newTestHandler(false)
	bus.EmitSync(context.Background(), events.Event{Type: events.EventHeartbeat})
	h.PublishShutdown()
	if n := len(client.sent()); n != 0 {
		t.Errorf("published %d messages while disconnected", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	h, client, bus := newTestHandler(true)
	h.unsubscribeEvents()
	bus.EmitSync(context.Background(), events.Event{Type: events.EventHeartbeat})
	if n := len(client.sent()); n != 0 {
		t.Errorf("published %d messages after unsubscribe", n)
	}
	if bus.HandlerCount(events.EventSyncProgress) != 0 {
		t.Error("handlers left on the bus")
	}
}

func TestTopic(t *testing.T) {
	h := newHandler(config.MQTTConfig{}, events.NewEventBus(), &fakeClient{}, util.SystemInfo{})
	if got := h.Topic(TopicAdmin); got != "admin" {
		t.Errorf("Topic without prefix = %q", got)
	}
}

func TestDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus()); err != ErrDisabled {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}
