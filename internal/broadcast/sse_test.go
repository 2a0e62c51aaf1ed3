package broadcast

import (
	"strings"
	"testing"
	"time"
)

func TestEventFormatShape(t *testing.T) {
	evt := Event{ID: 5, Kind: EventMarketData, Data: map[string]any{"symbol": "BTCUSDT"}}
	out, err := evt.Format()
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(out, "id: 5\n") || !strings.Contains(out, "event: market-data\n") || !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("unexpected SSE frame: %q", out)
	}
}

func TestEventBroadcasterReplaysFromLastID(t *testing.T) {
	b := NewEventBroadcaster(10, 0)
	b.Publish(EventSystem, "one")
	b.Publish(EventSystem, "two")
	id3 := b.Publish(EventSystem, "three")

	_, ch := b.Subscribe(1, 8)
	var got []Event
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			got = append(got, evt)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for replayed events")
		}
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != id3.ID {
		t.Fatalf("unexpected replay set: %+v", got)
	}
}

func TestEventBroadcasterLiveDelivery(t *testing.T) {
	b := NewEventBroadcaster(10, 0)
	_, ch := b.Subscribe(0, 8)
	b.Publish(EventAccount, "live")

	select {
	case evt := <-ch:
		if evt.Kind != EventAccount {
			t.Fatalf("unexpected event kind: %v", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestEventBroadcasterPublishWithoutExternalPublisherIsNoop(t *testing.T) {
	b := NewEventBroadcaster(10, 0)
	// No SetExternalPublisher call: publishExternal must be a silent
	// no-op rather than panicking on a nil connection.
	b.Publish(EventSystem, "no external sink configured")
	b.SetExternalPublisher(nil, "veloz.events")
	b.Publish(EventSystem, "still a no-op with a nil connection")
}

func TestEventBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewEventBroadcaster(10, 0)
	id, ch := b.Subscribe(0, 8)
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}
