package marketdata

import (
	"testing"
	"time"
)

func TestMarketMetricsRecordMessageAndCounters(t *testing.T) {
	m := NewMarketMetrics("metrics-test-venue")

	if m.MessageCount() != 0 {
		t.Fatalf("expected zero initial message count, got %d", m.MessageCount())
	}

	now := time.Now()
	m.RecordMessage(now)
	m.RecordMessage(now.Add(time.Second))

	if m.MessageCount() != 2 {
		t.Fatalf("expected message count 2, got %d", m.MessageCount())
	}
	if !m.LastMessageTime().Equal(now.Add(time.Second)) {
		t.Fatalf("expected last message time to be the most recent recorded, got %v", m.LastMessageTime())
	}

	m.IncDrop()
	m.IncGap()
	m.IncReconnect()
	m.ObserveLatency(5 * time.Millisecond)
}

func TestMarketMetricsZeroValueLastMessageTime(t *testing.T) {
	m := NewMarketMetrics("metrics-test-venue-2")
	if !m.LastMessageTime().IsZero() {
		t.Fatal("expected zero time before any message recorded")
	}
}
