package logging

import "testing"

func TestNewProductionAndDevelopment(t *testing.T) {
	for _, dev := range []bool{true, false} {
		log, err := New(dev)
		if err != nil {
			t.Fatalf("New(%v): %v", dev, err)
		}
		if log == nil {
			t.Fatalf("New(%v) returned a nil logger", dev)
		}
		log.Infow("test log line", "dev", dev)
	}
}

func TestNoopDoesNotPanic(t *testing.T) {
	log := Noop()
	log.Infow("discarded", "k", "v")
	log.Warnw("also discarded")
}
