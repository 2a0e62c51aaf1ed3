package orders

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// ClientOrderIDGenerator produces ids of the form
// "{strategy}-{unix_seconds}-{process_sequence}-{4_hex_random}" (spec.md
// §4.8). The sequence counter is per-generator monotonic; the random
// tail's entropy comes from google/uuid so it is safe to share a salt
// across processes without a coordinated counter.
type ClientOrderIDGenerator struct {
	strategy string
	seq      uint64
	nowUnix  func() int64
}

// NewClientOrderIDGenerator builds a generator for one strategy name.
func NewClientOrderIDGenerator(strategy string) *ClientOrderIDGenerator {
	return &ClientOrderIDGenerator{strategy: strategy, nowUnix: func() int64 { return nowNs() / 1e9 }}
}

// Generate returns the next id for this generator.
func (g *ClientOrderIDGenerator) Generate() string {
	seq := atomic.AddUint64(&g.seq, 1)
	tail := uuid.New().String()
	tail = strings.ReplaceAll(tail, "-", "")[:4]
	return fmt.Sprintf("%s-%d-%d-%s", g.strategy, g.nowUnix(), seq, tail)
}

// ParsedClientOrderID is the decomposition returned by ParseClientOrderID.
type ParsedClientOrderID struct {
	Strategy  string
	Timestamp int64
	Tail      string
}

// ParseClientOrderID reverses Generate's format. It returns an error if
// id does not have the expected 4 dash-separated components.
func ParseClientOrderID(id string) (ParsedClientOrderID, error) {
	parts := strings.Split(id, "-")
	if len(parts) != 4 {
		return ParsedClientOrderID{}, fmt.Errorf("malformed client_order_id %q", id)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ParsedClientOrderID{}, fmt.Errorf("malformed timestamp in %q: %w", id, err)
	}
	return ParsedClientOrderID{Strategy: parts[0], Timestamp: ts, Tail: parts[3]}, nil
}
