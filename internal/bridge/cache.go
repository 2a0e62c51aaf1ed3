package bridge

import "sync"

// CachedOrder is CachedReadModel's per-order entry, upserted from
// order_received/order_state/order_update events.
type CachedOrder struct {
	ClientOrderID string
	VenueOrderID  string
	Status        string
	Symbol        string
	Side          string
	Qty           float64
	Price         float64
	ExecutedQty   float64
	AvgPrice      float64
	Reason        string
}

// CachedReadModel is EngineBridge's locally-maintained mirror of engine
// state, rebuilt solely by replaying OutboundEvents through
// Apply (spec.md §4.11, and the determinism invariant of
// §8: "replaying the full outbound event stream from empty produces the
// same CachedReadModel as the live run").
type CachedReadModel struct {
	mu        sync.RWMutex
	running   bool
	orders    map[string]CachedOrder
	lastPrice map[string]float64
	balances  []AccountBalance
}

// NewCachedReadModel returns an empty, stopped cache.
func NewCachedReadModel() *CachedReadModel {
	return &CachedReadModel{
		orders:    make(map[string]CachedOrder),
		lastPrice: make(map[string]float64),
	}
}

// Apply is the single state-update entrypoint every OutboundEvent flows
// through, per the §6.2 cache-effect table.
func (c *CachedReadModel) Apply(evt OutboundEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case EventEngineStarted:
		c.running = true
	case EventEngineShutdown:
		c.running = false
	case EventOrderReceived, EventOrderState, EventOrderUpdate:
		c.orders[evt.ClientOrderID] = CachedOrder{
			ClientOrderID: evt.ClientOrderID,
			VenueOrderID:  evt.VenueOrderID,
			Status:        evt.Status,
			Symbol:        evt.Symbol,
			Side:          evt.Side,
			Qty:           evt.Qty,
			Price:         evt.Price,
			ExecutedQty:   evt.ExecutedQty,
			AvgPrice:      evt.AvgPrice,
			Reason:        evt.Reason,
		}
	case EventMarket, EventTrade, EventBookTop:
		if evt.Symbol != "" {
			c.lastPrice[evt.Symbol] = evt.Price
		}
	case EventAccount:
		c.balances = append([]AccountBalance(nil), evt.Balances...)
	case EventFill, EventError:
		// fill is expected to be followed by an order_update; error has
		// no cache effect, per spec.md §6.2.
	}
}

// IsRunning reports whether the cache last saw engine_started without a
// subsequent engine_shutdown.
func (c *CachedReadModel) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Order returns the cached order, or false if unknown.
func (c *CachedReadModel) Order(clientOrderID string) (CachedOrder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[clientOrderID]
	return o, ok
}

// Orders returns every cached order.
func (c *CachedReadModel) Orders() []CachedOrder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CachedOrder, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o)
	}
	return out
}

// PendingOrders returns cached orders whose status is not terminal.
func (c *CachedReadModel) PendingOrders() []CachedOrder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CachedOrder, 0)
	for _, o := range c.orders {
		switch o.Status {
		case "Filled", "Canceled", "Rejected", "Expired":
		default:
			out = append(out, o)
		}
	}
	return out
}

// LastPrice returns the last known price for symbol.
func (c *CachedReadModel) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.lastPrice[symbol]
	return p, ok
}

// Balances returns the last replaced account balances snapshot.
func (c *CachedReadModel) Balances() []AccountBalance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]AccountBalance(nil), c.balances...)
}
