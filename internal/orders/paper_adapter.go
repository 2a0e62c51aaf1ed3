package orders

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// PaperAdapterConfig mirrors the teacher's PaperConfig
// (execution_service.go:103), kept as a concrete ExchangeAdapter
// implementation that simulates fills against the last known market
// state rather than routing to a real venue.
type PaperAdapterConfig struct {
	FeeBps         float64
	MakerRebateBps float64
	SlippageBps    float64
	MaxSlippageBps float64
	SpreadCoeff    float64
	OFICoeff       float64
	Seed           int64
}

// PaperMarketState is the subset of market data the paper adapter needs
// to simulate a fill, ported from the teacher's MarketState.
type PaperMarketState struct {
	BestBid, BestAsk float64
	LastPrice        float64
	OrderFlow        float64
}

// PaperAdapter is a concrete ExchangeAdapter that fills orders
// synthetically against the last published market snapshot, ported from
// the teacher's PaperBroker.HandleOrder/computeSlippage/applySlippage
// (execution_service.go:426-737).
type PaperAdapter struct {
	cfg    PaperAdapterConfig
	random *rand.Rand

	mu     sync.Mutex
	market map[string]PaperMarketState
	connected bool
}

// NewPaperAdapter builds a paper adapter with its own RNG stream.
func NewPaperAdapter(cfg PaperAdapterConfig) *PaperAdapter {
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &PaperAdapter{
		cfg:    cfg,
		random: rand.New(rand.NewSource(seed)),
		market: make(map[string]PaperMarketState),
	}
}

// UpdateMarket refreshes the simulated market state for a symbol.
func (p *PaperAdapter) UpdateMarket(symbol string, state PaperMarketState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.market[symbol] = state
}

// Config returns a copy of the adapter's current slippage/fee model, for
// surfaces that need to report it (e.g. the ops API's paper config
// endpoint).
func (p *PaperAdapter) Config() PaperAdapterConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetConfig replaces the adapter's slippage/fee model at runtime. Callers
// are expected to have validated cfg first.
func (p *PaperAdapter) SetConfig(cfg PaperAdapterConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg.Seed = p.cfg.Seed
	p.cfg = cfg
}

func (p *PaperAdapter) Name() string    { return "paper" }
func (p *PaperAdapter) Version() string { return "1.0" }
func (p *PaperAdapter) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}
func (p *PaperAdapter) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}
func (p *PaperAdapter) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// PlaceOrder simulates an immediate (or crossing) fill based on the
// last known market state, mirroring the teacher's maker/taker
// classification and slippage model.
func (p *PaperAdapter) PlaceOrder(req OrderRequest) (ExecutionReport, error) {
	p.mu.Lock()
	state, ok := p.market[req.Symbol]
	p.mu.Unlock()
	if !ok {
		return ExecutionReport{}, &AdapterError{Kind: AdapterRejected, Err: fmt.Errorf("no market state for %s", req.Symbol)}
	}

	mid := (state.BestBid + state.BestAsk) / 2
	if mid <= 0 {
		mid = state.LastPrice
	}

	maker := false
	cross := p.crossesSpread(req, state, mid)
	if req.Type == TypeLimit && !cross {
		maker = true
	}

	fillPrice := req.Price
	if !maker {
		slippage := p.computeSlippage(req.Side, state)
		fillPrice = p.applySlippage(req.Side, mid, state, slippage)
	}

	status := StatusAccepted
	fillQty := 0.0
	if !maker || req.Type == TypeMarket {
		status = StatusFilled
		fillQty = req.Qty
	}

	return ExecutionReport{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  fmt.Sprintf("paper-%d", time.Now().UnixNano()),
		Status:        status,
		LastFillQty:   fillQty,
		LastFillPrice: fillPrice,
		Ns:            time.Now().UnixNano(),
	}, nil
}

// CancelOrder always succeeds in the paper adapter: there is no venue
// round trip to fail.
func (p *PaperAdapter) CancelOrder(req CancelOrderRequest) (ExecutionReport, error) {
	return ExecutionReport{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  req.VenueOrderID,
		Status:        StatusCanceled,
		Ns:            time.Now().UnixNano(),
	}, nil
}

func (p *PaperAdapter) crossesSpread(req OrderRequest, state PaperMarketState, mid float64) bool {
	if req.Type == TypeMarket {
		return true
	}
	if req.Side == SideBuy {
		if state.BestAsk > 0 && req.Price >= state.BestAsk {
			return true
		}
		return req.Price >= mid
	}
	if state.BestBid > 0 && req.Price <= state.BestBid {
		return true
	}
	return req.Price <= mid
}

func (p *PaperAdapter) computeSlippage(side Side, state PaperMarketState) float64 {
	spreadBps := 0.0
	mid := (state.BestBid + state.BestAsk) / 2
	if mid > 0 {
		spreadBps = (state.BestAsk - state.BestBid) / mid * 10_000
	}
	adverse := math.Max(0, state.OrderFlow)
	if side == SideBuy {
		adverse = math.Max(0, -state.OrderFlow)
	}
	slippage := p.cfg.SlippageBps + spreadBps*p.cfg.SpreadCoeff + adverse*p.cfg.OFICoeff
	if slippage > p.cfg.MaxSlippageBps {
		return p.cfg.MaxSlippageBps
	}
	if slippage < 0 {
		return 0
	}
	return slippage
}

func (p *PaperAdapter) applySlippage(side Side, mid float64, state PaperMarketState, slippageBps float64) float64 {
	base := mid
	if side == SideBuy {
		if state.BestAsk > 0 {
			base = state.BestAsk
		}
		return base * (1 + slippageBps/10_000)
	}
	if state.BestBid > 0 {
		base = state.BestBid
	}
	return base * (1 - slippageBps/10_000)
}
