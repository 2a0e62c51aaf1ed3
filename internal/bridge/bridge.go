package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veloz/engine/internal/broadcast"
	"github.com/veloz/engine/internal/orders"
)

// Mode selects EngineBridge's operating mode. Per the resolution of
// spec.md §9's open question recorded in DESIGN.md, the two modes are mutually
// exclusive: a bridge is constructed in exactly one mode and never
// switches.
type Mode int

const (
	ModeInProcess Mode = iota
	ModeSubprocess
)

// ErrMaxSubscriptions is returned by SubscribeToEvents when the bound
// configured at construction is already reached.
var ErrMaxSubscriptions = fmt.Errorf("max subscriptions reached")

// ErrNotRunning is returned by operations that require Start to have
// been called.
var ErrNotRunning = fmt.Errorf("bridge not started")

// EventFilter restricts a subscription to a set of event types. A nil
// or empty Types matches every event.
type EventFilter struct {
	Types []OutboundEventType
}

func (f EventFilter) matches(evt OutboundEvent) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == evt.Type {
			return true
		}
	}
	return false
}

type subscription struct {
	id       string
	filter   EventFilter
	callback func(OutboundEvent)
}

// EngineBridge owns the control and event channel between the engine
// core and an external consumer, per spec.md §4.11. Generalized from
// the teacher's ops_api.go APIServer, which exposed the same
// "read mutex-guarded state / mutate mutex-guarded state" shape over
// plain HTTP handlers instead of this package's typed method surface.
type EngineBridge struct {
	mode Mode
	log  *zap.SugaredLogger

	cache     *CachedReadModel
	queue     *broadcast.LockFreeQueue
	limiter   *rate.Limiter
	positions *orders.PositionTable

	mu               sync.Mutex
	subs             map[string]*subscription
	maxSubscriptions int
	running          bool
	stopCh           chan struct{}
	wg               sync.WaitGroup

	// in-process mode collaborators.
	router      *orders.OrderRouter
	store       *orders.OrderStore
	clientIDGen *orders.ClientOrderIDGenerator

	// subprocess mode collaborators.
	binaryPath string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
}

// InProcessDeps bundles the collaborators an in-process bridge calls
// directly.
type InProcessDeps struct {
	Router      *orders.OrderRouter
	Store       *orders.OrderStore
	ClientIDGen *orders.ClientOrderIDGenerator
	Positions   *orders.PositionTable
}

// NewInProcessBridge builds a bridge that calls directly into the given
// router/store, per spec.md §4.11's in-process mode.
func NewInProcessBridge(deps InProcessDeps, maxSubscriptions, queueCapacity int, limiter *rate.Limiter, log *zap.SugaredLogger) *EngineBridge {
	return &EngineBridge{
		mode:             ModeInProcess,
		log:              log,
		cache:            NewCachedReadModel(),
		queue:            broadcast.NewLockFreeQueue(queueCapacity),
		limiter:          limiter,
		positions:        deps.Positions,
		subs:             make(map[string]*subscription),
		maxSubscriptions: maxSubscriptions,
		router:           deps.Router,
		store:            deps.Store,
		clientIDGen:      deps.ClientIDGen,
	}
}

// NewSubprocessBridge builds a bridge that spawns binaryPath and speaks
// the line-protocol/NDJSON contract over its stdio, per spec.md §4.11's
// subprocess mode.
func NewSubprocessBridge(binaryPath string, maxSubscriptions, queueCapacity int, limiter *rate.Limiter, log *zap.SugaredLogger) *EngineBridge {
	return &EngineBridge{
		mode:             ModeSubprocess,
		log:              log,
		cache:            NewCachedReadModel(),
		queue:            broadcast.NewLockFreeQueue(queueCapacity),
		limiter:          limiter,
		subs:             make(map[string]*subscription),
		maxSubscriptions: maxSubscriptions,
		binaryPath:       binaryPath,
	}
}

// Initialize is a no-op hook kept for parity with spec.md §4.11's
// public surface (`initialize(io_ctx)`); construction already performs
// all fallible setup that doesn't require a running event loop.
func (b *EngineBridge) Initialize(ctx context.Context) error { return nil }

// Start launches the dispatch loop (and, in subprocess mode, the child
// process and its stdout reader).
func (b *EngineBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	if b.mode == ModeSubprocess {
		if err := b.startSubprocess(ctx); err != nil {
			return err
		}
	}

	b.wg.Add(1)
	go b.dispatchLoop()

	b.emit(OutboundEvent{Type: EventEngineStarted, TsNs: time.Now().UnixNano()})
	return nil
}

// Stop is idempotent, per spec.md §4.11.
func (b *EngineBridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.emit(OutboundEvent{Type: EventEngineShutdown, TsNs: time.Now().UnixNano()})
	b.queue.Close()
	b.wg.Wait()

	if b.mode == ModeSubprocess && b.cmd != nil && b.cmd.Process != nil {
		b.cmd.Process.Kill()
		b.cmd.Wait()
	}
	return nil
}

func (b *EngineBridge) dispatchLoop() {
	defer b.wg.Done()
	for {
		item, ok := b.queue.Pop()
		if !ok {
			return
		}
		evt, ok := item.(OutboundEvent)
		if !ok {
			continue
		}
		b.cache.Apply(evt)

		b.mu.Lock()
		subs := make([]*subscription, 0, len(b.subs))
		for _, s := range b.subs {
			subs = append(subs, s)
		}
		b.mu.Unlock()

		for _, s := range subs {
			if s.filter.matches(evt) {
				s.callback(evt)
			}
		}
	}
}

// emit pushes evt through the bounded MPMC queue that decouples decode
// from dispatch (spec.md §4.11's C16 reference). Overflow silently
// drops the oldest queued event; the queue itself tracks the count.
func (b *EngineBridge) emit(evt OutboundEvent) {
	b.queue.Push(evt)
}

func (b *EngineBridge) checkRateLimit() error {
	if b.limiter == nil {
		return nil
	}
	if !b.limiter.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

// PlaceOrder submits an order through the router (in-process) or writes
// a line command to the child's stdin (subprocess), per spec.md §4.11.
func (b *EngineBridge) PlaceOrder(side orders.Side, symbol string, qty, price float64, clientOrderID string) error {
	if err := b.checkRateLimit(); err != nil {
		return err
	}
	if clientOrderID == "" && b.clientIDGen != nil {
		clientOrderID = b.clientIDGen.Generate()
	}

	req := orders.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          orders.TypeLimit,
		Qty:           qty,
		Price:         price,
		HasPrice:      true,
		TIF:           orders.TIFGTC,
		ClientOrderID: clientOrderID,
	}

	switch b.mode {
	case ModeInProcess:
		return b.placeOrderInProcess(req)
	case ModeSubprocess:
		sideWord := "buy"
		if side == orders.SideSell {
			sideWord = "sell"
		}
		line := fmt.Sprintf("%s %s %g %g %s\n", sideWord, symbol, qty, price, clientOrderID)
		return b.writeLine(line)
	default:
		return fmt.Errorf("unknown bridge mode")
	}
}

func (b *EngineBridge) placeOrderInProcess(req orders.OrderRequest) error {
	if _, err := b.store.Create(req); err != nil {
		return err
	}
	b.emit(OutboundEvent{Type: EventOrderReceived, TsNs: time.Now().UnixNano(), ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Side: string(req.Side), Qty: req.Qty, Price: req.Price, Status: string(orders.StatusNew)})

	report, err := b.router.PlaceOrder(req)
	if err != nil {
		if _, aerr := b.store.Apply(orders.ExecutionReport{ClientOrderID: req.ClientOrderID, Status: orders.StatusRejected, Reason: err.Error(), Ns: time.Now().UnixNano()}); aerr == nil {
			b.emit(OutboundEvent{Type: EventOrderUpdate, TsNs: time.Now().UnixNano(), ClientOrderID: req.ClientOrderID, Status: string(orders.StatusRejected), Reason: err.Error()})
		}
		return err
	}

	if report.Status != orders.StatusAccepted && report.Status != orders.StatusRejected {
		// The store only lets a New order move to Accepted or Rejected, so a
		// venue that fills or cancels straight away is first recorded as
		// having accepted the order.
		if _, err := b.store.Apply(orders.ExecutionReport{ClientOrderID: req.ClientOrderID, VenueOrderID: report.VenueOrderID, Status: orders.StatusAccepted, Ns: report.Ns}); err != nil {
			return err
		}
	}
	rec, err := b.store.Apply(report)
	if err != nil {
		return err
	}
	b.emit(OutboundEvent{
		Type: EventOrderUpdate, TsNs: time.Now().UnixNano(),
		ClientOrderID: rec.Request.ClientOrderID, Status: string(rec.Status), Symbol: rec.Request.Symbol,
		Side: string(rec.Request.Side), Qty: rec.Request.Qty, Price: rec.Request.Price,
		ExecutedQty: rec.CumQty, AvgPrice: rec.AvgPrice, VenueOrderID: rec.VenueOrderID, Reason: rec.Reason,
	})
	if report.LastFillQty > 0 {
		b.emit(OutboundEvent{Type: EventFill, TsNs: time.Now().UnixNano(), ClientOrderID: rec.Request.ClientOrderID, Symbol: rec.Request.Symbol, Qty: report.LastFillQty, Price: report.LastFillPrice})
		if b.positions != nil {
			b.positions.ApplyFill(rec.Request.Symbol, rec.Request.Side, report.LastFillQty, report.LastFillPrice)
		}
	}
	return nil
}

// CancelOrder cancels an order by client_order_id.
func (b *EngineBridge) CancelOrder(clientOrderID string) error {
	if err := b.checkRateLimit(); err != nil {
		return err
	}
	switch b.mode {
	case ModeInProcess:
		rec, alreadyTerminal, err := b.store.Cancel(clientOrderID)
		if err != nil {
			return err
		}
		if alreadyTerminal {
			b.emit(OutboundEvent{Type: EventOrderUpdate, TsNs: time.Now().UnixNano(), ClientOrderID: clientOrderID, Status: string(rec.Status), Reason: "already terminal"})
			return nil
		}
		b.emit(OutboundEvent{Type: EventOrderUpdate, TsNs: time.Now().UnixNano(), ClientOrderID: clientOrderID, Status: string(rec.Status)})
		return nil
	case ModeSubprocess:
		return b.writeLine(fmt.Sprintf("cancel %s\n", clientOrderID))
	default:
		return fmt.Errorf("unknown bridge mode")
	}
}

func (b *EngineBridge) writeLine(line string) error {
	b.mu.Lock()
	stdin := b.stdin
	b.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("subprocess not started")
	}
	_, err := io.WriteString(stdin, line)
	return err
}

// GetOrder, GetOrders, GetPendingOrders, GetMarketSnapshot, and
// GetAccountState read from CachedReadModel in both modes, per spec.md
// §4.11 ("updates CachedReadModel from a subscription to the engine's
// outbound event stream" — true of in-process mode too, since it emits
// through the same pipeline).
func (b *EngineBridge) GetOrder(clientOrderID string) (CachedOrder, bool) {
	return b.cache.Order(clientOrderID)
}

func (b *EngineBridge) GetOrders() []CachedOrder { return b.cache.Orders() }

func (b *EngineBridge) GetPendingOrders() []CachedOrder { return b.cache.PendingOrders() }

func (b *EngineBridge) GetMarketSnapshot(symbol string) (float64, bool) {
	return b.cache.LastPrice(symbol)
}

func (b *EngineBridge) GetAccountState() []AccountBalance { return b.cache.Balances() }

// GetPositions returns live positions when an in-process PositionTable
// was wired in; subprocess mode has no position event in the §6.2
// protocol, so it always returns an empty slice.
func (b *EngineBridge) GetPositions() []orders.Position {
	if b.positions == nil {
		return nil
	}
	return b.positions.All()
}

// SubscribeToEvents registers callback for events matching filter,
// returning a subscription id (spec.md §4.11's sub_id, a uuid per
// SPEC_FULL.md). Returns ErrMaxSubscriptions once the configured bound is
// reached.
func (b *EngineBridge) SubscribeToEvents(filter EventFilter, callback func(OutboundEvent)) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) >= b.maxSubscriptions {
		return "", ErrMaxSubscriptions
	}
	id := uuid.NewString()
	b.subs[id] = &subscription{id: id, filter: filter, callback: callback}
	return id, nil
}

// Unsubscribe removes a subscription; unknown ids are a silent no-op.
func (b *EngineBridge) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, subID)
}

func (b *EngineBridge) startSubprocess(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	b.mu.Lock()
	b.cmd = cmd
	b.stdin = stdin
	b.mu.Unlock()

	b.wg.Add(1)
	go b.readSubprocessStdout(stdout)
	return nil
}

func (b *EngineBridge) readSubprocessStdout(r io.Reader) {
	defer b.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] != '{' {
			continue // banners/logs are skipped, per spec.md §6.2
		}
		var evt OutboundEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			if b.log != nil {
				b.log.Warnw("bridge: failed to decode subprocess event", "line", line, "error", err)
			}
			continue
		}
		b.emit(evt)
	}
}
