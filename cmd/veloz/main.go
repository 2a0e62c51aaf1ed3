// Command veloz wires C1-C16 into the one real engine process (C17).
// Grounded on the teacher's services.go flag-selected dispatcher and
// each service's signal.Notify(SIGINT, SIGTERM)+context.WithCancel
// shutdown shape, but collapsed onto a single binary: the teacher's
// five competing main()s each owned one subsystem and talked to the
// others over NATS; here every subsystem lives in one process and
// talks over Go interfaces, with NATS kept only for the market-data
// replay control channel and optional external event publish.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veloz/engine/internal/bridge"
	"github.com/veloz/engine/internal/broadcast"
	"github.com/veloz/engine/internal/config"
	"github.com/veloz/engine/internal/eventloop"
	"github.com/veloz/engine/internal/logging"
	"github.com/veloz/engine/internal/marketdata"
	"github.com/veloz/engine/internal/opsapi"
	"github.com/veloz/engine/internal/orders"
	"github.com/veloz/engine/internal/persistence"
	"github.com/veloz/engine/internal/reporting"
	"github.com/veloz/engine/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	dev := flag.Bool("dev", false, "use development (console) logging")
	flag.Parse()

	log, err := logging.New(*dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("config load failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Infow("veloz: shutdown signal received")
		cancel()
	}()

	loop := eventloop.New(cfg.EventLoop.WorkerCount, log)
	loop.Start()
	defer loop.Stop()

	subs := marketdata.NewSubscriptionMgr()
	mdMgr := marketdata.NewMarketDataMgr(loop, subs, cfg.MarketData.DefaultSnapshotDepth, config.Millis(cfg.MarketData.ResyncWindowMs), log)

	store := orders.NewOrderStore()
	positions := orders.NewPositionTable()
	router := orders.NewOrderRouter()
	clientIDGen := orders.NewClientOrderIDGenerator("veloz")

	paperAdapter := orders.NewPaperAdapter(orders.PaperAdapterConfig{
		SlippageBps:    2,
		MaxSlippageBps: 25,
		SpreadCoeff:    0.5,
		OFICoeff:       0.1,
	})
	paperAdapter.Connect()
	router.RegisterAdapter("paper", paperAdapter)
	router.SetDefaultVenue("paper")

	mdMgr.Subscribe(func(evt marketdata.MarketEvent) {
		if evt.BookTop == nil {
			return
		}
		paperAdapter.UpdateMarket(evt.Symbol, orders.PaperMarketState{
			BestBid:   evt.BookTop.BestBid.Price,
			BestAsk:   evt.BookTop.BestAsk.Price,
			LastPrice: (evt.BookTop.BestBid.Price + evt.BookTop.BestAsk.Price) / 2,
		})
	})

	riskEngine := risk.NewRiskEngine(risk.Limits{
		AccountBalance:  1_000_000,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		MaxDeviation:    cfg.Risk.MaxPriceDeviation,
	})
	breaker := risk.NewCircuitBreaker("paper", risk.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          config.Millis(cfg.CircuitBreaker.TimeoutMs),
	})

	statePersistence := persistence.NewStatePersistence(cfg.Persistence.SnapshotDir, cfg.Persistence.MaxSnapshots)
	if snap, err := statePersistence.LoadLatest(); err == nil {
		log.Infow("veloz: resumed from snapshot", "sequence_num", snap.SequenceNum)
	}

	limiter := bridge.NewCommandLimiter(cfg.RateLimiter.Capacity, cfg.RateLimiter.RefillRate)
	engineBridge := bridge.NewInProcessBridge(bridge.InProcessDeps{
		Router:      router,
		Store:       store,
		ClientIDGen: clientIDGen,
		Positions:   positions,
	}, cfg.Bridge.MaxSubscriptions, cfg.Bridge.EventQueueCapacity, limiter, log)

	if err := engineBridge.Start(ctx); err != nil {
		log.Fatalw("veloz: bridge start failed", "error", err)
	}
	defer engineBridge.Stop()

	broadcaster := broadcast.NewEventBroadcaster(cfg.Broadcaster.HistorySize, config.Millis(cfg.Broadcaster.KeepAliveIntervalMs))
	if cfg.NATSURL != "" {
		if nc, err := nats.Connect(cfg.NATSURL); err != nil {
			log.Warnw("veloz: nats connect failed, external event publish disabled", "error", err)
		} else {
			defer nc.Close()
			broadcaster.SetExternalPublisher(nc, "veloz.events")
		}
	}
	go broadcaster.RunKeepAlive(ctx.Done())

	mdMgr.Subscribe(func(evt marketdata.MarketEvent) {
		broadcaster.Publish(broadcast.EventMarketData, evt)
	})
	if _, err := engineBridge.SubscribeToEvents(bridge.EventFilter{}, func(evt bridge.OutboundEvent) {
		broadcaster.Publish(mapOutboundKind(evt.Type), evt)
	}); err != nil {
		log.Warnw("veloz: broadcaster bridge subscription failed", "error", err)
	}

	ops := opsapi.NewServer(opsapi.ModePaper, breaker, riskEngine, paperAdapter)
	httpMux := ops.Mux()
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.HandleFunc("/events", sseHandler(broadcaster))
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: httpMux}
	go func() {
		log.Infow("veloz: http endpoint listening", "addr", cfg.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("veloz: http server error", "error", err)
		}
	}()
	defer httpServer.Shutdown(context.Background())

	go snapshotLoop(ctx, statePersistence, store, positions, log)
	go commandReader(ctx, engineBridge, riskEngine, breaker, log)

	perfReporter := reporting.NewReporter(store, positions)
	go perfReporter.Run(ctx, time.Minute, func(rep reporting.PerformanceReport) {
		broadcaster.Publish(broadcast.EventPerformance, rep)
	})

	<-ctx.Done()
	log.Infow("veloz: shutting down")
}

// mapOutboundKind translates a bridge NDJSON event type into the
// broadcaster's coarser SSE event kind (spec.md §6.2 vs §6.3).
func mapOutboundKind(t bridge.OutboundEventType) broadcast.EventKind {
	switch t {
	case bridge.EventOrderReceived, bridge.EventOrderState, bridge.EventOrderUpdate, bridge.EventFill:
		return broadcast.EventOrderUpdate
	case bridge.EventAccount:
		return broadcast.EventAccount
	case bridge.EventError:
		return broadcast.EventError
	case bridge.EventMarket, bridge.EventTrade, bridge.EventBookTop:
		return broadcast.EventMarketData
	default:
		return broadcast.EventSystem
	}
}

// sseHandler streams EventBroadcaster events per spec.md §6.3, honoring
// Last-Event-ID for replay the way a reconnecting browser EventSource
// client does.
func sseHandler(b *broadcast.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		var lastID uint64
		if v := r.Header.Get("Last-Event-ID"); v != "" {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				lastID = n
			}
		}
		subID, ch := b.Subscribe(lastID, 64)
		defer b.Unsubscribe(subID)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				frame, err := evt.Format()
				if err != nil {
					continue
				}
				if _, err := io.WriteString(w, frame); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// commandReader implements the stdin line-command protocol of spec.md
// §6.1, running the pre-trade gate (risk + circuit breaker) before
// forwarding ORDER/CANCEL commands to the bridge.
func commandReader(ctx context.Context, b *bridge.EngineBridge, re *risk.RiskEngine, cb *risk.CircuitBreaker, log interface {
	Warnw(string, ...any)
	Infow(string, ...any)
}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		cmd, err := orders.ParseLine(line)
		if err != nil {
			log.Warnw("veloz: command parse error", "line", line, "error", err)
			continue
		}
		if cmd == nil {
			continue
		}

		switch cmd.Kind {
		case orders.CmdOrder:
			if !cb.AllowRequest() {
				log.Warnw("veloz: order rejected, circuit open", "client_order_id", cmd.Order.ClientOrderID)
				continue
			}
			if err := re.Check(risk.OrderIntent{Symbol: cmd.Order.Symbol, Qty: cmd.Order.Qty, Price: cmd.Order.Price, HasPrice: cmd.Order.HasPrice}); err != nil {
				log.Warnw("veloz: order rejected by risk gate", "client_order_id", cmd.Order.ClientOrderID, "error", err)
				cb.RecordFailure()
				continue
			}
			if err := b.PlaceOrder(cmd.Order.Side, cmd.Order.Symbol, cmd.Order.Qty, cmd.Order.Price, cmd.Order.ClientOrderID); err != nil {
				log.Warnw("veloz: order placement failed", "client_order_id", cmd.Order.ClientOrderID, "error", err)
				cb.RecordFailure()
				continue
			}
			cb.RecordSuccess()
		case orders.CmdCancel:
			if err := b.CancelOrder(cmd.CancelClientOrderID); err != nil {
				log.Warnw("veloz: cancel failed", "client_order_id", cmd.CancelClientOrderID, "error", err)
			}
		}
	}
}

// snapshotLoop periodically persists OE1's order/position state,
// satisfying C13's "cadence is policy, the component only offers
// save/load primitives" per spec.md §4.10.
func snapshotLoop(ctx context.Context, p *persistence.StatePersistence, store *orders.OrderStore, positions *orders.PositionTable, log interface {
	Warnw(string, ...any)
}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			snap := persistence.Snapshot{
				TsNs:        time.Now().UnixNano(),
				SequenceNum: seq,
				Orders:      store.All(),
				Positions:   positions.All(),
			}
			if err := p.Save(snap); err != nil {
				log.Warnw("veloz: snapshot save failed", "error", err)
			}
		}
	}
}
