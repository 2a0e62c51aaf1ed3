package marketdata

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"go.uber.org/zap"
)

// replayBar is one OHLCV bar read from CSV or parquet, adapted from the
// teacher's flat MarketData rows into the fields buildReplayEvent needs.
type replayBar struct {
	Symbol    string
	Timestamp time.Time
	Open, High, Low, Close, Volume float64
}

// ReplayCommand is a control message accepted on the replay control
// subject (pause/resume/seek), ported from the teacher's replayCommand.
type ReplayCommand struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
}

// ReplaySourceConfig configures a parquet/CSV backed Source.
type ReplaySourceConfig struct {
	Venue          Venue
	SourcePath     string
	Speed          int // playback multiplier, 1x default
	Start, End     time.Time
	ControlSubject string
	NC             *nats.Conn // optional; nil disables the control channel
}

// ReplaySource replays recorded venue ticks through the same Source
// interface a live WsClient implements, standing in for a venue during
// integration tests or demo runs. It is not a backtester: it only
// re-emits recorded MarketEvent values at a configurable speed, grounded
// directly on the teacher's replay_service.go CSV/parquet readers and
// pause/resume/seek control loop.
type ReplaySource struct {
	cfg     ReplaySourceConfig
	onEvent EventHandler
	log     *zap.SugaredLogger

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// NewReplaySource builds a replay source reading from cfg.SourcePath.
func NewReplaySource(cfg ReplaySourceConfig, onEvent EventHandler, log *zap.SugaredLogger) *ReplaySource {
	return &ReplaySource{cfg: cfg, onEvent: onEvent, log: log, stopCh: make(chan struct{})}
}

// Run reads the full source file, filters/sorts it, then ticks through
// it at cfg.Speed, honoring pause/resume/seek commands from the control
// subject if one is configured.
func (r *ReplaySource) Run(ctx context.Context) error {
	bars, err := readReplayData(r.cfg.SourcePath)
	if err != nil {
		return err
	}

	if !r.cfg.Start.IsZero() || !r.cfg.End.IsZero() {
		var filtered []replayBar
		for _, b := range bars {
			if !r.cfg.Start.IsZero() && b.Timestamp.Before(r.cfg.Start) {
				continue
			}
			if !r.cfg.End.IsZero() && b.Timestamp.After(r.cfg.End) {
				continue
			}
			filtered = append(filtered, b)
		}
		bars = filtered
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	if len(bars) == 0 {
		return fmt.Errorf("no replay data available for %s", r.cfg.SourcePath)
	}

	speed := r.cfg.Speed
	if speed <= 0 {
		speed = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(speed))
	defer ticker.Stop()

	controlCh := make(chan ReplayCommand, 16)
	if r.cfg.NC != nil && r.cfg.ControlSubject != "" {
		sub, err := r.cfg.NC.Subscribe(r.cfg.ControlSubject, func(msg *nats.Msg) {
			var cmd ReplayCommand
			if err := json.Unmarshal(msg.Data, &cmd); err != nil {
				if r.log != nil {
					r.log.Warnw("invalid replay control message", "err", err)
				}
				return
			}
			select {
			case controlCh <- cmd:
			default:
				if r.log != nil {
					r.log.Warnw("replay control channel saturated, dropping command", "command", cmd.Command)
				}
			}
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	paused := false
	index := 0
	for index < len(bars) {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopCh:
			return nil
		case cmd := <-controlCh:
			switch strings.ToLower(cmd.Command) {
			case "pause":
				paused = true
			case "resume":
				paused = false
			case "seek":
				if ts, err := time.Parse(time.RFC3339, cmd.Timestamp); err == nil {
					if idx := seekIndex(bars, ts); idx >= 0 {
						index = idx
					}
				}
			}
		case <-ticker.C:
			if paused {
				continue
			}
			evt := buildReplayEvent(r.cfg.Venue, bars[index])
			if r.onEvent != nil {
				r.onEvent(evt)
			}
			index++
		}
	}
	return nil
}

// Stop halts the replay loop at its next tick/control check.
func (r *ReplaySource) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	close(r.stopCh)
}

func seekIndex(bars []replayBar, target time.Time) int {
	for i, b := range bars {
		if !b.Timestamp.Before(target) {
			return i
		}
	}
	if len(bars) == 0 {
		return 0
	}
	return len(bars) - 1
}

func readReplayData(source string) ([]replayBar, error) {
	source = strings.TrimSpace(source)
	switch {
	case strings.HasSuffix(strings.ToLower(source), ".csv"):
		return readReplayCSV(source)
	case strings.HasSuffix(strings.ToLower(source), ".parquet"):
		return readReplayParquet(source)
	default:
		return nil, fmt.Errorf("unsupported replay source: %s", source)
	}
}

func readReplayCSV(path string) ([]replayBar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cr := csv.NewReader(file)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv file %s has no data rows", path)
	}

	header := make(map[string]int)
	for idx, col := range records[0] {
		header[strings.ToLower(strings.TrimSpace(col))] = idx
	}
	required := []string{"timestamp", "open", "high", "low", "close"}
	for _, key := range required {
		if _, ok := header[key]; !ok {
			return nil, fmt.Errorf("csv file %s missing required column %q", path, key)
		}
	}
	symbolIdx, hasSymbol := header["symbol"]
	volumeIdx, hasVolume := header["volume"]

	var bars []replayBar
	for _, record := range records[1:] {
		ts, err := time.Parse(time.RFC3339, record[header["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", record[header["timestamp"]], err)
		}
		open, err := strconv.ParseFloat(record[header["open"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid open price: %w", err)
		}
		high, err := strconv.ParseFloat(record[header["high"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid high price: %w", err)
		}
		low, err := strconv.ParseFloat(record[header["low"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid low price: %w", err)
		}
		closeVal, err := strconv.ParseFloat(record[header["close"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid close price: %w", err)
		}
		volume := 0.0
		if hasVolume && volumeIdx < len(record) && record[volumeIdx] != "" {
			volume, _ = strconv.ParseFloat(record[volumeIdx], 64)
		}
		symbol := "BTCUSDT"
		if hasSymbol && symbolIdx < len(record) && record[symbolIdx] != "" {
			symbol = record[symbolIdx]
		}
		bars = append(bars, replayBar{Symbol: symbol, Timestamp: ts, Open: open, High: high, Low: low, Close: closeVal, Volume: volume})
	}
	return bars, nil
}

type parquetBarRow struct {
	Timestamp int64   `parquet:"name=timestamp"`
	Symbol    string  `parquet:"name=symbol"`
	Open      float64 `parquet:"name=open"`
	High      float64 `parquet:"name=high"`
	Low       float64 `parquet:"name=low"`
	Close     float64 `parquet:"name=close"`
	Volume    float64 `parquet:"name=volume"`
}

func readReplayParquet(path string) ([]replayBar, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetBarRow), 4)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	rows := make([]parquetBarRow, numRows)
	if err := pr.Read(&rows); err != nil {
		return nil, err
	}

	var bars []replayBar
	for _, row := range rows {
		var ts time.Time
		switch {
		case row.Timestamp > 1e16:
			ts = time.Unix(0, row.Timestamp).UTC()
		case row.Timestamp > 1e12:
			ts = time.Unix(0, row.Timestamp*int64(time.Millisecond)).UTC()
		default:
			ts = time.Unix(row.Timestamp, 0).UTC()
		}
		symbol := row.Symbol
		if symbol == "" {
			symbol = "BTCUSDT"
		}
		bars = append(bars, replayBar{Symbol: symbol, Timestamp: ts, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, Volume: row.Volume})
	}
	return bars, nil
}

// buildReplayEvent turns one OHLCV bar into a synthetic BookTop
// MarketEvent, spreading a simulated bid/ask around the bar's close
// price — the same spread-from-close heuristic the teacher's
// buildMarketData uses, generalized onto the MarketEvent tagged-sum
// shape instead of the teacher's flat MarketData struct.
func buildReplayEvent(venue Venue, b replayBar) MarketEvent {
	volume := math.Max(b.Volume, 1)
	spread := math.Max((b.High-b.Low)*0.2, math.Max(b.Close*0.0004, 0.5))
	bestBid := b.Close - spread/2
	bestAsk := b.Close + spread/2
	now := NowNs()
	return MarketEvent{
		Type:         EventBookTop,
		Venue:        venue,
		Market:       MarketSpot,
		Symbol:       b.Symbol,
		TsExchangeNs: b.Timestamp.UnixNano(),
		TsRecvNs:     now,
		TsPubNs:      now,
		BookTop: &BookTopData{
			BestBid: BookLevel{Price: bestBid, Qty: math.Max(volume*0.25, 1)},
			BestAsk: BookLevel{Price: bestAsk, Qty: math.Max(volume*0.25, 1)},
		},
	}
}
