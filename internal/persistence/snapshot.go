// Package persistence implements atomic periodic snapshotting of
// OE1's order store and position table (spec.md §4.10), a component the
// teacher repo has no analog for: autovant-trading-bot holds all state
// in memory and republishes it to NATS instead of persisting it to
// disk.
package persistence

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/veloz/engine/internal/orders"
)

const snapshotVersion uint32 = 1

// FailureKind classifies a persistence error (spec.md §4.10).
type FailureKind string

const (
	FailureSnapshotWrite  FailureKind = "SnapshotWriteFailed"
	FailureSnapshotCorrupt FailureKind = "SnapshotCorrupt"
	FailureDirUnavailable FailureKind = "DirUnavailable"
)

// PersistenceError wraps a FailureKind with the underlying cause.
type PersistenceError struct {
	Kind FailureKind
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }

// Snapshot is the versioned persisted record (spec.md §4.3/§6.4).
type Snapshot struct {
	Version     uint32
	TsNs        int64
	SequenceNum uint64

	Balances   map[string]float64
	Orders     []orders.OrderRecord
	Positions  []orders.Position
	Strategies []string
}

// StatePersistence writes and loads Snapshot files under SnapshotDir
// using the write-to-temp-then-rename pattern so a reader never
// observes a partially written file (spec.md §4.10).
type StatePersistence struct {
	dir          string
	maxSnapshots int
}

// NewStatePersistence builds a persistence handle rooted at dir,
// retaining at most maxSnapshots files after each successful write.
func NewStatePersistence(dir string, maxSnapshots int) *StatePersistence {
	return &StatePersistence{dir: dir, maxSnapshots: maxSnapshots}
}

func snapshotPath(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot_%020d.bin", seq))
}

// Save writes snap atomically and applies retention.
func (p *StatePersistence) Save(snap Snapshot) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return &PersistenceError{Kind: FailureDirUnavailable, Path: p.dir, Err: err}
	}

	payload, err := json.Marshal(struct {
		Balances   map[string]float64   `json:"balances"`
		Orders     []orders.OrderRecord `json:"orders"`
		Positions  []orders.Position    `json:"positions"`
		Strategies []string              `json:"strategies"`
	}{snap.Balances, snap.Orders, snap.Positions, snap.Strategies})
	if err != nil {
		return &PersistenceError{Kind: FailureSnapshotWrite, Path: p.dir, Err: err}
	}

	header := make([]byte, 4+8+8)
	binary.BigEndian.PutUint32(header[0:4], snapshotVersion)
	binary.BigEndian.PutUint64(header[4:12], uint64(snap.TsNs))
	binary.BigEndian.PutUint64(header[12:20], snap.SequenceNum)

	finalPath := snapshotPath(p.dir, snap.SequenceNum)
	tmp, err := os.CreateTemp(p.dir, "snapshot-*.tmp")
	if err != nil {
		return &PersistenceError{Kind: FailureSnapshotWrite, Path: p.dir, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceError{Kind: FailureSnapshotWrite, Path: tmpPath, Err: err}
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceError{Kind: FailureSnapshotWrite, Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &PersistenceError{Kind: FailureSnapshotWrite, Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Kind: FailureSnapshotWrite, Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return &PersistenceError{Kind: FailureSnapshotWrite, Path: finalPath, Err: err}
	}

	p.applyRetention()
	return nil
}

// applyRetention deletes all but the newest maxSnapshots files. Errors
// deleting old files are swallowed: a stale extra snapshot is harmless,
// unlike a failed write or corrupt load.
func (p *StatePersistence) applyRetention() {
	if p.maxSnapshots <= 0 {
		return
	}
	entries, err := listSnapshotFiles(p.dir)
	if err != nil || len(entries) <= p.maxSnapshots {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	drop := len(entries) - p.maxSnapshots
	for _, e := range entries[:drop] {
		os.Remove(filepath.Join(p.dir, e.name))
	}
}

type snapshotFile struct {
	name string
	seq  uint64
}

func listSnapshotFiles(dir string) ([]snapshotFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []snapshotFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSnapshotName(e.Name())
		if !ok {
			continue
		}
		out = append(out, snapshotFile{name: e.Name(), seq: seq})
	}
	return out, nil
}

func parseSnapshotName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".bin") {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".bin")
	seq, err := strconv.ParseUint(mid, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// LoadLatest selects the file with the highest valid sequence_num,
// skipping corrupt files rather than failing, per spec.md §4.10.
func (p *StatePersistence) LoadLatest() (Snapshot, error) {
	entries, err := listSnapshotFiles(p.dir)
	if err != nil {
		return Snapshot{}, &PersistenceError{Kind: FailureDirUnavailable, Path: p.dir, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	var lastErr error
	for _, e := range entries {
		snap, err := p.loadOne(filepath.Join(p.dir, e.name))
		if err != nil {
			lastErr = err
			continue
		}
		return snap, nil
	}
	if lastErr != nil {
		return Snapshot{}, lastErr
	}
	return Snapshot{}, &PersistenceError{Kind: FailureSnapshotCorrupt, Path: p.dir, Err: fmt.Errorf("no snapshot files found")}
}

func (p *StatePersistence) loadOne(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, &PersistenceError{Kind: FailureSnapshotCorrupt, Path: path, Err: err}
	}
	if len(data) < 20 {
		return Snapshot{}, &PersistenceError{Kind: FailureSnapshotCorrupt, Path: path, Err: fmt.Errorf("truncated header")}
	}
	version := binary.BigEndian.Uint32(data[0:4])
	if version != snapshotVersion {
		return Snapshot{}, &PersistenceError{Kind: FailureSnapshotCorrupt, Path: path, Err: fmt.Errorf("unknown version %d", version)}
	}
	tsNs := int64(binary.BigEndian.Uint64(data[4:12]))
	seq := binary.BigEndian.Uint64(data[12:20])

	var body struct {
		Balances   map[string]float64   `json:"balances"`
		Orders     []orders.OrderRecord `json:"orders"`
		Positions  []orders.Position    `json:"positions"`
		Strategies []string              `json:"strategies"`
	}
	if err := json.Unmarshal(data[20:], &body); err != nil {
		return Snapshot{}, &PersistenceError{Kind: FailureSnapshotCorrupt, Path: path, Err: err}
	}

	return Snapshot{
		Version:     version,
		TsNs:        tsNs,
		SequenceNum: seq,
		Balances:    body.Balances,
		Orders:      body.Orders,
		Positions:   body.Positions,
		Strategies:  body.Strategies,
	}, nil
}
