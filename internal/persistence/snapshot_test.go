package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/veloz/engine/internal/orders"
)

func TestSaveAndLoadLatestRoundtrips(t *testing.T) {
	dir := t.TempDir()
	p := NewStatePersistence(dir, 10)

	snap := Snapshot{
		TsNs:        1000,
		SequenceNum: 1,
		Balances:    map[string]float64{"USDT": 10000},
		Orders: []orders.OrderRecord{
			{Request: orders.OrderRequest{Symbol: "BTCUSDT", ClientOrderID: "c1", Qty: 1, Price: 50000}, Status: orders.StatusFilled},
		},
		Positions: []orders.Position{{Symbol: "BTCUSDT", Size: 1, AvgPrice: 50000}},
	}
	if err := p.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := p.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded.SequenceNum != 1 || loaded.Balances["USDT"] != 10000 {
		t.Fatalf("unexpected loaded snapshot: %+v", loaded)
	}
	if len(loaded.Orders) != 1 || loaded.Orders[0].Request.ClientOrderID != "c1" {
		t.Fatalf("unexpected orders: %+v", loaded.Orders)
	}
}

func TestLoadLatestPicksHighestSequence(t *testing.T) {
	dir := t.TempDir()
	p := NewStatePersistence(dir, 10)
	for _, seq := range []uint64{1, 2, 3} {
		if err := p.Save(Snapshot{SequenceNum: seq}); err != nil {
			t.Fatalf("Save(%d): %v", seq, err)
		}
	}
	loaded, err := p.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded.SequenceNum != 3 {
		t.Fatalf("sequence = %d, want 3", loaded.SequenceNum)
	}
}

func TestLoadLatestSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	p := NewStatePersistence(dir, 10)
	if err := p.Save(Snapshot{SequenceNum: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Write a newer, corrupt file directly.
	corruptPath := filepath.Join(dir, "snapshot_00000000000000000002.bin")
	if err := os.WriteFile(corruptPath, []byte("not a valid snapshot"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := p.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest should skip the corrupt file and fall back: %v", err)
	}
	if loaded.SequenceNum != 1 {
		t.Fatalf("sequence = %d, want 1 (fallback past corrupt file)", loaded.SequenceNum)
	}
}

func TestRetentionKeepsOnlyNewest(t *testing.T) {
	dir := t.TempDir()
	p := NewStatePersistence(dir, 2)
	for _, seq := range []uint64{1, 2, 3, 4} {
		if err := p.Save(Snapshot{SequenceNum: seq}); err != nil {
			t.Fatalf("Save(%d): %v", seq, err)
		}
	}
	files, err := listSnapshotFiles(dir)
	if err != nil {
		t.Fatalf("listSnapshotFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 retained files, got %d", len(files))
	}
}
