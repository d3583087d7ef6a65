package archive_test

import (
	"path/filepath"
	"testing"

	"github.com/artgrid/artgrid/archive"
	"github.com/artgrid/artgrid/core"
)

func sampleSnapshot() *archive.Snapshot {
	grid := core.NewPixelGrid(0, 4)
	grid.Paint(0, 7, "alice")
	grid.Paint(1, 9, "bob")
	return &archive.Snapshot{
		Canvas: &core.Canvas{
			ID:           0,
			State:        core.StateUnfinished,
			PaintedCount: 2,
		},
		Grid:       grid,
		ExportedAt: 1_700_000_000,
	}
}

// TestExportReadRoundtrip checks the compressed blob decodes back to the
// same snapshot.
func TestExportReadRoundtrip(t *testing.T) {
	snap := sampleSnapshot()
	blob, err := archive.Export(snap)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	got, err := archive.Read(blob)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Canvas.ID != snap.Canvas.ID || got.Canvas.PaintedCount != 2 {
		t.Errorf("canvas: %+v", got.Canvas)
	}
	if got.Grid.Colors[0] != 7 || got.Grid.PainterAt(1) != "bob" {
		t.Errorf("grid: %+v", got.Grid)
	}
	if got.ExportedAt != snap.ExportedAt {
		t.Errorf("exported_at: %d", got.ExportedAt)
	}
}

// TestExportRejectsPartialSnapshot checks both halves are required.
func TestExportRejectsPartialSnapshot(t *testing.T) {
	if _, err := archive.Export(&archive.Snapshot{Canvas: &core.Canvas{}}); err == nil {
		t.Error("missing grid should fail")
	}
	if _, err := archive.Export(&archive.Snapshot{Grid: core.NewPixelGrid(0, 4)}); err == nil {
		t.Error("missing canvas should fail")
	}
}

// TestReadRejectsGarbage checks a corrupt blob fails cleanly.
func TestReadRejectsGarbage(t *testing.T) {
	if _, err := archive.Read([]byte("not zstd at all")); err == nil {
		t.Error("garbage blob should fail")
	}
}

// TestFileRoundtrip checks the on-disk helpers.
func TestFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas0.bin")
	if err := archive.WriteFile(path, sampleSnapshot()); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := archive.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Grid.PainterAt(0) != "alice" {
		t.Errorf("painter: %s", got.Grid.PainterAt(0))
	}
}
