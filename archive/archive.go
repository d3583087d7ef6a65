// Package archive serializes canvas snapshots as zstd-compressed JSON,
// the format behind the exportCanvas RPC method and offline backups.
package archive

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/artgrid/artgrid/core"
)

// Format identifies the blob encoding for clients.
const Format = "canvas-json+zstd"

// Snapshot is one canvas frozen in time: metadata, bitmap, and painter
// attribution.
type Snapshot struct {
	Canvas     *core.Canvas    `json:"canvas"`
	Grid       *core.PixelGrid `json:"grid"`
	ExportedAt int64           `json:"exported_at"` // unix seconds
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Export serializes and compresses a snapshot.
func Export(s *Snapshot) ([]byte, error) {
	if s.Canvas == nil || s.Grid == nil {
		return nil, fmt.Errorf("snapshot needs both canvas and grid")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(raw, nil), nil
}

// Read decompresses and decodes an exported snapshot.
func Read(blob []byte) (*Snapshot, error) {
	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Canvas == nil || s.Grid == nil {
		return nil, fmt.Errorf("snapshot is missing canvas or grid")
	}
	return &s, nil
}

// WriteFile exports a snapshot to path.
func WriteFile(path string, s *Snapshot) error {
	blob, err := Export(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0644)
}

// ReadFile loads a snapshot from path.
func ReadFile(path string) (*Snapshot, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(blob)
}
