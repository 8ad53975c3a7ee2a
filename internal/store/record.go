package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/infinitejournal/engine/internal/canvas"
	"github.com/infinitejournal/engine/internal/geom"
)

// Record layout (uncompressed, big-endian, fixed offsets):
//
//	magic    4 bytes  "CKV1"
//	format   1 byte
//	key      3 × int32
//	version  uint64
//	runs     uint32
//	metas    uint32
//	per run:  stroke uuid (16) + point count (uint32) + points (3 × float64 each)
//	per meta: stroke uuid (16) + tool (1) + rgba (4) + width (float64)
//
// The whole record is zstd-framed on disk.

var recordMagic = [4]byte{'C', 'K', 'V', '1'}

const (
	formatVersion = 1
	headerSize    = 4 + 1 + 12 + 8 + 4 + 4
	pointSize     = 24
	metaSize      = 16 + 1 + 4 + 8
)

// encodeRecord serializes a chunk snapshot.
func encodeRecord(snap *canvas.ChunkSnapshot) []byte {
	size := headerSize
	for _, run := range snap.Runs {
		size += 16 + 4 + len(run.Points)*pointSize
	}
	size += len(snap.Metas) * metaSize

	buf := make([]byte, size)
	copy(buf[0:4], recordMagic[:])
	buf[4] = formatVersion
	binary.BigEndian.PutUint32(buf[5:9], uint32(snap.Key.X))
	binary.BigEndian.PutUint32(buf[9:13], uint32(snap.Key.Y))
	binary.BigEndian.PutUint32(buf[13:17], uint32(snap.Key.Z))
	binary.BigEndian.PutUint64(buf[17:25], snap.Version)
	binary.BigEndian.PutUint32(buf[25:29], uint32(len(snap.Runs)))
	binary.BigEndian.PutUint32(buf[29:33], uint32(len(snap.Metas)))

	off := headerSize
	for _, run := range snap.Runs {
		copy(buf[off:off+16], run.Stroke[:])
		binary.BigEndian.PutUint32(buf[off+16:off+20], uint32(len(run.Points)))
		off += 20
		for _, p := range run.Points {
			binary.BigEndian.PutUint64(buf[off:off+8], math.Float64bits(p.X))
			binary.BigEndian.PutUint64(buf[off+8:off+16], math.Float64bits(p.Y))
			binary.BigEndian.PutUint64(buf[off+16:off+24], math.Float64bits(p.Z))
			off += pointSize
		}
	}
	for _, m := range snap.Metas {
		copy(buf[off:off+16], m.ID[:])
		buf[off+16] = byte(m.Tool)
		buf[off+17] = m.Color.R
		buf[off+18] = m.Color.G
		buf[off+19] = m.Color.B
		buf[off+20] = m.Color.A
		binary.BigEndian.PutUint64(buf[off+21:off+29], math.Float64bits(m.Width))
		off += metaSize
	}
	return buf
}

// decodeRecord parses a serialized chunk snapshot, validating lengths at
// every step.
func decodeRecord(data []byte) (*canvas.ChunkSnapshot, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("record too short: %d bytes", len(data))
	}
	if [4]byte(data[0:4]) != recordMagic {
		return nil, fmt.Errorf("bad record magic %q", data[0:4])
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("unsupported record format %d", data[4])
	}

	snap := &canvas.ChunkSnapshot{
		Key: canvas.ChunkKey{
			X: int32(binary.BigEndian.Uint32(data[5:9])),
			Y: int32(binary.BigEndian.Uint32(data[9:13])),
			Z: int32(binary.BigEndian.Uint32(data[13:17])),
		},
		Version: binary.BigEndian.Uint64(data[17:25]),
	}
	runCount := binary.BigEndian.Uint32(data[25:29])
	metaCount := binary.BigEndian.Uint32(data[29:33])

	off := headerSize
	snap.Runs = make([]canvas.PointRun, 0, runCount)
	for i := uint32(0); i < runCount; i++ {
		if len(data) < off+20 {
			return nil, fmt.Errorf("truncated run header at %d", off)
		}
		var id uuid.UUID
		copy(id[:], data[off:off+16])
		n := int(binary.BigEndian.Uint32(data[off+16 : off+20]))
		off += 20
		if len(data) < off+n*pointSize {
			return nil, fmt.Errorf("truncated run points at %d: need %d points", off, n)
		}
		pts := make([]geom.Vec3, n)
		for j := 0; j < n; j++ {
			pts[j] = geom.Vec3{
				X: math.Float64frombits(binary.BigEndian.Uint64(data[off : off+8])),
				Y: math.Float64frombits(binary.BigEndian.Uint64(data[off+8 : off+16])),
				Z: math.Float64frombits(binary.BigEndian.Uint64(data[off+16 : off+24])),
			}
			off += pointSize
		}
		snap.Runs = append(snap.Runs, canvas.PointRun{Stroke: id, Points: pts})
	}

	snap.Metas = make([]canvas.StrokeMeta, 0, metaCount)
	for i := uint32(0); i < metaCount; i++ {
		if len(data) < off+metaSize {
			return nil, fmt.Errorf("truncated meta at %d", off)
		}
		var id uuid.UUID
		copy(id[:], data[off:off+16])
		snap.Metas = append(snap.Metas, canvas.StrokeMeta{
			ID:   id,
			Tool: canvas.Tool(data[off+16]),
			Color: canvas.RGBA{
				R: data[off+17],
				G: data[off+18],
				B: data[off+19],
				A: data[off+20],
			},
			Width: math.Float64frombits(binary.BigEndian.Uint64(data[off+21 : off+29])),
		})
		off += metaSize
	}
	return snap, nil
}
