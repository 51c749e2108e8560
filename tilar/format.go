// Package tilar implements the packed, append-structured tile archive
// format (spec §3.5/§6.3): a single file storing up to F*4^k payloads
// addressed by (col, row, type), with a chained index enabling
// crash-safe, snapshot-consistent reads.
package tilar

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/DavidLevinsky/vts-libs-sub000/vtserror"
)

// magic is the fixed 5-byte archive signature.
const magic = "TILAR"

// HeaderLen is the fixed on-disk size of Header.
const HeaderLen = 5 + 1 + 1 + 1 + 16 // magic + version + binaryOrder + filesPerTile + uuid

// trailerMagic is a distinct 4-byte constant (not the file magic) that
// marks a valid trailer, so a half-written trailer never parses as one.
const trailerMagic uint32 = 0x54494c54 // "TILT"

// TrailerLen is the fixed on-disk size of the trailer.
const TrailerLen = 4 + 4 + 4 + 4 // currentIndexOffset + indexChecksum + magic + timestamp

const currentVersion uint8 = 1

// Header is the archive's fixed leading block.
type Header struct {
	Version      uint8
	BinaryOrder  uint8 // k: side = 2^k tiles in each of col/row
	FilesPerTile uint8 // F: distinct file types per tile position
	UUID         [16]byte
}

// Side returns 2^BinaryOrder, the archive's (col,row) grid side.
func (h Header) Side() uint32 {
	return uint32(1) << h.BinaryOrder
}

// SlotCount returns the total number of addressable (col,row,type) slots.
func (h Header) SlotCount() uint32 {
	side := h.Side()
	return side * side * uint32(h.FilesPerTile)
}

// Slot addresses one payload within the archive.
type Slot struct {
	Col, Row uint32
	Type     uint8
}

// Index returns the row-major slot index of s: (row*side+col)*F+type.
func (h Header) Index(s Slot) (uint32, error) {
	side := h.Side()
	if s.Col >= side || s.Row >= side || s.Type >= h.FilesPerTile {
		return 0, fmt.Errorf("%w: slot %+v out of range for order %d filesPerTile %d",
			vtserror.ErrInconsistentInput, s, h.BinaryOrder, h.FilesPerTile)
	}
	return (s.Row*side+s.Col)*uint32(h.FilesPerTile) + uint32(s.Type), nil
}

func serializeHeader(h Header) []byte {
	b := make([]byte, HeaderLen)
	copy(b[0:5], magic)
	b[5] = h.Version
	b[6] = h.BinaryOrder
	b[7] = h.FilesPerTile
	copy(b[8:24], h.UUID[:])
	return b
}

func deserializeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderLen {
		return h, fmt.Errorf("%w: header truncated", vtserror.ErrBadFileFormat)
	}
	if string(b[0:5]) != magic {
		return h, fmt.Errorf("%w: bad magic %q", vtserror.ErrBadFileFormat, b[0:5])
	}
	h.Version = b[5]
	if h.Version > currentVersion {
		return h, fmt.Errorf("%w: archive version %d, supported up to %d",
			vtserror.ErrVersion, h.Version, currentVersion)
	}
	h.BinaryOrder = b[6]
	h.FilesPerTile = b[7]
	copy(h.UUID[:], b[8:24])
	return h, nil
}

// entry is one slot's (start,size) record in an index block. A zero
// Size means the slot is absent.
type entry struct {
	Start uint32
	Size  uint32
}

const entryLen = 8

// indexBlock is one flushed index: the chain pointer to the previous
// index (0 if none) plus the full slot table at the time of flush.
type indexBlock struct {
	PreviousOffset uint32
	Entries        []entry // len == Header.SlotCount(), sparse via zero Size
}

func serializeIndex(ib indexBlock) []byte {
	b := make([]byte, 8+len(ib.Entries)*entryLen)
	binary.LittleEndian.PutUint32(b[0:4], ib.PreviousOffset)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(ib.Entries)))
	off := 8
	for _, e := range ib.Entries {
		binary.LittleEndian.PutUint32(b[off:off+4], e.Start)
		binary.LittleEndian.PutUint32(b[off+4:off+8], e.Size)
		off += entryLen
	}
	return b
}

func deserializeIndex(b []byte) (indexBlock, error) {
	var ib indexBlock
	if len(b) < 8 {
		return ib, fmt.Errorf("%w: index block truncated", vtserror.ErrBadFileFormat)
	}
	ib.PreviousOffset = binary.LittleEndian.Uint32(b[0:4])
	count := binary.LittleEndian.Uint32(b[4:8])
	need := 8 + int(count)*entryLen
	if len(b) < need {
		return ib, fmt.Errorf("%w: index block declares %d entries but is short", vtserror.ErrBadFileFormat, count)
	}
	ib.Entries = make([]entry, count)
	off := 8
	for i := range ib.Entries {
		ib.Entries[i] = entry{
			Start: binary.LittleEndian.Uint32(b[off : off+4]),
			Size:  binary.LittleEndian.Uint32(b[off+4 : off+8]),
		}
		off += entryLen
	}
	return ib, nil
}

// trailer points at the archive's current index block.
type trailer struct {
	IndexOffset   uint32
	IndexChecksum uint32
	Timestamp     uint32
}

func serializeTrailer(t trailer) []byte {
	b := make([]byte, TrailerLen)
	binary.LittleEndian.PutUint32(b[0:4], t.IndexOffset)
	binary.LittleEndian.PutUint32(b[4:8], t.IndexChecksum)
	binary.LittleEndian.PutUint32(b[8:12], trailerMagic)
	binary.LittleEndian.PutUint32(b[12:16], t.Timestamp)
	return b
}

func deserializeTrailer(b []byte) (trailer, error) {
	var t trailer
	if len(b) < TrailerLen {
		return t, fmt.Errorf("%w: trailer truncated", vtserror.ErrBadFileFormat)
	}
	if binary.LittleEndian.Uint32(b[8:12]) != trailerMagic {
		return t, fmt.Errorf("%w: bad trailer magic", vtserror.ErrBadFileFormat)
	}
	t.IndexOffset = binary.LittleEndian.Uint32(b[0:4])
	t.IndexChecksum = binary.LittleEndian.Uint32(b[4:8])
	t.Timestamp = binary.LittleEndian.Uint32(b[12:16])
	return t, nil
}

func checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
