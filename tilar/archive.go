package tilar

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/DavidLevinsky/vts-libs-sub000/vtserror"
)

// CreateMode controls Create's behavior when path already exists.
type CreateMode int

const (
	// CreateFailIfExists refuses to create over an existing file.
	CreateFailIfExists CreateMode = iota
	// CreateOverwrite truncates and recreates an existing file.
	CreateOverwrite
	// CreateAppend opens an existing archive for further writes if
	// path already exists -- its binaryOrder/filesPerTile must match
	// exactly, or Create fails -- and creates a fresh archive
	// otherwise.
	CreateAppend
	// CreateAppendOrTruncate behaves like CreateAppend, but if path
	// exists and fails to open as a valid archive (truncated header,
	// no recoverable index chain), falls back to truncating and
	// creating a fresh archive instead of failing.
	CreateAppendOrTruncate
)

// OpenMode controls whether Open returns a read-only or read-write handle.
type OpenMode int

const (
	OpenReadOnly OpenMode = iota
	OpenReadWrite
)

// Archive is one open tilar file: a fixed header, an append-only body
// of payloads, and an in-memory slot table mirroring the most recently
// flushed (or modified) index.
type Archive struct {
	mu sync.Mutex

	f      *os.File
	header Header
	writek OpenMode

	slots     []entry // len == header.SlotCount()
	dirty     bool
	bodyEnd   int64 // offset the next payload is appended at (past the last trailer once flushed)
	lastIndex uint32 // offset of the most recently flushed index block, 0 if none
	prevIndex uint32 // PreviousOffset recorded by the currently loaded index block, 0 if none

	// payloadHash deduplicates identical payloads written through
	// Output within this archive's lifetime: xxhash.Sum64(payload) to
	// the body offset of an already-written copy.
	payloadHash map[uint64]uint32

	logger *log.Logger
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Create makes a new archive at path with the given geometry, or --
// under CreateAppend/CreateAppendOrTruncate -- reopens a matching one
// already there.
func Create(path string, binaryOrder, filesPerTile uint8, mode CreateMode, logger *log.Logger) (*Archive, error) {
	if logger == nil {
		logger = discardLogger()
	}

	if mode == CreateAppend || mode == CreateAppendOrTruncate {
		if _, statErr := os.Stat(path); statErr == nil {
			a, openErr := Open(path, OpenReadWrite, logger)
			if openErr == nil {
				if a.header.BinaryOrder != binaryOrder || a.header.FilesPerTile != filesPerTile {
					a.Close()
					return nil, fmt.Errorf("%w: existing archive %s has order %d filesPerTile %d, requested order %d filesPerTile %d",
						vtserror.ErrInconsistentInput, path, a.header.BinaryOrder, a.header.FilesPerTile, binaryOrder, filesPerTile)
				}
				logger.Printf("tilar: appending to existing %s order=%d filesPerTile=%d", path, binaryOrder, filesPerTile)
				return a, nil
			}
			if mode == CreateAppend {
				return nil, fmt.Errorf("%w: opening %s for append: %v", vtserror.ErrBadFileFormat, path, openErr)
			}
			logger.Printf("tilar: %s failed validation for append, truncating: %v", path, openErr)
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("%w: stat %s: %v", vtserror.ErrIO, path, statErr)
		}
	}

	flags := os.O_RDWR | os.O_CREATE
	if mode == CreateFailIfExists {
		flags |= os.O_EXCL
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if mode == CreateFailIfExists && os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", vtserror.ErrStorageAlreadyExists, path)
		}
		return nil, fmt.Errorf("%w: create %s: %v", vtserror.ErrIO, path, err)
	}

	var uuid [16]byte
	if _, err := io.ReadFull(rand.Reader, uuid[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: generating uuid: %v", vtserror.ErrIO, err)
	}
	h := Header{Version: currentVersion, BinaryOrder: binaryOrder, FilesPerTile: filesPerTile, UUID: uuid}

	if _, err := f.Write(serializeHeader(h)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: writing header: %v", vtserror.ErrIO, err)
	}

	a := &Archive{
		f:           f,
		header:      h,
		writek:      OpenReadWrite,
		slots:       make([]entry, h.SlotCount()),
		dirty:       true, // the first Flush/Close writes an index, even an empty one
		bodyEnd:     HeaderLen,
		payloadHash: make(map[uint64]uint32),
		logger:      logger,
	}
	logger.Printf("tilar: created %s order=%d filesPerTile=%d", path, binaryOrder, filesPerTile)
	return a, nil
}

// Open opens an existing archive, validating its trailer and walking
// back to the previous index if the physical tail is a partial,
// uncommitted write (spec §3.5/§4.C crash-safety).
func Open(path string, mode OpenMode, logger *log.Logger) (*Archive, error) {
	if logger == nil {
		logger = discardLogger()
	}
	flags := os.O_RDONLY
	if mode == OpenReadWrite {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", vtserror.ErrIO, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", vtserror.ErrIO, path, err)
	}
	size := info.Size()
	if size < HeaderLen+TrailerLen {
		f.Close()
		return nil, fmt.Errorf("%w: %s too small to be a tilar archive", vtserror.ErrBadFileFormat, path)
	}

	headerBuf := make([]byte, HeaderLen)
	if _, err := f.ReadAt(headerBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: reading header: %v", vtserror.ErrIO, err)
	}
	h, err := deserializeHeader(headerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	ib, indexOffset, bodyEnd, err := readValidTrailer(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	if len(ib.Entries) != int(h.SlotCount()) {
		f.Close()
		return nil, fmt.Errorf("%w: index has %d entries, expected %d for order %d filesPerTile %d",
			vtserror.ErrBadFileFormat, len(ib.Entries), h.SlotCount(), h.BinaryOrder, h.FilesPerTile)
	}

	a := &Archive{
		f:           f,
		header:      h,
		writek:      mode,
		slots:       ib.Entries,
		bodyEnd:     bodyEnd,
		lastIndex:   indexOffset,
		prevIndex:   ib.PreviousOffset,
		payloadHash: make(map[uint64]uint32),
		logger:      logger,
	}
	logger.Printf("tilar: opened %s order=%d filesPerTile=%d bodyEnd=%d", path, h.BinaryOrder, h.FilesPerTile, bodyEnd)
	return a, nil
}

// OpenAt opens an archive at a historical snapshot: the slot table as
// it existed when the index block at indexOffset was flushed, rather
// than the current tail. Each flushed index chains to the one before
// it via PreviousOffset, so a caller walking that chain (or one who
// simply remembers an offset returned by an earlier Flush) can hand it
// straight to OpenAt to re-root reads there. The result is always
// read-only: history can be inspected, never appended to.
func OpenAt(path string, indexOffset uint32, logger *log.Logger) (*Archive, error) {
	if logger == nil {
		logger = discardLogger()
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", vtserror.ErrIO, path, err)
	}

	headerBuf := make([]byte, HeaderLen)
	if _, err := f.ReadAt(headerBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: reading header: %v", vtserror.ErrIO, err)
	}
	h, err := deserializeHeader(headerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	ib, err := readIndexAt(f, indexOffset)
	if err != nil {
		f.Close()
		return nil, err
	}
	if len(ib.Entries) != int(h.SlotCount()) {
		f.Close()
		return nil, fmt.Errorf("%w: historical index at %d has %d entries, expected %d for order %d filesPerTile %d",
			vtserror.ErrBadFileFormat, indexOffset, len(ib.Entries), h.SlotCount(), h.BinaryOrder, h.FilesPerTile)
	}

	a := &Archive{
		f:           f,
		header:      h,
		writek:      OpenReadOnly,
		slots:       ib.Entries,
		bodyEnd:     int64(indexOffset),
		lastIndex:   indexOffset,
		prevIndex:   ib.PreviousOffset,
		payloadHash: make(map[uint64]uint32),
		logger:      logger,
	}
	logger.Printf("tilar: opened %s at historical index %d order=%d filesPerTile=%d", path, indexOffset, h.BinaryOrder, h.FilesPerTile)
	return a, nil
}

// IndexOffset returns the offset of the index block this handle is
// currently reading from -- 0 if nothing has been flushed yet.
func (a *Archive) IndexOffset() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastIndex
}

// PreviousIndexOffset returns the offset this handle's current index
// chains back to (its PreviousOffset), 0 if there is no earlier one.
// Pass it to OpenAt to read the archive as it existed one flush ago.
func (a *Archive) PreviousIndexOffset() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prevIndex
}

// readIndexAt reads the self-delimiting index block at offset directly
// -- no trailer, no checksum -- since the caller (OpenAt) supplies the
// offset itself rather than discovering it via the trailer scan.
func readIndexAt(f *os.File, offset uint32) (indexBlock, error) {
	head := make([]byte, 8)
	if _, err := f.ReadAt(head, int64(offset)); err != nil {
		return indexBlock{}, fmt.Errorf("%w: reading index header at %d: %v", vtserror.ErrIO, offset, err)
	}
	count := binary.LittleEndian.Uint32(head[4:8])
	buf := make([]byte, 8+int(count)*entryLen)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return indexBlock{}, fmt.Errorf("%w: reading index at %d: %v", vtserror.ErrIO, offset, err)
	}
	return deserializeIndex(buf)
}

// maxTrailerScan bounds how far readValidTrailer will walk backward
// looking for a trailer that survived a crash mid-Flush: a partial
// write can only have appended past the last successfully fsynced
// trailer, never rewritten history before it, so in practice the scan
// stops on its first or second candidate.
const maxTrailerScan = 64 * 1024 * 1024

// readValidTrailer tries the trailer at the file's physical end first
// (the normal case); if that slot is not a well-formed, checksum-clean
// trailer — the tell-tale sign of a crash between appending an index
// block and the Flush that would have truncated the file afterward —
// it scans backward for the trailerMagic marker and retries each
// candidate until one validates or the scan bound is exhausted.
func readValidTrailer(f *os.File, size int64) (indexBlock, uint32, int64, error) {
	limit := size - maxTrailerScan
	if limit < HeaderLen {
		limit = HeaderLen
	}
	for end := size; end >= limit+TrailerLen; end-- {
		if ib, indexOffset, ok := tryTrailerAt(f, end); ok {
			return ib, indexOffset, end, nil
		}
	}
	return indexBlock{}, 0, 0, fmt.Errorf("%w: no valid index chain found within tail", vtserror.ErrBadFileFormat)
}

// tryTrailerAt attempts to read and validate a trailer ending at
// offset end, and the index block it points to.
func tryTrailerAt(f *os.File, end int64) (indexBlock, uint32, bool) {
	trailerBuf := make([]byte, TrailerLen)
	if _, err := f.ReadAt(trailerBuf, end-TrailerLen); err != nil {
		return indexBlock{}, 0, false
	}
	tr, err := deserializeTrailer(trailerBuf)
	if err != nil {
		return indexBlock{}, 0, false
	}
	indexLen := end - TrailerLen - int64(tr.IndexOffset)
	if indexLen < 8 {
		return indexBlock{}, 0, false
	}
	indexBuf := make([]byte, indexLen)
	if _, err := f.ReadAt(indexBuf, int64(tr.IndexOffset)); err != nil {
		return indexBlock{}, 0, false
	}
	if checksum(indexBuf) != tr.IndexChecksum {
		return indexBlock{}, 0, false
	}
	ib, err := deserializeIndex(indexBuf)
	if err != nil {
		return indexBlock{}, 0, false
	}
	return ib, tr.IndexOffset, true
}

// Header returns the archive's fixed header.
func (a *Archive) Header() Header {
	return a.header
}

// Output writes payload into slot, OR-deduplicating identical payloads
// already present in this archive by content hash. It fails on a
// read-only handle.
func (a *Archive) Output(slot Slot, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.writek != OpenReadWrite {
		return vtserror.ErrReadOnly
	}
	idx, err := a.header.Index(slot)
	if err != nil {
		return err
	}

	sum := xxhash.Sum64(payload)
	start, ok := a.payloadHash[sum]
	if !ok {
		start = uint32(a.bodyEnd)
		if err := a.appendPayload(payload); err != nil {
			return err
		}
		a.payloadHash[sum] = start
	}
	a.slots[idx] = entry{Start: start, Size: uint32(len(payload))}
	a.dirty = true
	return nil
}

func (a *Archive) appendPayload(payload []byte) error {
	frame := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:4+len(payload)], payload)
	binary.LittleEndian.PutUint32(frame[4+len(payload):], crc32.ChecksumIEEE(payload))

	if _, err := a.f.WriteAt(frame, a.bodyEnd); err != nil {
		return fmt.Errorf("%w: writing payload: %v", vtserror.ErrIO, err)
	}
	a.bodyEnd += int64(len(frame))
	return nil
}

// Input returns the payload stored at slot, or ErrNoSuchTile if absent.
func (a *Archive) Input(slot Slot) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, err := a.header.Index(slot)
	if err != nil {
		return nil, err
	}
	e := a.slots[idx]
	if e.Size == 0 {
		return nil, vtserror.ErrNoSuchTile
	}

	frame := make([]byte, 4+e.Size+4)
	if _, err := a.f.ReadAt(frame, int64(e.Start)); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", vtserror.ErrIO, err)
	}
	length := binary.LittleEndian.Uint32(frame[0:4])
	if length != e.Size {
		return nil, fmt.Errorf("%w: payload length mismatch at slot %+v", vtserror.ErrBadFileFormat, slot)
	}
	payload := frame[4 : 4+e.Size]
	wantCRC := binary.LittleEndian.Uint32(frame[4+e.Size:])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, fmt.Errorf("%w: payload checksum mismatch at slot %+v", vtserror.ErrBadFileFormat, slot)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Exists reports whether slot currently holds a payload.
func (a *Archive) Exists(slot Slot) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, err := a.header.Index(slot)
	if err != nil {
		return false
	}
	return a.slots[idx].Size != 0
}

// Remove clears slot. The payload bytes remain in the body as
// overhead until a future compaction (spec §3.5: "a freed payload
// becomes overhead").
func (a *Archive) Remove(slot Slot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writek != OpenReadWrite {
		return vtserror.ErrReadOnly
	}
	idx, err := a.header.Index(slot)
	if err != nil {
		return err
	}
	if a.slots[idx].Size == 0 {
		return vtserror.ErrNoSuchTile
	}
	a.slots[idx] = entry{}
	a.dirty = true
	return nil
}

// Flush writes a new index block chained to the previous one and a
// new trailer pointing at it, then syncs the file. It is a no-op if
// nothing changed since the last Flush.
func (a *Archive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writek != OpenReadWrite {
		return vtserror.ErrReadOnly
	}
	if !a.dirty {
		return nil
	}

	ib := indexBlock{PreviousOffset: a.lastIndex, Entries: a.slots}
	indexBytes := serializeIndex(ib)
	indexOffset := uint32(a.bodyEnd)
	if _, err := a.f.WriteAt(indexBytes, a.bodyEnd); err != nil {
		return fmt.Errorf("%w: writing index: %v", vtserror.ErrIO, err)
	}

	tr := trailer{IndexOffset: indexOffset, IndexChecksum: checksum(indexBytes), Timestamp: uint32(time.Now().Unix())}
	trailerOffset := a.bodyEnd + int64(len(indexBytes))
	if _, err := a.f.WriteAt(serializeTrailer(tr), trailerOffset); err != nil {
		return fmt.Errorf("%w: writing trailer: %v", vtserror.ErrIO, err)
	}
	if err := a.f.Truncate(trailerOffset + TrailerLen); err != nil {
		return fmt.Errorf("%w: truncating after trailer: %v", vtserror.ErrIO, err)
	}
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", vtserror.ErrIO, err)
	}

	a.prevIndex = a.lastIndex
	a.lastIndex = indexOffset
	a.bodyEnd = trailerOffset + TrailerLen
	a.dirty = false
	a.logger.Printf("tilar: flushed index at %d (%d slots)", indexOffset, len(a.slots))
	return nil
}

// DiscardChanges drops every Output/Remove made since the last Flush,
// reverting the in-memory slot table to what the on-disk trailer
// points at and moving the append position back to the end of that
// trailer, so later writes overwrite any orphaned payload bytes. The
// file itself is not truncated here.
func (a *Archive) DiscardChanges() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dirty {
		return nil
	}
	if a.lastIndex == 0 {
		for i := range a.slots {
			a.slots[i] = entry{}
		}
		a.bodyEnd = HeaderLen
		a.dirty = false
		a.payloadHash = make(map[uint64]uint32)
		return nil
	}

	info, err := a.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %v", vtserror.ErrIO, err)
	}
	ib, _, bodyEnd, err := readValidTrailer(a.f, info.Size())
	if err != nil {
		return err
	}
	a.slots = ib.Entries
	a.bodyEnd = bodyEnd
	a.dirty = false
	a.payloadHash = make(map[uint64]uint32)
	return nil
}

// Close flushes (if a write handle) and closes the underlying file.
func (a *Archive) Close() error {
	if a.writek == OpenReadWrite {
		if err := a.Flush(); err != nil {
			return err
		}
	}
	return a.f.Close()
}
