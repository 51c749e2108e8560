// Package vtserror defines the sentinel error taxonomy shared by every
// other package in this module (spec §6.6/§7): typed, wrappable values
// tested with errors.Is, never silent truncation.
package vtserror

import "errors"

var (
	// ErrNoSuchTileSet means a storage operation named a tileset id that
	// is not present.
	ErrNoSuchTileSet = errors.New("vts: no such tileset")
	// ErrNoSuchTile means a tileset's index has no real tile at the
	// requested id.
	ErrNoSuchTile = errors.New("vts: no such tile")
	// ErrBadTile means a tile id or payload was structurally invalid
	// (e.g. a setTile call whose mesh/atlas combination violates the
	// tileset's own consistency rules) — distinct from ErrNoSuchTile,
	// which means the id is well-formed but has no content.
	ErrBadTile = errors.New("vts: bad tile")
	// ErrFormat is a generic malformed-input error, used where no more
	// specific sentinel applies.
	ErrFormat = errors.New("vts: format error")
	// ErrBadFileFormat means an on-disk file (metatile, archive, config)
	// failed a structural check: magic, version, or invariant.
	ErrBadFileFormat = errors.New("vts: bad file format")
	// ErrVersion means a file or wire payload declared a version this
	// build does not understand.
	ErrVersion = errors.New("vts: unsupported version")
	// ErrReadOnly means a write was attempted on a read-only handle.
	ErrReadOnly = errors.New("vts: read-only")
	// ErrPendingTransaction means an operation required a clean
	// (flushed) state but found one or more pending changes.
	ErrPendingTransaction = errors.New("vts: pending transaction")
	// ErrInconsistentInput means caller-supplied data violates a
	// documented precondition (e.g. a glue id list not a subsequence of
	// the storage's tileset stack).
	ErrInconsistentInput = errors.New("vts: inconsistent input")
	// ErrIncompatibleTileSet means two tilesets cannot be combined (glue,
	// paste, storage add) due to reference-frame or revision mismatch.
	ErrIncompatibleTileSet = errors.New("vts: incompatible tileset")
	// ErrInterrupted means a long-running operation was cancelled via
	// context.
	ErrInterrupted = errors.New("vts: interrupted")
	// ErrKey means a lookup key (config map, driver option) was absent
	// or of the wrong type.
	ErrKey = errors.New("vts: key error")
	// ErrIO wraps an underlying I/O failure that does not itself carry
	// enough context to classify further.
	ErrIO = errors.New("vts: io error")
	// ErrStorageAlreadyExists means a create call used failIfExists
	// against an existing path.
	ErrStorageAlreadyExists = errors.New("vts: storage already exists")
)
