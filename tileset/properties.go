package tileset

import (
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

// DriverKind selects which storage backend a tileset's driverOptions
// variant names (spec §3.6).
type DriverKind string

const (
	DriverPlain      DriverKind = "plain"
	DriverAggregated DriverKind = "aggregated"
	DriverRemote     DriverKind = "remote"
	DriverLocal      DriverKind = "local"
)

// DriverOptions is the tagged variant spec §3.6 calls out by name:
// "driverOptions (variant: plain / aggregated / remote / local)". A
// single struct with a Kind discriminant reads more like idiomatic Go
// than a closed sum type here -- REDESIGN: generalized from a closed
// union to a Kind-tagged struct. This package interprets Plain and
// Remote (Open picks the tile driver from Kind); Aggregated/Local are
// carried through unexamined for the aggregated-storage driver
// (component I) to interpret.
type DriverOptions struct {
	Kind DriverKind

	// Plain driver: on-disk tilar archive layout.
	BinaryOrder  uint8
	FilesPerTile uint8

	// Remote driver: read-only HTTP GET base URL.
	RemoteURL string

	// Aggregated/local drivers: paths of the member tilesets this
	// tileset is a read-only union or local mirror of.
	Members []string
}

// Properties is a tileset's persisted identity and configuration
// (spec §3.6), everything but the tile content itself.
type Properties struct {
	ID             string
	ReferenceFrame string
	Revision       uint64

	Driver DriverOptions

	Credits     []uint16
	BoundLayers []string

	Position [3]float64

	LodRange  tileid.LodRange
	TileRange tileid.Range // extents of real tiles at LodRange.Min

	// SpatialDivisionExtents are the per-SRS 2D extents used by the
	// tile (one entry per SRS the reference frame defines for this
	// tileset's position in the quad-tree).
	SpatialDivisionExtents map[string][4]float64
}

// CreateMode selects overwrite behavior for createTileSet (spec §4.F).
type CreateMode int

const (
	CreateFailIfExists CreateMode = iota
	CreateOverwrite
)

// CloneOptions adjusts a cloneTileSet operation.
type CloneOptions struct {
	LodRange tileid.LodRange // empty: clone the whole source range
	SparseIndexOnly bool     // copy only the tile index, no content
}
