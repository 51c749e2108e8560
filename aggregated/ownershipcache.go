package aggregated

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

// OwnershipCache persists the per-tile ownership map (spec §4.I.b) to
// a small SQLite file, so a storage with many tilesets/glues doesn't
// have to rebuild it in memory on every aggregated-driver open.
// Grounded on the teacher's only other use of zombiezen.com/go/sqlite
// (pmtiles/convert.go's ConvertMbtiles): same prepare/step/bind
// calling convention, applied here to a cache file rather than an
// MBTiles source.
type OwnershipCache struct {
	conn *sqlite.Conn
}

const ownershipSchema = `
CREATE TABLE IF NOT EXISTS ownership (
	lod INTEGER NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	member_idx INTEGER NOT NULL,
	PRIMARY KEY (lod, x, y)
)`

// OpenOwnershipCache opens (creating if absent) the SQLite cache file
// at path.
func OpenOwnershipCache(path string) (*OwnershipCache, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("aggregated: open ownership cache: %w", err)
	}
	if err := sqlitex.ExecTransient(conn, ownershipSchema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("aggregated: init ownership cache schema: %w", err)
	}
	return &OwnershipCache{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *OwnershipCache) Close() error { return c.conn.Close() }

// Store persists d's full ownership table, replacing any prior
// contents.
func (c *OwnershipCache) Store(d *Driver) error {
	if err := sqlitex.ExecTransient(c.conn, "DELETE FROM ownership", nil); err != nil {
		return err
	}
	stmt := c.conn.Prep("INSERT INTO ownership (lod, x, y, member_idx) VALUES (?, ?, ?, ?)")
	defer stmt.Reset()
	for lod := d.lodRange.Min; lod <= d.lodRange.Max; lod++ {
		own := d.ownership[lod-d.lodRange.Min]
		for key, memberIdx := range own {
			x, y := uint32(key>>32), uint32(key&0xffffffff)
			stmt.BindInt64(1, int64(lod))
			stmt.BindInt64(2, int64(x))
			stmt.BindInt64(3, int64(y))
			stmt.BindInt64(4, int64(memberIdx))
			if _, err := stmt.Step(); err != nil {
				return fmt.Errorf("aggregated: insert ownership row: %w", err)
			}
			if err := stmt.Reset(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load rebuilds an ownership table from the cache for the given
// lod range, without recomputing it from the member tilesets'
// indices.
func (c *OwnershipCache) Load(lodRange tileid.LodRange) ([]map[uint64]int, error) {
	own := make([]map[uint64]int, int(lodRange.Max-lodRange.Min)+1)
	for i := range own {
		own[i] = make(map[uint64]int)
	}
	stmt := c.conn.Prep("SELECT lod, x, y, member_idx FROM ownership WHERE lod >= ? AND lod <= ?")
	stmt.BindInt64(1, int64(lodRange.Min))
	stmt.BindInt64(2, int64(lodRange.Max))
	defer stmt.Reset()
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("aggregated: read ownership cache: %w", err)
		}
		if !hasRow {
			break
		}
		lod := uint8(stmt.ColumnInt64(0))
		x := uint32(stmt.ColumnInt64(1))
		y := uint32(stmt.ColumnInt64(2))
		memberIdx := int(stmt.ColumnInt64(3))
		own[lod-lodRange.Min][packXY(x, y)] = memberIdx
	}
	return own, nil
}
