package tileset

import (
	"container/list"

	"golang.org/x/sync/errgroup"

	"github.com/DavidLevinsky/vts-libs-sub000/internal/metrics"
	"github.com/DavidLevinsky/vts-libs-sub000/metatile"
	"github.com/DavidLevinsky/vts-libs-sub000/tileid"
)

// CacheMode selects one of the two metatile-cache policies named in
// spec §4.F: an LRU with a soft cap, or a "scarce memory" mode that
// keeps at most one metatile per lod. Grounded on the same
// container/list LRU shape as tilar.Cache, since both are "bound the
// number of resident blocks, write back the dirty ones on eviction"
// caches over the same archive-block addressing scheme.
type CacheMode int

const (
	CacheLRU CacheMode = iota
	CacheScarce
)

type metaCacheEntry struct {
	origin tileid.ID
	mt     *metatile.MetaTile
}

// MetatileCache holds in-memory MetaTile blocks, writing back dirty
// ones through writeBack on eviction or Flush. Write mode requires
// CacheLRU (spec §4.F: "write mode requires (a)"); CacheScarce is only
// valid for a read-only tileset.
type MetatileCache struct {
	mode     CacheMode
	softCap  int
	order    *list.List
	entries  map[tileid.ID]*list.Element
	perLod   map[uint8]tileid.ID
	writeBack func(tileid.ID, *metatile.MetaTile) error
}

// NewMetatileCache returns a cache in the given mode. softCap is only
// meaningful for CacheLRU.
func NewMetatileCache(mode CacheMode, softCap int, writeBack func(tileid.ID, *metatile.MetaTile) error) *MetatileCache {
	return &MetatileCache{
		mode:      mode,
		softCap:   softCap,
		order:     list.New(),
		entries:   make(map[tileid.ID]*list.Element),
		perLod:    make(map[uint8]tileid.ID),
		writeBack: writeBack,
	}
}

// Get returns the resident metatile for origin, if any.
func (c *MetatileCache) Get(origin tileid.ID) (*metatile.MetaTile, bool) {
	el, ok := c.entries[origin]
	if !ok {
		metrics.MetatileCacheMiss()
		return nil, false
	}
	c.order.MoveToFront(el)
	metrics.MetatileCacheHit()
	return el.Value.(*metaCacheEntry).mt, true
}

// Put inserts mt under origin, evicting (and writing back, if dirty)
// whatever the cache policy requires to make room.
func (c *MetatileCache) Put(origin tileid.ID, mt *metatile.MetaTile) error {
	if old, ok := c.entries[origin]; ok {
		c.order.Remove(old)
		delete(c.entries, origin)
	}
	el := c.order.PushFront(&metaCacheEntry{origin: origin, mt: mt})
	c.entries[origin] = el

	switch c.mode {
	case CacheScarce:
		if prev, ok := c.perLod[origin.Lod]; ok && prev != origin {
			if err := c.evict(prev); err != nil {
				return err
			}
		}
		c.perLod[origin.Lod] = origin
		return nil
	default: // CacheLRU
		for c.order.Len() > c.softCap {
			back := c.order.Back()
			ce := back.Value.(*metaCacheEntry)
			if ce.origin == origin {
				break
			}
			if err := c.evict(ce.origin); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *MetatileCache) evict(origin tileid.ID) error {
	el, ok := c.entries[origin]
	if !ok {
		return nil
	}
	ce := el.Value.(*metaCacheEntry)
	c.order.Remove(el)
	delete(c.entries, origin)
	if _, present := c.perLod[origin.Lod]; present && c.perLod[origin.Lod] == origin {
		delete(c.perLod, origin.Lod)
	}
	if ce.mt.Dirty() {
		if err := c.writeBack(origin, ce.mt); err != nil {
			return err
		}
		ce.mt.ClearDirty()
	}
	return nil
}

// FlushAll writes back every dirty resident metatile without evicting
// any of them. Write-backs fan out across an errgroup since each one
// targets an independent archive-block slot (grounded on the teacher's
// per-archive errgroup fan-out in its sync-to-remote path).
func (c *MetatileCache) FlushAll() error {
	var g errgroup.Group
	for el := c.order.Front(); el != nil; el = el.Next() {
		ce := el.Value.(*metaCacheEntry)
		if !ce.mt.Dirty() {
			continue
		}
		ce := ce
		g.Go(func() error {
			if err := c.writeBack(ce.origin, ce.mt); err != nil {
				return err
			}
			ce.mt.ClearDirty()
			return nil
		})
	}
	return g.Wait()
}
