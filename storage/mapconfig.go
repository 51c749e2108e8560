package storage

import (
	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/tileset"
)

// GlueConfig is one glue's contribution to the map config.
type GlueConfig struct {
	ID      []string
	Surface tileset.SurfaceConfig
}

// View names one named combination of surfaces a client can select,
// e.g. a virtual surface registered by CreateVirtualSurface.
type View struct {
	Name     string
	Surfaces []string
}

// MapConfig is the unified client-facing configuration: every stored
// surface and glue plus the views, positions, credits and bound layers
// a renderer needs (spec §4.G "mapConfig()").
type MapConfig struct {
	ReferenceFrame string
	Surfaces       []tileset.SurfaceConfig
	Glues          []GlueConfig
	Views          []View
}

// MapConfig opens every stored tileset and generated glue read-only,
// collects their SurfaceConfig, and returns the combined client-facing
// configuration.
func (s *Storage) MapConfig(rf registry.ReferenceFrame, boundLayers map[string]registry.BoundLayer) (MapConfig, error) {
	mc := MapConfig{ReferenceFrame: s.Properties.ReferenceFrame}

	for _, t := range s.Properties.Tilesets {
		ts, err := tileset.Open(s.tilesetPath(t.TilesetID), rf, boundLayers, true)
		if err != nil {
			return MapConfig{}, err
		}
		mc.Surfaces = append(mc.Surfaces, ts.MapConfig())
		ts.Close()
	}

	for _, g := range s.Properties.Glues {
		ts, err := tileset.Open(g.Path, rf, boundLayers, true)
		if err != nil {
			return MapConfig{}, err
		}
		mc.Glues = append(mc.Glues, GlueConfig{ID: g.ID, Surface: ts.MapConfig()})
		ts.Close()
	}

	return mc, nil
}

func (s *Storage) tilesetPath(id string) string {
	return s.root + "/tilesets/" + id
}
