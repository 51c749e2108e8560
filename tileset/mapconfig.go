package tileset

// SurfaceConfig is one tileset's contribution to the client-facing
// map configuration (spec §4.G mapConfig): everything a renderer needs
// to know about this surface without opening its tile archives.
type SurfaceConfig struct {
	ID             string
	ReferenceFrame string
	Revision       uint64
	LodRange       [2]uint8
	Position       [3]float64
	Credits        []uint16
	BoundLayers    []string
}

// MapConfig returns ts's contribution to a storage-level map config.
func (ts *TileSet) MapConfig() SurfaceConfig {
	return SurfaceConfig{
		ID:             ts.Properties.ID,
		ReferenceFrame: ts.Properties.ReferenceFrame,
		Revision:       ts.Properties.Revision,
		LodRange:       [2]uint8{ts.Properties.LodRange.Min, ts.Properties.LodRange.Max},
		Position:       ts.Properties.Position,
		Credits:        ts.Properties.Credits,
		BoundLayers:    ts.Properties.BoundLayers,
	}
}
