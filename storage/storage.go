// Package storage implements a storage: an ordered list of tilesets
// plus the glue tilesets that resolve overlap between any subset of
// them (spec §3.7, §4.G).
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DavidLevinsky/vts-libs-sub000/aggregated"
	"github.com/DavidLevinsky/vts-libs-sub000/registry"
	"github.com/DavidLevinsky/vts-libs-sub000/tileindex"
	"github.com/DavidLevinsky/vts-libs-sub000/tileset"
	"github.com/DavidLevinsky/vts-libs-sub000/vtserror"
)

const configFile = "storage.conf"
const configVersion = 1024

// Direction names where a tileset is placed relative to Location.Where
// in add (spec §4.G).
type Direction int

const (
	Below Direction = iota
	Above
)

// Location names where add should insert a new tileset in the stack.
type Location struct {
	Where     string // existing tilesetId, or "" for top/bottom of stack
	Direction Direction
}

// StoredTileset is one entry of the ordered tileset stack.
type StoredTileset struct {
	TilesetID string
	BaseID    string
	Version   int
	Tags      []string
}

// GlueID is an ordered subsequence of the stack's tileset ids,
// bottom-of-stack first (spec §3.1).
type GlueID []string

func (g GlueID) String() string { return strings.Join(g, "/") }

// Glue is one generated glue tileset.
type Glue struct {
	ID          GlueID
	Path        string
	Supplements []string
}

// TrashEntry records a removed tileset's prior revision so a later
// add under the same id can continue the revision chain.
type TrashEntry struct {
	Revision uint64
}

// Properties is storage.conf's content (spec §3.7).
type Properties struct {
	ReferenceFrame string
	Revision       uint64
	Tilesets       []StoredTileset
	Glues          map[string]Glue // keyed by GlueID.String()
	TrashBin       map[string]TrashEntry
	VirtualSurfaces map[string]VirtualSurface // keyed by VirtualSurface.Name
}

// GlueRule is a textual constraint attached by the caller that can
// suppress a glue that would otherwise be generated (spec §4.G).
type GlueRule interface {
	// Check returns false (and a reason) if the rule is violated by
	// the given candidate glue's member tilesets.
	Check(members []string, tagsOf func(tilesetID string) []string) (ok bool, reason string)
}

// UniqueTag requires Tag to appear in at most one member.
type UniqueTag struct{ Tag string }

func (r UniqueTag) Check(members []string, tagsOf func(string) []string) (bool, string) {
	count := 0
	for _, m := range members {
		for _, t := range tagsOf(m) {
			if t == r.Tag {
				count++
			}
		}
	}
	if count > 1 {
		return false, fmt.Sprintf("tag %q present in more than one member", r.Tag)
	}
	return true, ""
}

// UniqueTagMatch requires every tileset whose tag matches Pattern (a
// filepath.Match glob) to carry the same tag value.
type UniqueTagMatch struct{ Pattern string }

func (r UniqueTagMatch) Check(members []string, tagsOf func(string) []string) (bool, string) {
	var seen string
	for _, m := range members {
		for _, t := range tagsOf(m) {
			if ok, _ := filepath.Match(r.Pattern, t); !ok {
				continue
			}
			if seen == "" {
				seen = t
			} else if seen != t {
				return false, fmt.Sprintf("conflicting tags matching %q: %q vs %q", r.Pattern, seen, t)
			}
		}
	}
	return true, ""
}

// StorageLocker coordinates multi-process mutation of storage.conf
// and individual glue directories (spec §4.G, §5).
type StorageLocker interface {
	Lock(sublock string) error
	Unlock(sublock string) error
}

// AddOptions controls add/generateGlue behavior.
type AddOptions struct {
	BumpVersion bool
	Rules       []GlueRule
	Locker      StorageLocker
}

// Storage is one open storage tree.
type Storage struct {
	root       string
	Properties Properties
	rf         registry.ReferenceFrame

	tags map[string][]string // tilesetId -> tags read by glue rules; no exported method fills it
}

// Create initializes a new, empty storage at root.
func Create(root string, rf registry.ReferenceFrame) (*Storage, error) {
	if err := os.MkdirAll(filepath.Join(root, "tilesets"), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(root, "glues"), 0o755); err != nil {
		return nil, err
	}
	s := &Storage{
		root: root,
		Properties: Properties{
			ReferenceFrame:  rf.ID,
			Glues:           make(map[string]Glue),
			TrashBin:        make(map[string]TrashEntry),
			VirtualSurfaces: make(map[string]VirtualSurface),
		},
		rf:   rf,
		tags: make(map[string][]string),
	}
	return s, s.writeConfig()
}

// Open opens an existing storage at root.
func Open(root string, rf registry.ReferenceFrame) (*Storage, error) {
	f, err := os.Open(filepath.Join(root, configFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vtserror.ErrNoSuchTileSet, err)
	}
	defer f.Close()
	var wire struct {
		Version    int
		Properties Properties
	}
	if err := json.NewDecoder(f).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", vtserror.ErrBadFileFormat, err)
	}
	if wire.Version != configVersion {
		return nil, fmt.Errorf("%w: storage.conf version %d", vtserror.ErrVersion, wire.Version)
	}
	if wire.Properties.Glues == nil {
		wire.Properties.Glues = make(map[string]Glue)
	}
	if wire.Properties.TrashBin == nil {
		wire.Properties.TrashBin = make(map[string]TrashEntry)
	}
	if wire.Properties.VirtualSurfaces == nil {
		wire.Properties.VirtualSurfaces = make(map[string]VirtualSurface)
	}
	return &Storage{root: root, Properties: wire.Properties, rf: rf, tags: make(map[string][]string)}, nil
}

func (s *Storage) writeConfig() error {
	f, err := os.Create(filepath.Join(s.root, configFile))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	return enc.Encode(struct {
		Version    int
		Properties Properties
	}{configVersion, s.Properties})
}

func (s *Storage) indexOf(id string) int {
	for i, t := range s.Properties.Tilesets {
		if t.TilesetID == id {
			return i
		}
	}
	return -1
}

// Add positions tilesetId (opened from tilesetPath) in the stack per
// loc, computing which glues now need to exist and scheduling their
// generation (spec §4.G). It returns the list of GlueIDs that became
// pending as a result.
func (s *Storage) Add(tilesetPath string, loc Location, tilesetID string, opts AddOptions) ([]GlueID, error) {
	if opts.Locker != nil {
		if err := opts.Locker.Lock(""); err != nil {
			return nil, err
		}
		defer opts.Locker.Unlock("")
	}

	src, err := tileset.Open(tilesetPath, s.rf, nil, true)
	if err != nil {
		return nil, err
	}
	if src.Properties.ReferenceFrame != s.Properties.ReferenceFrame {
		return nil, fmt.Errorf("%w: reference frame mismatch", vtserror.ErrIncompatibleTileSet)
	}

	finalID := tilesetID
	baseID := tilesetID
	version := 0
	if s.indexOf(finalID) >= 0 {
		if !opts.BumpVersion {
			return nil, fmt.Errorf("%w: tileset %q already exists in storage", vtserror.ErrStorageAlreadyExists, tilesetID)
		}
		for version = 1; s.indexOf(fmt.Sprintf("%s.%d", baseID, version)) >= 0; version++ {
		}
		finalID = fmt.Sprintf("%s.%d", baseID, version)
	}

	entry := StoredTileset{TilesetID: finalID, BaseID: baseID, Version: version}
	insertAt := len(s.Properties.Tilesets)
	if loc.Where != "" {
		at := s.indexOf(loc.Where)
		if at < 0 {
			return nil, fmt.Errorf("%w: location tileset %q not in storage", vtserror.ErrNoSuchTileSet, loc.Where)
		}
		if loc.Direction == Below {
			insertAt = at
		} else {
			insertAt = at + 1
		}
	}
	stack := append([]StoredTileset{}, s.Properties.Tilesets[:insertAt]...)
	stack = append(stack, entry)
	stack = append(stack, s.Properties.Tilesets[insertAt:]...)
	s.Properties.Tilesets = stack
	s.Properties.Revision++

	pending := s.pendingGluesInvolving(finalID, opts.Rules)
	return pending, s.writeConfig()
}

// Remove deletes the named tilesets and every glue referencing any of
// them, moving each removed tileset's prior revision into the trash
// bin (spec §4.G).
func (s *Storage) Remove(ids []string, locker StorageLocker) error {
	if locker != nil {
		if err := locker.Lock(""); err != nil {
			return err
		}
		defer locker.Unlock("")
	}
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	kept := s.Properties.Tilesets[:0:0]
	for _, t := range s.Properties.Tilesets {
		if removeSet[t.TilesetID] {
			s.Properties.TrashBin[t.TilesetID] = TrashEntry{Revision: s.Properties.Revision}
			continue
		}
		kept = append(kept, t)
	}
	s.Properties.Tilesets = kept

	for key, g := range s.Properties.Glues {
		for _, member := range g.ID {
			if removeSet[member] {
				delete(s.Properties.Glues, key)
				break
			}
		}
	}
	s.Properties.Revision++
	return s.writeConfig()
}

// stackAlphabet ranks tileset ids top-of-stack-first, for glue-id
// ordering comparisons (spec §4.G "Glue ordering").
func (s *Storage) stackAlphabet() map[string]int {
	rank := make(map[string]int, len(s.Properties.Tilesets))
	n := len(s.Properties.Tilesets)
	for i, t := range s.Properties.Tilesets {
		rank[t.TilesetID] = n - 1 - i // top of stack (last entry) ranks 0
	}
	return rank
}

// CompareGlueOrder reports whether a sorts before b under the
// descending-priority glue ordering rule: treat each id (excluding the
// top element, which is common to every glue in one top-tileset's
// set) as a string over the stack-rank alphabet, compare
// lexicographically right-to-left, and if one is a prefix of the
// other the longer one is the lesser (later) (spec §4.G).
func (s *Storage) CompareGlueOrder(a, b GlueID) bool {
	rank := s.stackAlphabet()
	av, bv := glueRanks(a, rank), glueRanks(b, rank)
	i, j := len(av)-1, len(bv)-1
	for i >= 0 && j >= 0 {
		if av[i] != bv[j] {
			return av[i] < bv[j]
		}
		i--
		j--
	}
	// one is a prefix (from the right) of the other: the longer is lesser
	return len(av) > len(bv)
}

func glueRanks(id GlueID, rank map[string]int) []int {
	if len(id) <= 1 {
		return nil
	}
	out := make([]int, len(id)-1)
	for i, member := range id[:len(id)-1] {
		out[i] = rank[member]
	}
	return out
}

// candidateGlues enumerates every non-empty subsequence of the current
// stack (in stack order) of length >= 2 whose top element is topID, if
// topID != "" (used to scope PendingGlues to one affected tileset);
// if topID == "" every subsequence is returned.
func (s *Storage) candidateGlues(topID string) []GlueID {
	ids := make([]string, len(s.Properties.Tilesets))
	for i, t := range s.Properties.Tilesets {
		ids[i] = t.TilesetID
	}
	var out []GlueID
	n := len(ids)
	for mask := 1; mask < (1 << n); mask++ {
		var members []string
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				members = append(members, ids[i])
			}
		}
		if len(members) < 2 {
			continue
		}
		if topID != "" && members[len(members)-1] != topID {
			continue
		}
		out = append(out, GlueID(members))
	}
	return out
}

func (s *Storage) tagsOf(id string) []string { return s.tags[id] }

// required decides whether a glue is needed by the overlap rule: the
// tiled footprints of all its members pairwise overlap, approximated
// with TileIndex.Intersect over each member's grown sphere-of-
// influence index (spec §4.G).
func (s *Storage) required(g GlueID, memberIndex map[string]*tileindex.Index) bool {
	if len(g) < 2 {
		return false
	}
	for i := 0; i < len(g); i++ {
		for j := i + 1; j < len(g); j++ {
			a, b := memberIndex[g[i]], memberIndex[g[j]]
			if a == nil || b == nil {
				return false
			}
			if _, _, ok := a.Intersect(b).Ranges(0xff); !ok {
				return false
			}
		}
	}
	return true
}

func (s *Storage) satisfiesRules(g GlueID, rules []GlueRule) bool {
	for _, r := range rules {
		if ok, _ := r.Check(g, s.tagsOf); !ok {
			return false
		}
	}
	return true
}

func (s *Storage) glueDirFor(g GlueID) string {
	parts := append([]string{s.root, "glues"}, g...)
	return filepath.Join(parts...)
}

// pendingGluesInvolving returns every GlueID of two or more members
// that includes tilesetID (every such GlueID if tilesetID == ""), is
// not excluded by rules, and whose directory is absent on disk. The
// overlap rule is not applied here; PendingGlues applies it.
func (s *Storage) pendingGluesInvolving(tilesetID string, rules []GlueRule) []GlueID {
	var out []GlueID
	for _, g := range s.candidateGluesWith(tilesetID) {
		if !s.satisfiesRules(g, rules) {
			continue
		}
		if _, err := os.Stat(s.glueDirFor(g)); os.IsNotExist(err) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.CompareGlueOrder(out[i], out[j]) })
	return out
}

func (s *Storage) candidateGluesWith(tilesetID string) []GlueID {
	ids := make([]string, len(s.Properties.Tilesets))
	for i, t := range s.Properties.Tilesets {
		ids[i] = t.TilesetID
	}
	var out []GlueID
	n := len(ids)
	for mask := 1; mask < (1 << n); mask++ {
		var members []string
		found := tilesetID == ""
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				members = append(members, ids[i])
				if ids[i] == tilesetID {
					found = true
				}
			}
		}
		if len(members) < 2 || !found {
			continue
		}
		out = append(out, GlueID(members))
	}
	return out
}

// PendingGlues reports every glue that should exist by the overlap
// rule but whose tileset directory is absent, across the whole
// storage (tilesetID == "") or restricted to glues involving
// tilesetID.
func (s *Storage) PendingGlues(tilesetID string, memberIndex map[string]*tileindex.Index, rules []GlueRule) []GlueID {
	candidates := s.candidateGlues(tilesetID)
	var out []GlueID
	for _, g := range candidates {
		if !s.required(g, memberIndex) {
			continue
		}
		if !s.satisfiesRules(g, rules) {
			continue
		}
		if _, err := os.Stat(s.glueDirFor(g)); os.IsNotExist(err) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.CompareGlueOrder(out[i], out[j]) })
	return out
}

// RegisterGlue records g as generated in its glue directory with the
// given supplements (textual info about which rule relaxations
// applied). Nothing in this package calls it; GenerateGlue records its
// own result.
func (s *Storage) RegisterGlue(g GlueID, supplements []string) error {
	s.Properties.Glues[g.String()] = Glue{ID: g, Path: s.glueDirFor(g), Supplements: supplements}
	s.Properties.Revision++
	return s.writeConfig()
}

// VirtualSurfaceMode selects how createVirtualSurface composes its
// member set.
type VirtualSurfaceMode int

const (
	VirtualSurfaceUnion VirtualSurfaceMode = iota
)

// VirtualSurface is a persisted, named aggregated-driver view over a
// subset of the storage's own member tilesets (spec §4.G
// createVirtualSurface/removeVirtualSurface), grounded on
// vts-libs/vts/storageview.hpp's storage-view record.
type VirtualSurface struct {
	Name    string
	Members []string
	Mode    VirtualSurfaceMode
}

// CreateVirtualSurface registers a named aggregated read-only view over
// the given member tileset ids, persisting it in storage.conf so a
// later OpenVirtualSurface call (in this process or a fresh one) can
// reconstruct it without the caller re-supplying the member list.
func (s *Storage) CreateVirtualSurface(members []string, mode VirtualSurfaceMode, locker StorageLocker) (string, error) {
	if locker != nil {
		if err := locker.Lock(""); err != nil {
			return "", err
		}
		defer locker.Unlock("")
	}
	for _, m := range members {
		if s.indexOf(m) < 0 {
			return "", fmt.Errorf("%w: virtual surface member %q not in storage", vtserror.ErrNoSuchTileSet, m)
		}
	}
	name := "virtual/" + strings.Join(members, "+")
	s.Properties.VirtualSurfaces[name] = VirtualSurface{Name: name, Members: members, Mode: mode}
	s.Properties.Revision++
	return name, s.writeConfig()
}

// RemoveVirtualSurface is CreateVirtualSurface's inverse: it drops the
// persisted record. Virtual surfaces have no tileset directory of
// their own to delete -- only the record that names their members.
func (s *Storage) RemoveVirtualSurface(name string, locker StorageLocker) error {
	if locker != nil {
		if err := locker.Lock(""); err != nil {
			return err
		}
		defer locker.Unlock("")
	}
	if _, ok := s.Properties.VirtualSurfaces[name]; !ok {
		return fmt.Errorf("%w: virtual surface %q", vtserror.ErrNoSuchTileSet, name)
	}
	delete(s.Properties.VirtualSurfaces, name)
	s.Properties.Revision++
	return s.writeConfig()
}

// OpenVirtualSurface opens the aggregated read-only union driver for a
// previously created virtual surface, resolving each member tileset id
// to its on-disk path the same way MapConfig and GenerateGlue do (spec §4.G reading
// a createVirtualSurface result back via the aggregated driver, §4.I).
func (s *Storage) OpenVirtualSurface(name string, boundLayers map[string]registry.BoundLayer) (*aggregated.Driver, error) {
	vs, ok := s.Properties.VirtualSurfaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: virtual surface %q", vtserror.ErrNoSuchTileSet, name)
	}
	members := make([]aggregated.Member, len(vs.Members))
	for i, id := range vs.Members {
		members[i] = aggregated.Member{ID: id, Dir: s.tilesetPath(id)}
	}
	return aggregated.Open(members, s.rf, boundLayers)
}
