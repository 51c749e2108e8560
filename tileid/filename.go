package tileid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadFilename is returned when a tile filename does not match the
// fixed template for any known TileFile kind.
var ErrBadFilename = errors.New("tileid: bad filename")

// TileFile enumerates the kinds of on-disk files addressed by a TileId.
type TileFile int

const (
	FileMesh TileFile = iota
	FileAtlas
	FileNavtile
	FileMeta
	FileMask
	FileMeta2D
	FileOrtho
	FileCredits
)

var extensions = map[TileFile]string{
	FileMesh:    "bin",
	FileAtlas:   "jpg",
	FileNavtile: "nav",
	FileMeta:    "meta",
	FileMask:    "mask",
	FileMeta2D:  "meta2d",
	FileOrtho:   "ortho",
	FileCredits: "credits",
}

var extensionToKind = func() map[string]TileFile {
	m := make(map[string]TileFile, len(extensions))
	for k, v := range extensions {
		m[v] = k
	}
	return m
}()

// Extension returns the fixed file extension for kind.
func (k TileFile) Extension() (string, bool) {
	ext, ok := extensions[k]
	return ext, ok
}

// Filename renders id's filename for kind, optionally suffixed with a
// revision: "<lod>-<x>-<y>.<ext>[.r<revision>]".
func Filename(id ID, kind TileFile, revision int) (string, error) {
	ext, ok := extensions[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown kind %d", ErrBadFilename, kind)
	}
	name := fmt.Sprintf("%d-%d-%d.%s", id.Lod, id.X, id.Y, ext)
	if revision > 0 {
		name = fmt.Sprintf("%s.r%d", name, revision)
	}
	return name, nil
}

// ParseFilename is the strict inverse of Filename: any deviation from
// the "<lod>-<x>-<y>.<ext>[.r<revision>]" template fails with
// ErrBadFilename, matching the archive driver's refusal to tolerate
// loosely-formed names.
func ParseFilename(name string) (ID, TileFile, int, error) {
	rest := name
	revision := 0
	if idx := strings.LastIndex(rest, ".r"); idx >= 0 {
		if rev, err := strconv.Atoi(rest[idx+2:]); err == nil {
			revision = rev
			rest = rest[:idx]
		}
	}

	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return ID{}, 0, 0, fmt.Errorf("%w: %q has no extension", ErrBadFilename, name)
	}
	ext := rest[dot+1:]
	kind, ok := extensionToKind[ext]
	if !ok {
		return ID{}, 0, 0, fmt.Errorf("%w: %q unknown extension %q", ErrBadFilename, name, ext)
	}

	parts := strings.Split(rest[:dot], "-")
	if len(parts) != 3 {
		return ID{}, 0, 0, fmt.Errorf("%w: %q malformed tile stem", ErrBadFilename, name)
	}
	lod, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return ID{}, 0, 0, fmt.Errorf("%w: %q bad lod: %v", ErrBadFilename, name, err)
	}
	x, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return ID{}, 0, 0, fmt.Errorf("%w: %q bad x: %v", ErrBadFilename, name, err)
	}
	y, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return ID{}, 0, 0, fmt.Errorf("%w: %q bad y: %v", ErrBadFilename, name, err)
	}

	return ID{Lod: uint8(lod), X: uint32(x), Y: uint32(y)}, kind, revision, nil
}
