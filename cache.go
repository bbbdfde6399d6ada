package buckal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/renameio/v2"
	"github.com/rhansen/buckal/internal/itertools"
)

// CacheVersion is the schema version of the persisted [Cache].  A cache file with any other version
// is ignored.
const CacheVersion = 1

// CachePath returns the location of the cache file for the build-system root dir.
func CachePath(root string) string {
	return filepath.Join(root, ".buckal", "cache.cbor")
}

// A Cache maps every resolved package to the [Fingerprint] its node had when its output was last
// generated.  It is the only state (besides the generated files) that outlives an invocation.
type Cache struct {
	Version      uint32                    `cbor:"1,keyasint"`
	Fingerprints map[PackageId]Fingerprint `cbor:"2,keyasint"`
}

// EmptyCache returns a cache with no entries.  Diffing against it marks every package as added.
func EmptyCache() *Cache {
	return &Cache{Version: CacheVersion, Fingerprints: map[PackageId]Fingerprint{}}
}

// NewCache fingerprints every node in g.
func NewCache(g *Graph) *Cache {
	c := EmptyCache()
	for n := range g.Nodes() {
		c.Fingerprints[n.Id] = n.Fingerprint()
	}
	return c
}

// LoadCache reads the cache file at path.  A missing, unreadable, corrupt or version-mismatched
// file is not an error: it is logged and an empty cache is returned, which only causes a full
// regeneration.
func LoadCache(ctx context.Context, path string) *Cache {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.DebugContext(ctx, "no cache file", "path", path)
		return EmptyCache()
	} else if err != nil {
		slog.WarnContext(ctx, "ignoring unreadable cache", "path", path, "error", err)
		return EmptyCache()
	}
	var hdr struct {
		Version uint32 `cbor:"1,keyasint"`
	}
	if err := cbor.Unmarshal(data, &hdr); err != nil {
		slog.WarnContext(ctx, "ignoring corrupt cache", "path", path, "error", err)
		return EmptyCache()
	}
	if hdr.Version != CacheVersion {
		slog.InfoContext(ctx, "ignoring cache with a different schema version",
			"path", path, "got", hdr.Version, "want", CacheVersion)
		return EmptyCache()
	}
	c := &Cache{}
	if err := cbor.Unmarshal(data, c); err != nil {
		slog.WarnContext(ctx, "ignoring corrupt cache", "path", path, "error", err)
		return EmptyCache()
	}
	if c.Fingerprints == nil {
		c.Fingerprints = map[PackageId]Fingerprint{}
	}
	slog.DebugContext(ctx, "loaded cache", "path", path, "entries", len(c.Fingerprints))
	return c
}

// Save replaces the cache file at path with c.  The file is written to a temporary name and
// renamed into place.
func (c *Cache) Save(path string) error {
	data, err := fingerprintEncMode.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o666); err != nil {
		return fmt.Errorf("failed to write cache %s: %w", path, err)
	}
	return nil
}

// Len returns the number of entries.
func (c *Cache) Len() int { return len(c.Fingerprints) }

// A ChangeKind classifies a package id in [Changes].
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Added
	Changed
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Changes partitions the package ids that differ between two caches.  Each list is sorted with
// [PackageIdCompare].
type Changes struct {
	Added   []PackageId
	Changed []PackageId
	Removed []PackageId
}

// Diff compares a freshly computed cache against the previous one.  Every id in the union of the
// two key sets lands in exactly one of Added, Changed, Removed, or (if its fingerprint is equal in
// both) none of them.
func Diff(newC, oldC *Cache) Changes {
	var ch Changes
	for id, fp := range newC.Fingerprints {
		oldFp, ok := oldC.Fingerprints[id]
		switch {
		case !ok:
			ch.Added = append(ch.Added, id)
		case oldFp != fp:
			ch.Changed = append(ch.Changed, id)
		}
	}
	for id := range oldC.Fingerprints {
		if _, ok := newC.Fingerprints[id]; !ok {
			ch.Removed = append(ch.Removed, id)
		}
	}
	slices.SortFunc(ch.Added, PackageIdCompare)
	slices.SortFunc(ch.Changed, PackageIdCompare)
	slices.SortFunc(ch.Removed, PackageIdCompare)
	return ch
}

// Len returns the number of changed package ids.
func (ch Changes) Len() int { return len(ch.Added) + len(ch.Changed) + len(ch.Removed) }

// Empty reports whether nothing changed.
func (ch Changes) Empty() bool { return ch.Len() == 0 }

// Kind returns how id changed.
func (ch Changes) Kind(id PackageId) ChangeKind {
	for k, ids := range ch.groups() {
		if slices.Contains(ids, id) {
			return k
		}
	}
	return Unchanged
}

func (ch Changes) groups() iter.Seq2[ChangeKind, []PackageId] {
	return maps.All(map[ChangeKind][]PackageId{Added: ch.Added, Changed: ch.Changed, Removed: ch.Removed})
}

// Regenerate returns the ids that need compiling (added, then changed), in processing order.
func (ch Changes) Regenerate() []PackageId {
	return slices.Collect(itertools.Cat(slices.Values(ch.Added), slices.Values(ch.Changed)))
}
