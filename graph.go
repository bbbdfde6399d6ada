package buckal

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rhansen/buckal/internal/itertools"
)

// A TargetKind is one of the kinds cargo reports for a [Target].
type TargetKind string

const (
	KindLib         TargetKind = "lib"
	KindRlib        TargetKind = "rlib"
	KindDylib       TargetKind = "dylib"
	KindCdylib      TargetKind = "cdylib"
	KindStaticlib   TargetKind = "staticlib"
	KindProcMacro   TargetKind = "proc-macro"
	KindBin         TargetKind = "bin"
	KindCustomBuild TargetKind = "custom-build"
	KindTest        TargetKind = "test"
	KindExample     TargetKind = "example"
	KindBench       TargetKind = "bench"
)

// IsLibrary reports whether k is one of the library-like kinds (including proc-macro).
func (k TargetKind) IsLibrary() bool {
	switch k {
	case KindLib, KindRlib, KindDylib, KindCdylib, KindStaticlib, KindProcMacro:
		return true
	}
	return false
}

// A Target is one compilable unit of a [Package].
type Target struct {
	Name  string
	Kinds []TargetKind
	// SrcPath is the absolute path of the entry point (lib.rs, main.rs, build.rs, ...).
	SrcPath string
	Edition string
}

func (t *Target) is(pred func(TargetKind) bool) bool {
	return slices.ContainsFunc(t.Kinds, pred)
}

func (t *Target) IsLibrary() bool { return t.is(TargetKind.IsLibrary) }

func (t *Target) IsProcMacro() bool {
	return slices.Contains(t.Kinds, KindProcMacro)
}

func (t *Target) IsBinary() bool {
	return slices.Contains(t.Kinds, KindBin)
}

func (t *Target) IsBuildScript() bool {
	return slices.Contains(t.Kinds, KindCustomBuild)
}

// CrateName is the target name as the compiler sees it (dashes replaced with underscores).
func (t *Target) CrateName() string {
	return normalizeName(t.Name)
}

func normalizeName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// A Package is one package in the resolved graph, independent of how it was resolved.
type Package struct {
	Id      PackageId
	Name    string
	Version string
	// Source is empty for local packages and otherwise names the registry or git repository the
	// package comes from.
	Source       string
	ManifestPath string
	Edition      string
	// Links is the native library name claimed by the package's build script, if any.
	Links string
	// Description is informational only and never affects regeneration.
	Description string
	Targets     []Target
}

// IsLocal reports whether the package has no registry or git source.
func (p *Package) IsLocal() bool { return p.Source == "" }

// IsGit reports whether the package is fetched from a git repository.
func (p *Package) IsGit() bool { return strings.HasPrefix(p.Source, "git+") }

// Dir returns the directory containing the package manifest.
func (p *Package) Dir() string { return filepath.Dir(p.ManifestPath) }

func (p *Package) String() string { return p.Name + " v" + p.Version }

func (p *Package) targets(pred func(*Target) bool) iter.Seq[*Target] {
	return itertools.Filter(itertools.Pointers(p.Targets), pred)
}

// Libraries returns the package's library-like targets in manifest order.
func (p *Package) Libraries() iter.Seq[*Target] { return p.targets((*Target).IsLibrary) }

// Binaries returns the package's binary targets in manifest order.
func (p *Package) Binaries() iter.Seq[*Target] { return p.targets((*Target).IsBinary) }

// Library returns the primary library-like target: the one named after the package if there is
// one, otherwise the first library-like target.  Returns nil if the package has no library.
func (p *Package) Library() *Target {
	var first *Target
	for t := range p.Libraries() {
		if t.CrateName() == normalizeName(p.Name) {
			return t
		}
		if first == nil {
			first = t
		}
	}
	return first
}

// BuildScript returns the package's build script target or nil.
func (p *Package) BuildScript() *Target {
	for t := range p.targets((*Target).IsBuildScript) {
		return t
	}
	return nil
}

// A DependencyKind says in which compilation a dependency edge is used.
type DependencyKind int

const (
	Normal DependencyKind = iota
	Build
	Dev
)

func (k DependencyKind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Build:
		return "build"
	case Dev:
		return "dev"
	}
	return fmt.Sprintf("DependencyKind(%d)", int(k))
}

// UnmarshalJSON accepts cargo's encoding, where null means a normal dependency.
func (k *DependencyKind) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch {
	case s == nil || *s == "normal":
		*k = Normal
	case *s == "build":
		*k = Build
	case *s == "dev":
		*k = Dev
	default:
		return fmt.Errorf("unknown dependency kind %q", *s)
	}
	return nil
}

// A DepKind is one (kind, platform) pair of a dependency edge.  The same edge may appear with
// several kinds, each optionally gated by its own platform predicate.
type DepKind struct {
	Kind DependencyKind `json:"kind"`
	// Target is the unparsed platform predicate (a target triple or a cfg(...) expression), empty
	// if the edge is active on every platform.
	Target string `json:"target"`
}

// An Edge is a dependency from a [Node] to another package.
type Edge struct {
	// Name is the name under which the dependent refers to the dependency.  It differs from the
	// dependency's crate name when the dependency was renamed in the manifest.
	Name  string
	Pkg   PackageId
	Kinds []DepKind
	to    int
}

// HasKind reports whether e carries the given kind on any platform.
func (e *Edge) HasKind(k DependencyKind) bool {
	return slices.ContainsFunc(e.Kinds, func(dk DepKind) bool { return dk.Kind == k })
}

// A Node is one package as resolved in a specific graph: which features were activated and which
// dependency edges were selected.
type Node struct {
	Id       PackageId
	Features []string
	Deps     []Edge
}

// A Graph is a resolved dependency graph.  Packages and nodes live in arenas and edges refer to
// their target by index, so walking the graph never mutates it.
type Graph struct {
	packages  []Package
	pkgIndex  map[PackageId]int
	nodes     []Node
	nodeIndex map[PackageId]int
	members   []PackageId
	root      PackageId
	// WorkspaceRoot is the directory of the workspace manifest.
	WorkspaceRoot string
}

// NewGraph builds a [Graph] from its parts.  Every node must have a matching package and every
// edge must point at a known package.  root may be empty for a virtual workspace.
func NewGraph(pkgs []Package, nodes []Node, root PackageId, members []PackageId) (*Graph, error) {
	g := &Graph{
		packages:  slices.Clone(pkgs),
		pkgIndex:  make(map[PackageId]int, len(pkgs)),
		nodes:     make([]Node, len(nodes)),
		nodeIndex: make(map[PackageId]int, len(nodes)),
		members:   slices.Clone(members),
		root:      root,
	}
	for i, p := range g.packages {
		if _, dup := g.pkgIndex[p.Id]; dup {
			return nil, fmt.Errorf("%w: duplicate package %v", ErrConfiguration, p.Id)
		}
		g.pkgIndex[p.Id] = i
	}
	for i, n := range nodes {
		if _, ok := g.pkgIndex[n.Id]; !ok {
			return nil, fmt.Errorf("%w: resolved node %v has no package", ErrConfiguration, n.Id)
		}
		if _, dup := g.nodeIndex[n.Id]; dup {
			return nil, fmt.Errorf("%w: duplicate resolved node %v", ErrConfiguration, n.Id)
		}
		n.Features = slices.Clone(n.Features)
		n.Deps = slices.Clone(n.Deps)
		for j := range n.Deps {
			to, ok := g.pkgIndex[n.Deps[j].Pkg]
			if !ok {
				return nil, fmt.Errorf("%w: %v depends on unknown package %v",
					ErrConfiguration, n.Id, n.Deps[j].Pkg)
			}
			n.Deps[j].to = to
		}
		g.nodes[i] = n
		g.nodeIndex[n.Id] = i
	}
	for _, m := range slices.Concat([]PackageId{root}, members) {
		if m == "" {
			continue
		}
		if _, ok := g.nodeIndex[m]; !ok {
			return nil, fmt.Errorf("%w: workspace member %v is not resolved", ErrConfiguration, m)
		}
	}
	return g, nil
}

// Root returns the id of the root package, or "" for a virtual workspace.
func (g *Graph) Root() PackageId { return g.root }

// Members returns the workspace members.
func (g *Graph) Members() []PackageId { return slices.Clone(g.members) }

// IsMember reports whether id is the root or a workspace member.
func (g *Graph) IsMember(id PackageId) bool {
	return id != "" && (id == g.root || slices.Contains(g.members, id))
}

// Package returns the package with the given id, or nil.
func (g *Graph) Package(id PackageId) *Package {
	i, ok := g.pkgIndex[id]
	if !ok {
		return nil
	}
	return &g.packages[i]
}

// Node returns the resolved node with the given id, or nil.
func (g *Graph) Node(id PackageId) *Node {
	i, ok := g.nodeIndex[id]
	if !ok {
		return nil
	}
	return &g.nodes[i]
}

// Target returns the package an edge points at.
func (g *Graph) Target(e *Edge) *Package {
	return &g.packages[e.to]
}

// Nodes returns every resolved node ordered by [PackageIdCompare].
func (g *Graph) Nodes() iter.Seq[*Node] {
	ids := slices.SortedFunc(maps.Keys(g.nodeIndex), PackageIdCompare)
	return itertools.Map(slices.Values(ids), g.Node)
}

// Len returns the number of resolved nodes.
func (g *Graph) Len() int { return len(g.nodes) }
