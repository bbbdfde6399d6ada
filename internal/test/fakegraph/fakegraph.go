// Package fakegraph makes it easy to create fake cargo workspaces, described the way `cargo metadata`
// would report them, to facilitate testing.
//
// Packages are identified by "name@version" keys.  Dependencies may refer to packages that are
// added later; they are only resolved when the metadata is produced.
package fakegraph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/rhansen/buckal"
)

const registrySource = "registry+https://github.com/rust-lang/crates.io-index"

type dep struct {
	key    string
	rename string
	kinds  []buckal.DepKind
}

type config struct {
	name, version string
	source        string
	dir           string
	edition       string
	links         string
	description   string
	targets       []buckal.Target
	features      []string
	deps          []dep
	checksum      string
	noChecksum    bool
}

func (cfg *config) key() string { return cfg.name + "@" + cfg.version }

func (cfg *config) id() buckal.PackageId {
	if cfg.source == "" {
		return buckal.PackageId("path+file://" + filepath.ToSlash(cfg.dir) + "#" + cfg.key())
	}
	return buckal.PackageId(cfg.source + "#" + cfg.key())
}

func (cfg *config) addTarget(name string, kind buckal.TargetKind, rel string) {
	cfg.targets = append(cfg.targets, buckal.Target{
		Name:    name,
		Kinds:   []buckal.TargetKind{kind},
		SrcPath: filepath.Join(cfg.dir, filepath.FromSlash(rel)),
	})
}

// An Option controls the creation of a fake package.
type Option func(*config) error

// Lib adds a library target named after the package.
func Lib() Option {
	return func(cfg *config) error {
		cfg.addTarget(cfg.name, buckal.KindLib, "src/lib.rs")
		return nil
	}
}

// ProcMacro adds a proc-macro library target named after the package.
func ProcMacro() Option {
	return func(cfg *config) error {
		cfg.addTarget(cfg.name, buckal.KindProcMacro, "src/lib.rs")
		return nil
	}
}

// Bin adds a binary target.  A binary named after the package lives in src/main.rs, others in
// src/bin.
func Bin(name string) Option {
	return func(cfg *config) error {
		rel := "src/bin/" + name + ".rs"
		if name == cfg.name {
			rel = "src/main.rs"
		}
		cfg.addTarget(name, buckal.KindBin, rel)
		return nil
	}
}

// BuildScript adds a build script target.
func BuildScript() Option {
	return func(cfg *config) error {
		cfg.addTarget("build-script-build", buckal.KindCustomBuild, "build.rs")
		return nil
	}
}

// Target adds an arbitrary target whose entry point is rel, relative to the package directory.
func Target(name string, kind buckal.TargetKind, rel string) Option {
	return func(cfg *config) error {
		cfg.addTarget(name, kind, rel)
		return nil
	}
}

// Links sets the native library the package claims.
func Links(name string) Option {
	return func(cfg *config) error {
		cfg.links = name
		return nil
	}
}

// Edition sets the package's edition.  The default is "2021".
func Edition(edition string) Option {
	return func(cfg *config) error {
		cfg.edition = edition
		return nil
	}
}

// Description sets the package's description.
func Description(desc string) Option {
	return func(cfg *config) error {
		cfg.description = desc
		return nil
	}
}

// Features sets the features activated for the package.
func Features(features ...string) Option {
	return func(cfg *config) error {
		cfg.features = features
		return nil
	}
}

// Normal returns a normal dependency kind, active on the given platform predicate if non-empty.
func Normal(platform string) buckal.DepKind { return buckal.DepKind{Kind: buckal.Normal, Target: platform} }

// Build returns a build dependency kind, active on the given platform predicate if non-empty.
func Build(platform string) buckal.DepKind { return buckal.DepKind{Kind: buckal.Build, Target: platform} }

// Dev returns a dev dependency kind, active on the given platform predicate if non-empty.
func Dev(platform string) buckal.DepKind { return buckal.DepKind{Kind: buckal.Dev, Target: platform} }

// Dep adds a dependency on the package with the given "name@version" key.  Without kinds the
// dependency is a normal one on every platform.
func Dep(key string, kinds ...buckal.DepKind) Option {
	return RenamedDep(key, "", kinds...)
}

// RenamedDep is like [Dep] but the dependent refers to the dependency as rename.
func RenamedDep(key, rename string, kinds ...buckal.DepKind) Option {
	return func(cfg *config) error {
		if !strings.Contains(key, "@") {
			return fmt.Errorf("dependency key %q is not of the form name@version", key)
		}
		if len(kinds) == 0 {
			kinds = []buckal.DepKind{Normal("")}
		}
		cfg.deps = append(cfg.deps, dep{key: key, rename: rename, kinds: kinds})
		return nil
	}
}

// Checksum overrides the lock file checksum of a registry package.  By default a checksum is
// derived from the package key.
func Checksum(sum string) Option {
	return func(cfg *config) error {
		cfg.checksum = sum
		return nil
	}
}

// NoChecksum leaves the package out of the lock file checksums.
func NoChecksum() Option {
	return func(cfg *config) error {
		cfg.noChecksum = true
		return nil
	}
}

// Git makes the package come from a git repository at the given commit.  subdir is the package's
// directory within the repository.
func Git(repo, rev, subdir string) Option {
	return func(cfg *config) error {
		if len(rev) < 7 {
			return fmt.Errorf("git revision %q is too short", rev)
		}
		cfg.source = "git+" + repo + "#" + rev
		cfg.dir = filepath.Join(filepath.Dir(cfg.dir), "git", "checkouts",
			filepath.Base(repo)+"-0123456789abcdef", rev[:7], filepath.FromSlash(subdir))
		cfg.checksum = ""
		cfg.noChecksum = true
		return nil
	}
}

// A FakeWorkspace is a set of fake packages rooted at a directory.  Local packages live in the
// directory; registry packages live in a fake cargo home below it.
type FakeWorkspace struct {
	Dir     string
	pkgs    []*config
	keys    map[string]*config
	root    string
	members []string
}

// NewFakeWorkspace returns an empty workspace in dir, which must be absolute.
func NewFakeWorkspace(dir string) *FakeWorkspace {
	if !filepath.IsAbs(dir) {
		panic(fmt.Errorf("workspace directory is not absolute: %v", dir))
	}
	return &FakeWorkspace{Dir: dir, keys: map[string]*config{}}
}

func (ws *FakeWorkspace) add(key, source, dir string, opts ...Option) (*config, error) {
	name, version, ok := strings.Cut(key, "@")
	if !ok || name == "" || version == "" {
		return nil, fmt.Errorf("package key %q is not of the form name@version", key)
	}
	if _, dup := ws.keys[key]; dup {
		return nil, fmt.Errorf("duplicate package %v", key)
	}
	cfg := &config{name: name, version: version, source: source, dir: dir, edition: "2021"}
	if source != "" {
		sum := sha256.Sum256([]byte(key))
		cfg.checksum = hex.EncodeToString(sum[:])
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	ws.pkgs = append(ws.pkgs, cfg)
	ws.keys[key] = cfg
	return cfg, nil
}

// Registry adds a package downloaded from crates.io.
func (ws *FakeWorkspace) Registry(key string, opts ...Option) error {
	name, version, _ := strings.Cut(key, "@")
	dir := filepath.Join(ws.Dir, ".cargo", "registry", "src", "index.crates.io-1949cf8c6b5b557f",
		name+"-"+version)
	_, err := ws.add(key, registrySource, dir, opts...)
	return err
}

// Root adds the root package of the workspace, whose manifest is in [FakeWorkspace.Dir].
func (ws *FakeWorkspace) Root(key string, opts ...Option) error {
	if ws.root != "" {
		return fmt.Errorf("workspace already has root %v", ws.root)
	}
	if _, err := ws.add(key, "", ws.Dir, opts...); err != nil {
		return err
	}
	ws.root = key
	ws.members = append(ws.members, key)
	return nil
}

// Member adds a workspace member in a subdirectory named after the package.
func (ws *FakeWorkspace) Member(key string, opts ...Option) error {
	if err := ws.Path(key, opts...); err != nil {
		return err
	}
	ws.members = append(ws.members, key)
	return nil
}

// Path adds a local package that is not a workspace member, in a subdirectory named after the
// package.
func (ws *FakeWorkspace) Path(key string, opts ...Option) error {
	name, _, _ := strings.Cut(key, "@")
	_, err := ws.add(key, "", filepath.Join(ws.Dir, name), opts...)
	return err
}

// Id returns the package id of the package with the given key.
func (ws *FakeWorkspace) Id(key string) (buckal.PackageId, error) {
	cfg, ok := ws.keys[key]
	if !ok {
		return "", fmt.Errorf("unknown package %v", key)
	}
	return cfg.id(), nil
}

// ManifestDir returns the directory of the package with the given key.
func (ws *FakeWorkspace) ManifestDir(key string) (string, error) {
	cfg, ok := ws.keys[key]
	if !ok {
		return "", fmt.Errorf("unknown package %v", key)
	}
	return cfg.dir, nil
}

// Update replaces the options of an existing package, keeping its kind and location.
func (ws *FakeWorkspace) Update(key string, opts ...Option) error {
	old, ok := ws.keys[key]
	if !ok {
		return fmt.Errorf("unknown package %v", key)
	}
	delete(ws.keys, key)
	i := slices.Index(ws.pkgs, old)
	ws.pkgs = slices.Delete(ws.pkgs, i, i+1)
	cfg, err := ws.add(key, old.source, old.dir, opts...)
	if err != nil {
		return err
	}
	// Keep the original position so the metadata order is stable.
	ws.pkgs = slices.Insert(ws.pkgs[:len(ws.pkgs)-1], i, cfg)
	return nil
}

// Remove deletes a package.  Packages depending on it must be updated first.
func (ws *FakeWorkspace) Remove(key string) error {
	cfg, ok := ws.keys[key]
	if !ok {
		return fmt.Errorf("unknown package %v", key)
	}
	delete(ws.keys, key)
	ws.pkgs = slices.DeleteFunc(ws.pkgs, func(c *config) bool { return c == cfg })
	ws.members = slices.DeleteFunc(ws.members, func(m string) bool { return m == key })
	if ws.root == key {
		ws.root = ""
	}
	return nil
}

type metaTarget struct {
	Name    string   `json:"name"`
	Kind    []string `json:"kind"`
	SrcPath string   `json:"src_path"`
	Edition string   `json:"edition"`
}

type metaPackage struct {
	Id           buckal.PackageId `json:"id"`
	Name         string           `json:"name"`
	Version      string           `json:"version"`
	Source       *string          `json:"source"`
	ManifestPath string           `json:"manifest_path"`
	Edition      string           `json:"edition"`
	Links        *string          `json:"links"`
	Description  *string          `json:"description"`
	Targets      []metaTarget     `json:"targets"`
}

type metaDepKind struct {
	Kind   *string `json:"kind"`
	Target *string `json:"target"`
}

type metaDep struct {
	Name     string           `json:"name"`
	Pkg      buckal.PackageId `json:"pkg"`
	DepKinds []metaDepKind    `json:"dep_kinds"`
}

type metaNode struct {
	Id       buckal.PackageId `json:"id"`
	Deps     []metaDep        `json:"deps"`
	Features []string         `json:"features"`
}

type metadata struct {
	Packages         []metaPackage      `json:"packages"`
	WorkspaceMembers []buckal.PackageId `json:"workspace_members"`
	Resolve          struct {
		Nodes []metaNode        `json:"nodes"`
		Root  *buckal.PackageId `json:"root"`
	} `json:"resolve"`
	WorkspaceRoot string `json:"workspace_root"`
	Version       int    `json:"version"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Metadata returns the workspace as `cargo metadata --format-version 1` would print it.
func (ws *FakeWorkspace) Metadata() ([]byte, error) {
	md := metadata{WorkspaceRoot: ws.Dir, Version: 1}
	for _, cfg := range ws.pkgs {
		mp := metaPackage{
			Id:           cfg.id(),
			Name:         cfg.name,
			Version:      cfg.version,
			Source:       optional(cfg.source),
			ManifestPath: filepath.Join(cfg.dir, "Cargo.toml"),
			Edition:      cfg.edition,
			Links:        optional(cfg.links),
			Description:  optional(cfg.description),
			Targets:      []metaTarget{},
		}
		for _, t := range cfg.targets {
			kinds := make([]string, 0, len(t.Kinds))
			for _, k := range t.Kinds {
				kinds = append(kinds, string(k))
			}
			mp.Targets = append(mp.Targets, metaTarget{
				Name:    t.Name,
				Kind:    kinds,
				SrcPath: t.SrcPath,
				Edition: cfg.edition,
			})
		}
		md.Packages = append(md.Packages, mp)
		mn := metaNode{Id: cfg.id(), Deps: []metaDep{}, Features: slices.Clone(cfg.features)}
		if mn.Features == nil {
			mn.Features = []string{}
		}
		for _, d := range cfg.deps {
			to, ok := ws.keys[d.key]
			if !ok {
				return nil, fmt.Errorf("%v depends on unknown package %v", cfg.key(), d.key)
			}
			name := d.rename
			if name == "" {
				name = strings.ReplaceAll(to.name, "-", "_")
			}
			md2 := metaDep{Name: name, Pkg: to.id()}
			for _, k := range d.kinds {
				var kind *string
				if k.Kind != buckal.Normal {
					kind = optional(k.Kind.String())
				}
				md2.DepKinds = append(md2.DepKinds, metaDepKind{Kind: kind, Target: optional(k.Target)})
			}
			mn.Deps = append(mn.Deps, md2)
		}
		md.Resolve.Nodes = append(md.Resolve.Nodes, mn)
	}
	for _, key := range ws.members {
		md.WorkspaceMembers = append(md.WorkspaceMembers, ws.keys[key].id())
	}
	if ws.root != "" {
		id := ws.keys[ws.root].id()
		md.Resolve.Root = &id
	}
	return json.MarshalIndent(&md, "", "  ")
}

// Graph parses [FakeWorkspace.Metadata] into a graph.
func (ws *FakeWorkspace) Graph() (*buckal.Graph, error) {
	data, err := ws.Metadata()
	if err != nil {
		return nil, err
	}
	return buckal.ParseMetadata(data)
}

// Checksums returns the registry checksums keyed by [buckal.ChecksumKey].
func (ws *FakeWorkspace) Checksums() map[string]string {
	sums := map[string]string{}
	for _, cfg := range ws.pkgs {
		if cfg.source != "" && !cfg.noChecksum {
			sums[buckal.ChecksumKey(cfg.name, cfg.version)] = cfg.checksum
		}
	}
	return sums
}

type lockPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source,omitempty"`
	Checksum     string   `toml:"checksum,omitempty"`
	Dependencies []string `toml:"dependencies,omitempty"`
}

// WriteLockfile writes a Cargo.lock for the workspace to [FakeWorkspace.Dir].
func (ws *FakeWorkspace) WriteLockfile() (retErr error) {
	lf := struct {
		Version  int           `toml:"version"`
		Packages []lockPackage `toml:"package"`
	}{Version: 4}
	for _, cfg := range ws.pkgs {
		lp := lockPackage{Name: cfg.name, Version: cfg.version, Source: cfg.source}
		if cfg.source != "" && !cfg.noChecksum {
			lp.Checksum = cfg.checksum
		}
		for _, d := range cfg.deps {
			lp.Dependencies = append(lp.Dependencies, strings.ReplaceAll(d.key, "@", " "))
		}
		lf.Packages = append(lf.Packages, lp)
	}
	if err := os.MkdirAll(ws.Dir, 0o777); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(ws.Dir, "Cargo.lock"))
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); retErr == nil {
			retErr = err
		}
	}()
	return toml.NewEncoder(f).Encode(&lf)
}

// A TestFakeWorkspace is like [FakeWorkspace] but with a more ergonomic interface meant for unit
// tests.
type TestFakeWorkspace struct {
	FakeWorkspace
	t *testing.T
}

// NewTestFakeWorkspace returns an empty workspace in a temporary directory.
func NewTestFakeWorkspace(t *testing.T) *TestFakeWorkspace {
	t.Helper()
	return &TestFakeWorkspace{FakeWorkspace: *NewFakeWorkspace(t.TempDir()), t: t}
}

func (ws *TestFakeWorkspace) check(err error) {
	ws.t.Helper()
	if err != nil {
		ws.t.Fatal(err)
	}
}

func (ws *TestFakeWorkspace) Registry(key string, opts ...Option) *TestFakeWorkspace {
	ws.t.Helper()
	ws.check(ws.FakeWorkspace.Registry(key, opts...))
	return ws
}

func (ws *TestFakeWorkspace) Root(key string, opts ...Option) *TestFakeWorkspace {
	ws.t.Helper()
	ws.check(ws.FakeWorkspace.Root(key, opts...))
	return ws
}

func (ws *TestFakeWorkspace) Member(key string, opts ...Option) *TestFakeWorkspace {
	ws.t.Helper()
	ws.check(ws.FakeWorkspace.Member(key, opts...))
	return ws
}

func (ws *TestFakeWorkspace) Path(key string, opts ...Option) *TestFakeWorkspace {
	ws.t.Helper()
	ws.check(ws.FakeWorkspace.Path(key, opts...))
	return ws
}

func (ws *TestFakeWorkspace) Update(key string, opts ...Option) *TestFakeWorkspace {
	ws.t.Helper()
	ws.check(ws.FakeWorkspace.Update(key, opts...))
	return ws
}

func (ws *TestFakeWorkspace) Remove(key string) *TestFakeWorkspace {
	ws.t.Helper()
	ws.check(ws.FakeWorkspace.Remove(key))
	return ws
}

func (ws *TestFakeWorkspace) Id(key string) buckal.PackageId {
	ws.t.Helper()
	id, err := ws.FakeWorkspace.Id(key)
	ws.check(err)
	return id
}

func (ws *TestFakeWorkspace) ManifestDir(key string) string {
	ws.t.Helper()
	dir, err := ws.FakeWorkspace.ManifestDir(key)
	ws.check(err)
	return dir
}

func (ws *TestFakeWorkspace) Metadata() []byte {
	ws.t.Helper()
	data, err := ws.FakeWorkspace.Metadata()
	ws.check(err)
	return data
}

func (ws *TestFakeWorkspace) Graph() *buckal.Graph {
	ws.t.Helper()
	g, err := ws.FakeWorkspace.Graph()
	ws.check(err)
	return g
}

func (ws *TestFakeWorkspace) WriteLockfile() *TestFakeWorkspace {
	ws.t.Helper()
	ws.check(ws.FakeWorkspace.WriteLockfile())
	return ws
}
