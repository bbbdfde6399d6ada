package buckal

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/renameio/v2"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/rhansen/buckal/internal/command"
	"github.com/rhansen/buckal/internal/logging"
	"github.com/rhansen/buckal/rule"
)

// A Project is everything a [Sync] needs to know about the repository being generated for.
type Project struct {
	// Root is the build-system root directory.
	Root      string
	Config    Config
	Graph     *Graph
	Checksums map[string]string
	Platform  PlatformContext
	Resolver  TargetResolver
}

// LoadOptions controls [LoadProject].
type LoadOptions struct {
	// Root is the build-system root directory.  If empty, buck2 is asked for the project root of
	// the current directory.
	Root string
	// ManifestPath is the Cargo.toml of the workspace.  If empty, cargo looks for it starting in
	// the current directory.
	ManifestPath string
	// Target overrides the platform dependency edges are evaluated against.  If empty, the
	// configured target or else the host platform is used.
	Target string
	// Buck2 is the buck2 executable.  It is used to find the project root, before
	// [ConfigFileName] is read, and overrides [Config.Buck2].
	Buck2 string
}

// LoadProject gathers the inputs of a run: the build-system root, the configuration, the resolved
// graph from `cargo metadata`, the lock file checksums and the target platform.
func LoadProject(ctx context.Context, opts LoadOptions) (*Project, error) {
	root := opts.Root
	if root == "" {
		out, err := command.Output(ctx, "", cmp.Or(opts.Buck2, DefaultConfig().Buck2), "root", "--kind", "project")
		if err != nil {
			return nil, fmt.Errorf("%w: failed to locate the buck2 project root: %w", ErrSubprocess, err)
		}
		root = strings.TrimSpace(string(out))
	}
	cfg, err := LoadConfig(root)
	if err != nil {
		return nil, err
	}
	cfg.Buck2 = cmp.Or(opts.Buck2, cfg.Buck2)
	g, err := LoadMetadata(ctx, cfg.Cargo, opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	sums, err := LoadChecksums(filepath.Join(g.WorkspaceRoot, "Cargo.lock"))
	if err != nil {
		return nil, err
	}
	pc, err := HostPlatform(ctx, cfg.Rustc, cmp.Or(opts.Target, cfg.Target))
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "loaded project", "root", root, "triple", pc.Triple, "packages", g.Len())
	return &Project{
		Root:      root,
		Config:    cfg,
		Graph:     g,
		Checksums: sums,
		Platform:  pc,
		Resolver:  NewBuck2Resolver(cfg.Buck2, root),
	}, nil
}

// SyncOptions controls [Sync].
type SyncOptions struct {
	// Force ignores the cache and regenerates every package.
	Force bool
	// DryRun prints what would change to Out as unified diffs without touching the filesystem.
	DryRun bool
	// NoMerge overwrites existing files instead of merging manual edits from them.
	NoMerge bool
	Out     io.Writer
}

// staged is the output of one package, computed before anything is written.
type staged struct {
	pkg   *Package
	kind  ChangeKind
	path  string
	rules []rule.Rule
	old   string
	text  string
}

// Sync brings the generated files up to date with the project's graph.  Packages whose node
// fingerprint differs from the cached one are compiled, merged with the manual edits in their
// existing file and rewritten; packages that left the graph have their output removed.  Every
// selected package is compiled before the first file is touched, and the cache is saved only after
// every file was written, so a failed run is retried in full by the next one.
func Sync(ctx context.Context, p *Project, opts SyncOptions) (Changes, error) {
	cachePath := CachePath(p.Root)
	oldC := EmptyCache()
	if !opts.Force {
		oldC = LoadCache(ctx, cachePath)
	}
	newC := NewCache(p.Graph)
	ch := Diff(newC, oldC)
	slog.DebugContext(ctx, "computed changes",
		"added", len(ch.Added), "changed", len(ch.Changed), "removed", len(ch.Removed))

	gen := &generatedResolver{generated: MapResolver{}, next: p.Resolver}
	c := &Compiler{
		Graph:     p.Graph,
		Platform:  p.Platform,
		Checksums: p.Checksums,
		Resolver:  gen,
		Config:    p.Config,
		Root:      p.Root,
	}
	live, err := liveCratePaths(c)
	if err != nil {
		return ch, err
	}
	mp := mergePolicy{skip: opts.NoMerge || p.Config.NoMerge, live: live, cratesRoot: p.Config.CratesRoot}
	if len(p.Config.PatchFields) > 0 {
		mp.fields = rule.NewSet(p.Config.PatchFields...)
	}

	order, err := compileOrder(ctx, p.Graph, ch.Regenerate())
	if err != nil {
		return ch, err
	}
	var outputs []staged
	written := mapset.NewThreadUnsafeSet[string]()
	for _, id := range order {
		pkg := p.Graph.Package(id)
		s, err := stage(ctx, c, pkg, ch.Kind(id), mp)
		if err != nil {
			return ch, err
		}
		if pkg.IsLocal() {
			if err := gen.record(c, pkg, s); err != nil {
				return ch, err
			}
		}
		outputs = append(outputs, s)
		written.Add(s.path)
	}

	for _, id := range ch.Removed {
		if err := removeOutput(ctx, c, id, written, opts); err != nil {
			return ch, err
		}
	}
	for _, s := range outputs {
		if err := writeOutput(ctx, s, opts); err != nil {
			return ch, err
		}
	}
	if opts.DryRun {
		logging.Status(ctx, logging.Finished, "dry run: %s", summary(ch))
		return ch, nil
	}
	if err := newC.Save(cachePath); err != nil {
		return ch, err
	}
	logging.Status(ctx, logging.Finished, "%s", summary(ch))
	return ch, nil
}

func summary(ch Changes) string {
	if ch.Empty() {
		return "nothing to do"
	}
	return fmt.Sprintf("%d added, %d updated, %d removed", len(ch.Added), len(ch.Changed), len(ch.Removed))
}

// compileOrder returns ids in the order they must be compiled: local packages first, each after the
// local packages it depends on (their labels are looked up while compiling), then the rest in their
// original order.
func compileOrder(ctx context.Context, g *Graph, ids []PackageId) ([]PackageId, error) {
	var local, other []PackageId
	for _, id := range ids {
		if p := g.Package(id); p == nil {
			return nil, fmt.Errorf("%w: package %v is not in the resolved graph", ErrConfiguration, id)
		} else if p.IsLocal() {
			local = append(local, id)
		} else {
			other = append(other, id)
		}
	}
	selected := mapset.NewThreadUnsafeSet(local...)
	edges := func(id PackageId) iter.Seq[PackageId] {
		return func(yield func(PackageId) bool) {
			for _, e := range g.Node(id).Deps {
				if dep := g.Target(&e); dep.IsLocal() && (e.HasKind(Normal) || e.HasKind(Build)) {
					if !yield(dep.Id) {
						return
					}
				}
			}
		}
	}
	order := make([]PackageId, 0, len(ids))
	seq, errFn := postorder(ctx, slices.Values(local), edges)
	for id := range seq {
		if selected.Contains(id) {
			order = append(order, id)
		}
	}
	if err := errFn(); err != nil {
		return nil, err
	}
	return append(order, other...), nil
}

// mergePolicy says how compiled rules are merged with an existing file.
type mergePolicy struct {
	skip   bool
	fields mapset.Set[string]
	// live holds the buck2 package paths under cratesRoot that belong to the current graph.
	live       mapset.Set[string]
	cratesRoot string
}

// stale reports whether label points into a generated third-party package that is no longer in
// the graph.
func (mp *mergePolicy) stale(label string) bool {
	pkg, _, _ := strings.Cut(label, ":")
	return strings.HasPrefix(pkg, "//"+mp.cratesRoot+"/") && !mp.live.Contains(pkg)
}

// dropStaleLabels removes the dependencies on packages that left the graph from existing rules,
// so that merging does not bring them back after their directories were deleted.
func (mp *mergePolicy) dropStaleLabels(ctx context.Context, existing []rule.Rule) {
	drop := func(r rule.Rule, s mapset.Set[string]) {
		if s == nil {
			return
		}
		for _, l := range s.ToSlice() {
			if mp.stale(l) {
				slog.DebugContext(ctx, "dropping stale label", "rule", r.RuleName(), "label", l)
				s.Remove(l)
			}
		}
	}
	for _, r := range existing {
		switch r := r.(type) {
		case rule.CargoRule:
			a := r.Cargo()
			drop(r, a.Deps)
			maps.DeleteFunc(a.NamedDeps, func(_, l string) bool { return mp.stale(l) })
		case *rule.BuildscriptRun:
			drop(r, r.EnvSrcs)
		}
	}
}

// liveCratePaths returns the buck2 package paths of the third-party packages in c's graph.
func liveCratePaths(c *Compiler) (mapset.Set[string], error) {
	live := mapset.NewThreadUnsafeSet[string]()
	for n := range c.Graph.Nodes() {
		p := c.Graph.Package(n.Id)
		if p.IsLocal() {
			continue
		}
		prefix, err := c.labelPrefix(p)
		if err != nil {
			return nil, err
		}
		live.Add(prefix)
	}
	return live, nil
}

// stage compiles pkg and merges the result with its existing file.
func stage(ctx context.Context, c *Compiler, pkg *Package, kind ChangeKind, mp mergePolicy) (staged, error) {
	s := staged{pkg: pkg, kind: kind, path: c.BuckFile(pkg)}
	rules, err := c.Compile(ctx, pkg.Id)
	if err != nil {
		return s, err
	}
	old, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return s, err
	}
	s.old = string(old)
	if err == nil && !mp.skip {
		existing, err := rule.Parse(s.path, old)
		if err != nil {
			return s, fmt.Errorf("%v: refusing to overwrite manual edits: %w", pkg, err)
		}
		mp.dropStaleLabels(ctx, existing)
		rule.Patch(rules, existing, mp.fields)
	}
	s.rules = rules
	s.text = rule.Render(rules)
	return s, nil
}

func writeOutput(ctx context.Context, s staged, opts SyncOptions) error {
	verb := logging.Adding
	if s.kind == Changed {
		verb = logging.Updating
	}
	logging.Status(ctx, verb, "%v", s.pkg)
	if opts.DryRun {
		printDiff(opts.Out, s.path, s.old, s.text)
		return nil
	}
	if s.old == s.text {
		slog.DebugContext(ctx, "output unchanged", "path", s.path)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o777); err != nil {
		return err
	}
	if err := renameio.WriteFile(s.path, []byte(s.text), 0o666); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}

// removeOutput deletes the output of a package that is no longer in the graph: the whole generated
// directory of a registry or git package, or just the generated file of a local package.  Paths in
// keep are being regenerated by another package and are left alone.
func removeOutput(ctx context.Context, c *Compiler, id PackageId, keep mapset.Set[string], opts SyncOptions) error {
	ref, err := ParsePackageId(id)
	if err != nil {
		slog.WarnContext(ctx, "cannot remove the output of an unparsable package id", "id", id, "error", err)
		return nil
	}
	if ref.IsLocal() {
		dir := ref.Dir()
		if dir == "" {
			slog.WarnContext(ctx, "cannot locate removed local package", "id", id)
			return nil
		}
		path := filepath.Join(dir, BuckFileName)
		if keep.Contains(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		if !strings.HasPrefix(string(data), rule.Marker) {
			logging.Status(ctx, logging.Skipping, "%v (%s was not generated)", ref, path)
			return nil
		}
		logging.Status(ctx, logging.Removing, "%v", ref)
		if opts.DryRun {
			printDiff(opts.Out, path, string(data), "")
			return nil
		}
		return os.Remove(path)
	}
	nameDir := filepath.Join(c.Root, filepath.FromSlash(c.Config.CratesRoot), ref.Name)
	dir := filepath.Join(nameDir, ref.Version)
	if keep.Contains(filepath.Join(dir, BuckFileName)) {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	logging.Status(ctx, logging.Removing, "%v", ref)
	if opts.DryRun {
		if opts.Out != nil {
			fmt.Fprintf(opts.Out, "remove %s\n", dir)
		}
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	// Only succeeds if no other version is left.
	if err := os.Remove(nameDir); err != nil {
		slog.Log(ctx, logging.LevelTrace, "keeping package directory", "dir", nameDir, "error", err)
	}
	return nil
}

func printDiff(w io.Writer, path, old, text string) {
	if w == nil || old == text {
		return
	}
	edits := myers.ComputeEdits(span.URIFromPath(path), old, text)
	fmt.Fprint(w, gotextdiff.ToUnified(path, path, old, edits))
}

// generatedResolver answers for local packages compiled earlier in the same run, whose files may
// not have been written yet, and defers to next for the others.
type generatedResolver struct {
	generated MapResolver
	next      TargetResolver
}

func (r *generatedResolver) Resolve(ctx context.Context, p *Package) (string, error) {
	if label, ok := r.generated[p.Id]; ok {
		return label, nil
	}
	return r.next.Resolve(ctx, p)
}

// record remembers the label of the rule compiling pkg's library, if it has one.
func (r *generatedResolver) record(c *Compiler, pkg *Package, s staged) error {
	lib := pkg.Library()
	if lib == nil {
		return nil
	}
	prefix, err := c.labelPrefix(pkg)
	if err != nil {
		return err
	}
	for _, rl := range s.rules {
		if l, ok := rl.(*rule.Library); ok && l.Crate == lib.CrateName() {
			r.generated[pkg.Id] = prefix + ":" + l.Name
			return nil
		}
	}
	return nil
}
