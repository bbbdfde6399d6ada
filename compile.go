package buckal

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rhansen/buckal/rule"
)

// BuckFileName is the name of every generated file.
const BuckFileName = "BUCK"

var (
	loadCargo = func() rule.Rule {
		return &rule.Load{Bzl: "@prelude//rust:cargo_package.bzl", Symbols: rule.NewSet("cargo")}
	}
	loadManifest = func() rule.Rule {
		return &rule.Load{Bzl: "@buckal//:cargo_manifest.bzl", Symbols: rule.NewSet("cargo_manifest")}
	}
	loadBuildscript = func() rule.Rule {
		return &rule.Load{
			Bzl:     "@prelude//rust:cargo_buildscript.bzl",
			Symbols: rule.NewSet("buildscript_run"),
		}
	}
)

// A Compiler turns one resolved node into the rules of its BUCK file.
type Compiler struct {
	Graph *Graph
	// Platform is what platform-specific dependency edges are evaluated against.
	Platform PlatformContext
	// Checksums maps [ChecksumKey] to the SHA-256 of registry packages.
	Checksums map[string]string
	Resolver  TargetResolver
	Config    Config
	// Root is the build-system root directory.
	Root string
}

// OutputDir returns the directory the package's BUCK file is generated in: the manifest directory
// for local packages, <Root>/<CratesRoot>/<name>/<version> otherwise.
func (c *Compiler) OutputDir(p *Package) string {
	if p.IsLocal() {
		return p.Dir()
	}
	return filepath.Join(c.Root, filepath.FromSlash(c.Config.CratesRoot), p.Name, p.Version)
}

// BuckFile returns the path of the package's generated file.
func (c *Compiler) BuckFile(p *Package) string {
	return filepath.Join(c.OutputDir(p), BuckFileName)
}

// labelPrefix returns the buck2 package path of the package's BUCK file, e.g.
// "//third-party/rust/crates/regex/1.10.2".
func (c *Compiler) labelPrefix(p *Package) (string, error) {
	if p.IsLocal() {
		return packagePath(c.Root, p.Dir())
	}
	return "//" + path.Join(c.Config.CratesRoot, p.Name, p.Version), nil
}

// libraryLabel returns the label of the rule compiling the package's library.
func (c *Compiler) libraryLabel(ctx context.Context, p *Package) (string, error) {
	if p.IsLocal() {
		return c.Resolver.Resolve(ctx, p)
	}
	prefix, err := c.labelPrefix(p)
	if err != nil {
		return "", err
	}
	return prefix + ":" + p.Name, nil
}

// Compile returns the rules for the package with the given id, in emission order.  Local packages
// (workspace members and path dependencies) get a file group over their sources and one rule per
// binary and library target; every other package gets a source archive and a rule for its primary
// library.  If the package has a build script, the rules to compile and run it are appended and
// wired into the package's own rules.
func (c *Compiler) Compile(ctx context.Context, id PackageId) ([]rule.Rule, error) {
	p, n := c.Graph.Package(id), c.Graph.Node(id)
	if p == nil || n == nil {
		return nil, fmt.Errorf("%w: package %v is not in the resolved graph", ErrConfiguration, id)
	}
	var rules []rule.Rule
	var err error
	if p.IsLocal() {
		rules, err = c.compileLocal(ctx, p, n)
	} else {
		rules, err = c.compileThirdParty(ctx, p, n)
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", p, err)
	}
	return rules, nil
}

func (c *Compiler) compileThirdParty(ctx context.Context, p *Package, n *Node) ([]rule.Rule, error) {
	lib := p.Library()
	if lib == nil {
		return nil, fmt.Errorf("%w: no library target", ErrConfiguration)
	}
	vendor := p.Name + "-vendor"
	archive, err := c.archive(p, vendor)
	if err != nil {
		return nil, err
	}
	l := &rule.Library{Name: p.Name, ProcMacro: lib.IsProcMacro()}
	if err := c.fillCargoAttrs(ctx, l.Cargo(), p, n, lib, ":"+vendor, vendor); err != nil {
		return nil, err
	}
	l.Visibility = rule.NewSet("PUBLIC")
	rules := []rule.Rule{
		loadCargo(),
		loadManifest(),
		archive,
		&rule.CargoManifest{Name: p.Name + "-manifest", Vendor: ":" + vendor},
		l,
	}
	return c.wireBuildScript(ctx, p, n, vendor, rules, []rule.CargoRule{l})
}

// archive returns the rule that downloads the package's sources.
func (c *Compiler) archive(p *Package, name string) (*rule.HttpArchive, error) {
	if p.IsGit() {
		return gitArchive(p, name)
	}
	sum, ok := c.Checksums[ChecksumKey(p.Name, p.Version)]
	if !ok {
		return nil, fmt.Errorf("%w: no checksum for %s in the lock file", ErrConfiguration,
			ChecksumKey(p.Name, p.Version))
	}
	base := p.Name + "-" + p.Version
	return &rule.HttpArchive{
		Name:        name,
		Urls:        rule.NewSet(c.Config.RegistryURL + "/" + p.Name + "/" + base + ".crate"),
		Sha256:      sum,
		Type:        "tar.gz",
		StripPrefix: base,
	}, nil
}

// gitArchive returns a rule that downloads a snapshot of a git dependency at its locked commit,
// using the archive URL scheme shared by GitHub and GitLab.  The package's directory within the
// repository is derived from where cargo checked it out.
func gitArchive(p *Package, name string) (*rule.HttpArchive, error) {
	src, rev, ok := strings.Cut(strings.TrimPrefix(p.Source, "git+"), "#")
	if !ok || rev == "" {
		return nil, fmt.Errorf("%w: git source %q has no locked revision", ErrConfiguration, p.Source)
	}
	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid git source %q: %w", ErrConfiguration, p.Source, err)
	}
	u.RawQuery, u.Fragment = "", ""
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), ".git")
	repo := path.Base(u.Path)
	stripPrefix := repo + "-" + rev
	// Checkouts live in .../git/checkouts/<repo>-<hash>/<short rev>/<subdir>/Cargo.toml.
	dir := filepath.ToSlash(p.Dir())
	if _, after, ok := strings.Cut(dir, "/git/checkouts/"); ok {
		if parts := strings.SplitN(after, "/", 3); len(parts) == 3 {
			stripPrefix += "/" + parts[2]
		}
	}
	return &rule.HttpArchive{
		Name:        name,
		Urls:        rule.NewSet(u.String() + "/archive/" + rev + ".tar.gz"),
		Type:        "tar.gz",
		StripPrefix: stripPrefix,
	}, nil
}

func (c *Compiler) compileLocal(ctx context.Context, p *Package, n *Node) ([]rule.Rule, error) {
	bins := slices.Collect(p.Binaries())
	libs := slices.Collect(p.Libraries())
	if len(bins) == 0 && len(libs) == 0 {
		return nil, fmt.Errorf("%w: no library or binary target", ErrConfiguration)
	}
	const vendorDir = "vendor"
	fg := &rule.FileGroup{
		Name: p.Name + "-vendor",
		Srcs: &rule.Glob{
			Include: rule.NewSet("**/**"),
			Exclude: rule.NewSet(append([]string{BuckFileName}, c.Config.RootExcludes...)...),
		},
		Out: vendorDir,
	}
	rules := []rule.Rule{
		loadCargo(),
		loadManifest(),
		fg,
		&rule.CargoManifest{Name: p.Name + "-manifest", Vendor: ":" + fg.Name},
	}
	binNames := map[string]bool{}
	for _, t := range bins {
		binNames[t.Name] = true
	}
	// A library named like one of the binaries is renamed, and every binary gets the library as
	// a dependency, the same way cargo makes a package's library available to its binaries.
	libLabel := ""
	var hosts []rule.CargoRule
	var libRules []rule.Rule
	for _, t := range libs {
		l := &rule.Library{Name: t.Name, ProcMacro: t.IsProcMacro()}
		if binNames[l.Name] {
			l.Name = "lib" + t.Name
		}
		if err := c.fillCargoAttrs(ctx, l.Cargo(), p, n, t, ":"+fg.Name, vendorDir); err != nil {
			return nil, err
		}
		l.Visibility = rule.NewSet("PUBLIC")
		if t == p.Library() {
			libLabel = ":" + l.Name
		}
		hosts = append(hosts, l)
		libRules = append(libRules, l)
	}
	for _, t := range bins {
		b := &rule.Binary{Name: t.Name}
		if err := c.fillCargoAttrs(ctx, b.Cargo(), p, n, t, ":"+fg.Name, vendorDir); err != nil {
			return nil, err
		}
		if libLabel != "" {
			b.Deps.Add(libLabel)
		}
		b.Visibility = rule.NewSet("PUBLIC")
		hosts = append(hosts, b)
		rules = append(rules, b)
	}
	rules = append(rules, libRules...)
	return c.wireBuildScript(ctx, p, n, fg.Name, rules, hosts)
}

// fillCargoAttrs sets the attributes common to every rule compiling target t of package p.  srcs
// is the label of the rule providing the package's sources and srcsDir the directory they appear
// in.
func (c *Compiler) fillCargoAttrs(ctx context.Context, a *rule.CargoAttrs, p *Package, n *Node, t *Target, srcs, srcsDir string) error {
	rel, err := filepath.Rel(p.Dir(), t.SrcPath)
	if err != nil || strings.HasPrefix(filepath.ToSlash(rel), "../") {
		return fmt.Errorf("%w: entry point %s of target %s is outside the package directory",
			ErrConfiguration, t.SrcPath, t.Name)
	}
	a.Srcs = rule.NewSet(srcs)
	a.Crate = t.CrateName()
	a.CrateRoot = srcsDir + "/" + filepath.ToSlash(rel)
	a.Edition = cmp.Or(t.Edition, p.Edition)
	if a.Env, err = cargoEnv(p, t); err != nil {
		return err
	}
	a.Features = rule.NewSet(n.Features...)
	a.RustcFlags = rule.NewSet()
	a.NamedDeps = map[string]string{}
	a.Deps = rule.NewSet()
	kind := Normal
	if t.IsBuildScript() {
		kind = Build
	}
	return c.addDeps(ctx, a, n, kind)
}

// addDeps adds the labels of n's dependencies that are active for kind on the current platform.  A
// dependency the manifest renamed goes into NamedDeps under its new name.
func (c *Compiler) addDeps(ctx context.Context, a *rule.CargoAttrs, n *Node, kind DependencyKind) error {
	for i := range n.Deps {
		e := &n.Deps[i]
		active, err := edgeActive(e, kind, &c.Platform)
		if err != nil {
			return err
		}
		if !active {
			continue
		}
		dep := c.Graph.Target(e)
		lib := dep.Library()
		if lib == nil {
			return fmt.Errorf("%w: dependency %v has no library target", ErrConfiguration, dep)
		}
		label, err := c.libraryLabel(ctx, dep)
		if err != nil {
			return err
		}
		if e.Name != "" && e.Name != lib.CrateName() {
			a.NamedDeps[e.Name] = label
		} else {
			a.Deps.Add(label)
		}
	}
	return nil
}

// cargoEnv returns the environment variables cargo sets when compiling target t of package p.
func cargoEnv(p *Package, t *Target) (map[string]string, error) {
	v, err := semver.StrictNewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid package version %q: %w", ErrConfiguration, p.Version, err)
	}
	env := map[string]string{
		"CARGO_CRATE_NAME":        t.CrateName(),
		"CARGO_MANIFEST_DIR":      ".",
		"CARGO_PKG_NAME":          p.Name,
		"CARGO_PKG_VERSION":       p.Version,
		"CARGO_PKG_VERSION_MAJOR": strconv.FormatUint(v.Major(), 10),
		"CARGO_PKG_VERSION_MINOR": strconv.FormatUint(v.Minor(), 10),
		"CARGO_PKG_VERSION_PATCH": strconv.FormatUint(v.Patch(), 10),
		"CARGO_PKG_VERSION_PRE":   v.Prerelease(),
	}
	if p.Links != "" {
		env["CARGO_PKG_LINKS"] = p.Links
	}
	return env, nil
}
