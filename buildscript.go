package buckal

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rhansen/buckal/rule"
)

// buildscriptRunName returns the name of the rule that runs the build script of the package named
// name.
func buildscriptRunName(name string) string { return name + "-build-script-run" }

// wireBuildScript appends the rules that compile and run the package's build script, if it has
// one, and points every host rule at the script's outputs: OUT_DIR is set to the generated out_dir
// and the flags the script prints are passed to the compiler.  vendor is the name of the rule
// providing the package's sources.
func (c *Compiler) wireBuildScript(ctx context.Context, p *Package, n *Node, vendor string, rules []rule.Rule, hosts []rule.CargoRule) ([]rule.Rule, error) {
	bs := p.BuildScript()
	if bs == nil {
		return rules, nil
	}
	run := buildscriptRunName(p.Name)
	for _, h := range hosts {
		a := h.Cargo()
		a.Env["OUT_DIR"] = "$(location :" + run + "[out_dir])"
		a.RustcFlags.Add("@$(location :" + run + "[rustc_flags])")
	}

	srcsDir := vendor
	if p.IsLocal() {
		srcsDir = "vendor"
	}
	bin := &rule.Binary{Name: p.Name + "-" + bs.Name}
	if err := c.fillCargoAttrs(ctx, bin.Cargo(), p, n, bs, ":"+vendor, srcsDir); err != nil {
		return nil, err
	}

	envSrcs, err := c.linksMetadata(ctx, n)
	if err != nil {
		return nil, err
	}
	env := map[string]string{}
	if p.Links != "" {
		env["CARGO_MANIFEST_LINKS"] = p.Links
	}
	br := &rule.BuildscriptRun{
		Name:            run,
		PackageName:     p.Name,
		BuildscriptRule: ":" + bin.Name,
		Env:             env,
		EnvSrcs:         envSrcs,
		Features:        rule.NewSet(n.Features...),
		Version:         p.Version,
		ManifestDir:     ":" + p.Name + "-manifest",
	}
	slog.DebugContext(ctx, "wired build script", "pkg", p, "script", bs.Name, "envSrcs", envSrcs.Cardinality())
	return append(append(rules, loadBuildscript()), bin, br), nil
}

// linksMetadata returns the metadata outputs of the build scripts of n's normal
// dependencies that declare links.  Cargo exposes those to the dependent's build script as
// DEP_<links>_<key> variables.
func (c *Compiler) linksMetadata(ctx context.Context, n *Node) (mapset.Set[string], error) {
	srcs := rule.NewSet()
	for i := range n.Deps {
		e := &n.Deps[i]
		active, err := edgeActive(e, Normal, &c.Platform)
		if err != nil {
			return nil, err
		}
		dep := c.Graph.Target(e)
		if !active || dep.Links == "" {
			continue
		}
		if dep.BuildScript() == nil {
			return nil, fmt.Errorf("%w: dependency %v declares links = %q but has no build script",
				ErrConfiguration, dep, dep.Links)
		}
		prefix, err := c.labelPrefix(dep)
		if err != nil {
			return nil, err
		}
		srcs.Add(prefix + ":" + buildscriptRunName(dep.Name) + "[metadata]")
	}
	return srcs, nil
}
