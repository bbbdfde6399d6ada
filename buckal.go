// Package buckal generates Buck2 build rules for the packages of a cargo workspace.
//
// # Quick Start
//
// (The following is also available as a package-level example.)
//
// Gather the inputs of a run with [LoadProject].  It finds the Buck2 project root, reads the
// optional [ConfigFileName] there, runs `cargo metadata` and asks rustc for the target platform:
//
//	ctx := context.Background()
//	p, err := buckal.LoadProject(ctx, buckal.LoadOptions{})
//	if err != nil {
//		return err
//	}
//
// Bring the generated files up to date with [Sync]:
//
//	changes, err := buckal.Sync(ctx, p, buckal.SyncOptions{})
//	if err != nil {
//		return err
//	}
//	fmt.Printf("%d packages regenerated\n", len(changes.Regenerate()))
//
// Or compile a single package yourself with a [Compiler] and print its file with [rule.Render]:
//
//	c := &buckal.Compiler{Graph: p.Graph, Platform: p.Platform, Checksums: p.Checksums,
//		Resolver: p.Resolver, Config: p.Config, Root: p.Root}
//	rules, err := c.Compile(ctx, id)
//	if err != nil {
//		return err
//	}
//	fmt.Print(rule.Render(rules))
//
// # Introduction
//
// Cargo resolves a workspace into a graph of packages: each node records which features were
// activated and which dependency edges were selected, each edge optionally gated by a platform
// predicate.  This package turns every node of that graph into one BUCK file.  Workspace members
// and path dependencies get a file next to their manifest; registry and git packages get one under
// [Config.CratesRoot], with a rule downloading their sources.  Packages with a build script also
// get the rules that compile and run it, wired into the package's own rules.
//
// Regeneration is incremental.  Every node has a [Fingerprint] computed from its id, features and
// edges, and a [Cache] keeps the fingerprints of the last run.  [Diff] classifies each package as
// added, changed, removed or unchanged, and only the first three are touched.
//
// Generated files may be edited by hand.  When a file is regenerated its previous contents are
// read back with [rule.Parse], which accepts only a declarative subset of Starlark and never
// executes anything, and folded into the new rules with [rule.Patch].
package buckal
