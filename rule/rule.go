// Package rule models the declarations of a generated BUCK file.  A [Rule] is a closed sum type:
// each rule kind is its own struct, and the attributes shared by the Rust compilation rules are
// exposed through [CargoRule].
//
// Rules are produced by the compiler, written with [Render], read back with [Parse], and folded
// together with [Patch].
package rule

import (
	"errors"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrParse is wrapped by every error returned from [Parse] and [ParseFile].
var ErrParse = errors.New("unsupported BUCK file contents")

// A Kind identifies the variant of a [Rule].
type Kind int

const (
	KindLoad Kind = iota
	KindHttpArchive
	KindFileGroup
	KindCargoManifest
	KindLibrary
	KindBinary
	KindBuildscriptRun
)

var constructors = [...]string{
	KindLoad:           "load",
	KindHttpArchive:    "http_archive",
	KindFileGroup:      "filegroup",
	KindCargoManifest:  "cargo_manifest",
	KindLibrary:        "cargo.rust_library",
	KindBinary:         "cargo.rust_binary",
	KindBuildscriptRun: "buildscript_run",
}

// Constructor returns the name of the function that declares rules of this kind.
func (k Kind) Constructor() string {
	if k < 0 || int(k) >= len(constructors) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return constructors[k]
}

func (k Kind) String() string { return k.Constructor() }

// kindOf maps a constructor name back to its kind.
func kindOf(constructor string) (Kind, bool) {
	for k, c := range constructors {
		if c == constructor && Kind(k) != KindLoad {
			return Kind(k), true
		}
	}
	return 0, false
}

// A Rule is one declaration in a BUCK file.
type Rule interface {
	Kind() Kind
	// RuleName is the value of the rule's name attribute.  For a [*Load] it is the loaded file.
	RuleName() string
	attrs() []attr
	extra() *map[string]Value
}

// Constructor returns the function name that declares r.
func Constructor(r Rule) string { return r.Kind().Constructor() }

// New returns an empty rule of kind k.
func New(k Kind) Rule {
	switch k {
	case KindLoad:
		return &Load{}
	case KindHttpArchive:
		return &HttpArchive{}
	case KindFileGroup:
		return &FileGroup{}
	case KindCargoManifest:
		return &CargoManifest{}
	case KindLibrary:
		return &Library{}
	case KindBinary:
		return &Binary{}
	case KindBuildscriptRun:
		return &BuildscriptRun{}
	}
	panic(fmt.Errorf("bug: unknown rule kind %d", int(k)))
}

// attr describes one typed attribute of a rule.  ptr is one of *string, *bool,
// *mapset.Set[string], *map[string]string or **Glob, pointing into the rule.
type attr struct {
	name string
	// identity attributes are derived from the package graph alone and are never merged.
	identity bool
	ptr      any
}

// A Load imports symbols from a .bzl file.
type Load struct {
	Bzl     string
	Symbols mapset.Set[string]
}

func (*Load) Kind() Kind                 { return KindLoad }
func (l *Load) RuleName() string         { return l.Bzl }
func (l *Load) attrs() []attr            { return nil }
func (l *Load) extra() *map[string]Value { return nil }

// An HttpArchive downloads and unpacks a package's source archive.
type HttpArchive struct {
	Name        string
	Urls        mapset.Set[string]
	Sha256      string
	Type        string
	StripPrefix string
	Extra       map[string]Value
}

func (*HttpArchive) Kind() Kind                 { return KindHttpArchive }
func (r *HttpArchive) RuleName() string         { return r.Name }
func (r *HttpArchive) extra() *map[string]Value { return &r.Extra }
func (r *HttpArchive) attrs() []attr {
	return []attr{
		{"name", true, &r.Name},
		{"urls", true, &r.Urls},
		{"sha256", true, &r.Sha256},
		{"type", false, &r.Type},
		{"strip_prefix", true, &r.StripPrefix},
	}
}

// A FileGroup names the sources of a local package.
type FileGroup struct {
	Name       string
	Srcs       *Glob
	Out        string
	Visibility mapset.Set[string]
	Extra      map[string]Value
}

func (*FileGroup) Kind() Kind                 { return KindFileGroup }
func (r *FileGroup) RuleName() string         { return r.Name }
func (r *FileGroup) extra() *map[string]Value { return &r.Extra }
func (r *FileGroup) attrs() []attr {
	return []attr{
		{"name", true, &r.Name},
		{"srcs", false, &r.Srcs},
		{"out", false, &r.Out},
		{"visibility", false, &r.Visibility},
	}
}

// A CargoManifest exposes a package's Cargo.toml to the rules that compile it.
type CargoManifest struct {
	Name       string
	Vendor     string
	Visibility mapset.Set[string]
	Extra      map[string]Value
}

func (*CargoManifest) Kind() Kind                 { return KindCargoManifest }
func (r *CargoManifest) RuleName() string         { return r.Name }
func (r *CargoManifest) extra() *map[string]Value { return &r.Extra }
func (r *CargoManifest) attrs() []attr {
	return []attr{
		{"name", true, &r.Name},
		{"vendor", true, &r.Vendor},
		{"visibility", false, &r.Visibility},
	}
}

// CargoAttrs are the attributes shared by [Library] and [Binary].
type CargoAttrs struct {
	Srcs      mapset.Set[string]
	Crate     string
	CrateRoot string
	Edition   string
	Env       map[string]string
	Features  mapset.Set[string]
	// RustcFlags are extra compiler arguments, e.g. an @file produced by a build script.
	RustcFlags mapset.Set[string]
	// NamedDeps maps the name a dependency was renamed to in the manifest to its target.
	NamedDeps  map[string]string
	Visibility mapset.Set[string]
	Deps       mapset.Set[string]
}

func (c *CargoAttrs) attrsBefore() []attr {
	return []attr{
		{"srcs", false, &c.Srcs},
		{"crate", true, &c.Crate},
		{"crate_root", true, &c.CrateRoot},
		{"edition", true, &c.Edition},
		{"env", false, &c.Env},
		{"features", false, &c.Features},
		{"rustc_flags", false, &c.RustcFlags},
	}
}

func (c *CargoAttrs) attrsAfter() []attr {
	return []attr{
		{"named_deps", false, &c.NamedDeps},
		{"visibility", false, &c.Visibility},
		{"deps", false, &c.Deps},
	}
}

// A CargoRule is a rule that compiles a Rust crate.
type CargoRule interface {
	Rule
	Cargo() *CargoAttrs
}

// A Library compiles a library-like target.
type Library struct {
	Name string
	CargoAttrs
	ProcMacro bool
	Extra     map[string]Value
}

func (*Library) Kind() Kind                 { return KindLibrary }
func (r *Library) RuleName() string         { return r.Name }
func (r *Library) Cargo() *CargoAttrs       { return &r.CargoAttrs }
func (r *Library) extra() *map[string]Value { return &r.Extra }
func (r *Library) attrs() []attr {
	as := []attr{{"name", true, &r.Name}}
	as = append(as, r.attrsBefore()...)
	as = append(as, attr{"proc_macro", true, &r.ProcMacro})
	return append(as, r.attrsAfter()...)
}

// A Binary compiles a binary target or a build script.
type Binary struct {
	Name string
	CargoAttrs
	Extra map[string]Value
}

func (*Binary) Kind() Kind                 { return KindBinary }
func (r *Binary) RuleName() string         { return r.Name }
func (r *Binary) Cargo() *CargoAttrs       { return &r.CargoAttrs }
func (r *Binary) extra() *map[string]Value { return &r.Extra }
func (r *Binary) attrs() []attr {
	as := []attr{{"name", true, &r.Name}}
	as = append(as, r.attrsBefore()...)
	return append(as, r.attrsAfter()...)
}

// A BuildscriptRun runs a compiled build script and exposes its outputs: out_dir, rustc_flags and
// (for packages that declare links) metadata.
type BuildscriptRun struct {
	Name            string
	PackageName     string
	BuildscriptRule string
	Env             map[string]string
	// EnvSrcs are files of KEY=VALUE lines added to the environment, typically the metadata
	// outputs of dependencies' build scripts.
	EnvSrcs     mapset.Set[string]
	Features    mapset.Set[string]
	Version     string
	ManifestDir string
	Visibility  mapset.Set[string]
	Extra       map[string]Value
}

func (*BuildscriptRun) Kind() Kind                 { return KindBuildscriptRun }
func (r *BuildscriptRun) RuleName() string         { return r.Name }
func (r *BuildscriptRun) extra() *map[string]Value { return &r.Extra }
func (r *BuildscriptRun) attrs() []attr {
	return []attr{
		{"name", true, &r.Name},
		{"package_name", true, &r.PackageName},
		{"buildscript_rule", true, &r.BuildscriptRule},
		{"env", false, &r.Env},
		{"env_srcs", false, &r.EnvSrcs},
		{"features", false, &r.Features},
		{"version", true, &r.Version},
		{"manifest_dir", true, &r.ManifestDir},
		{"visibility", false, &r.Visibility},
	}
}

// PatchableFields returns the names of the attributes of kind k that [Patch] may merge.
func PatchableFields(k Kind) []string {
	var names []string
	for _, a := range New(k).attrs() {
		if !a.identity {
			names = append(names, a.name)
		}
	}
	return names
}

// IsPatchableField reports whether name is patchable in at least one kind of rule.
func IsPatchableField(name string) bool {
	for k := range constructors {
		if slices.Contains(PatchableFields(Kind(k)), name) {
			return true
		}
	}
	return false
}
