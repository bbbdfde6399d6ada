package rule_test

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/rhansen/buckal/rule"
)

func TestPatch(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc      string
		generated []rule.Rule
		existing  []rule.Rule
		fields    mapset.Set[string]
		want      []rule.Rule
	}{
		{
			desc: "sets are unioned",
			generated: []rule.Rule{&rule.Library{Name: "regex", CargoAttrs: rule.CargoAttrs{
				Features:   rule.NewSet("std", "unicode"),
				Visibility: rule.NewSet("PUBLIC"),
				Deps:       rule.NewSet("//a:a"),
			}}},
			existing: []rule.Rule{&rule.Library{Name: "regex", CargoAttrs: rule.CargoAttrs{
				Features:   rule.NewSet("std"),
				Visibility: rule.NewSet("PUBLIC", "//tools/..."),
				Deps:       rule.NewSet("//manual:dep"),
			}}},
			want: []rule.Rule{&rule.Library{Name: "regex", CargoAttrs: rule.CargoAttrs{
				Features:   rule.NewSet("std", "unicode"),
				Visibility: rule.NewSet("PUBLIC", "//tools/..."),
				Deps:       rule.NewSet("//a:a", "//manual:dep"),
			}}},
		},
		{
			desc: "maps keep generated values and gain missing keys",
			generated: []rule.Rule{&rule.Binary{Name: "app", CargoAttrs: rule.CargoAttrs{
				Env: map[string]string{"CARGO_PKG_VERSION": "0.2.0"},
			}}},
			existing: []rule.Rule{&rule.Binary{Name: "app", CargoAttrs: rule.CargoAttrs{
				Env:       map[string]string{"CARGO_PKG_VERSION": "0.1.0", "RUST_LOG": "debug"},
				NamedDeps: map[string]string{"alias": "//x:y"},
			}}},
			want: []rule.Rule{&rule.Binary{Name: "app", CargoAttrs: rule.CargoAttrs{
				Env:       map[string]string{"CARGO_PKG_VERSION": "0.2.0", "RUST_LOG": "debug"},
				NamedDeps: map[string]string{"alias": "//x:y"},
			}}},
		},
		{
			desc: "identity attributes are never patched",
			generated: []rule.Rule{&rule.Library{Name: "l", CargoAttrs: rule.CargoAttrs{
				Crate: "l", CrateRoot: "l-vendor/src/lib.rs", Edition: "2021",
			}}},
			existing: []rule.Rule{&rule.Library{Name: "l", CargoAttrs: rule.CargoAttrs{
				Crate: "old", CrateRoot: "src/old.rs", Edition: "2018",
			}, ProcMacro: true}},
			want: []rule.Rule{&rule.Library{Name: "l", CargoAttrs: rule.CargoAttrs{
				Crate: "l", CrateRoot: "l-vendor/src/lib.rs", Edition: "2021",
			}}},
		},
		{
			desc:      "optional scalars adopt existing values",
			generated: []rule.Rule{&rule.FileGroup{Name: "f"}, &rule.HttpArchive{Name: "h", Sha256: "new"}},
			existing: []rule.Rule{
				&rule.FileGroup{Name: "f", Out: "vendor"},
				&rule.HttpArchive{Name: "h", Sha256: "old", Type: "zip"},
			},
			want: []rule.Rule{
				&rule.FileGroup{Name: "f", Out: "vendor"},
				&rule.HttpArchive{Name: "h", Sha256: "new", Type: "zip"},
			},
		},
		{
			desc: "glob patterns are unioned",
			generated: []rule.Rule{&rule.FileGroup{Name: "f", Srcs: &rule.Glob{
				Include: rule.NewSet("**/**"), Exclude: rule.NewSet("BUCK"),
			}}},
			existing: []rule.Rule{&rule.FileGroup{Name: "f", Srcs: &rule.Glob{
				Include: rule.NewSet("**/**"), Exclude: rule.NewSet("BUCK", "fixtures/**"),
			}}},
			want: []rule.Rule{&rule.FileGroup{Name: "f", Srcs: &rule.Glob{
				Include: rule.NewSet("**/**"), Exclude: rule.NewSet("BUCK", "fixtures/**"),
			}}},
		},
		{
			desc:      "extra attributes are preserved",
			generated: []rule.Rule{&rule.Binary{Name: "b", Extra: map[string]rule.Value{"x": rule.Int(2)}}},
			existing: []rule.Rule{&rule.Binary{Name: "b", Extra: map[string]rule.Value{
				"x": rule.Int(1), "tags": rule.List{rule.String("manual")},
			}}},
			want: []rule.Rule{&rule.Binary{Name: "b", Extra: map[string]rule.Value{
				"x": rule.Int(2), "tags": rule.List{rule.String("manual")},
			}}},
		},
		{
			desc:      "rules are matched by kind and name",
			generated: []rule.Rule{&rule.Library{Name: "a"}, &rule.Binary{Name: "b"}},
			existing: []rule.Rule{
				&rule.Binary{Name: "a", CargoAttrs: rule.CargoAttrs{Deps: rule.NewSet("//x:x")}},
				&rule.Binary{Name: "c", CargoAttrs: rule.CargoAttrs{Deps: rule.NewSet("//y:y")}},
			},
			want: []rule.Rule{&rule.Library{Name: "a"}, &rule.Binary{Name: "b"}},
		},
		{
			desc: "fields narrows patched attributes but not extras",
			generated: []rule.Rule{&rule.Library{Name: "l", CargoAttrs: rule.CargoAttrs{
				Visibility: rule.NewSet("PUBLIC"),
			}}},
			existing: []rule.Rule{&rule.Library{
				Name: "l",
				CargoAttrs: rule.CargoAttrs{
					Visibility: rule.NewSet("//v:v"),
					Deps:       rule.NewSet("//stale:dep"),
				},
				Extra: map[string]rule.Value{"tags": rule.List{}},
			}},
			fields: rule.NewSet("visibility"),
			want: []rule.Rule{&rule.Library{
				Name:       "l",
				CargoAttrs: rule.CargoAttrs{Visibility: rule.NewSet("PUBLIC", "//v:v")},
				Extra:      map[string]rule.Value{"tags": rule.List{}},
			}},
		},
		{
			desc: "buildscript_run env_srcs",
			generated: []rule.Rule{&rule.BuildscriptRun{
				Name: "r", Version: "1.0.0", EnvSrcs: rule.NewSet("//a:a-build-script-run[metadata]"),
			}},
			existing: []rule.Rule{&rule.BuildscriptRun{
				Name: "r", Version: "0.9.0", EnvSrcs: rule.NewSet("//manual:env"),
			}},
			want: []rule.Rule{&rule.BuildscriptRun{
				Name:    "r", Version: "1.0.0",
				EnvSrcs: rule.NewSet("//a:a-build-script-run[metadata]", "//manual:env"),
			}},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			rule.Patch(tc.generated, tc.existing, tc.fields)
			if diff := cmp.Diff(tc.want, tc.generated, cmpOpts...); diff != "" {
				t.Errorf("Patch() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Every set entry and map key of either input survives a patch.
func TestPatch_NonDestructive(t *testing.T) {
	t.Parallel()
	gen := func() *rule.Library {
		return &rule.Library{Name: "l", CargoAttrs: rule.CargoAttrs{
			Features:   rule.NewSet("a", "b"),
			Deps:       rule.NewSet("//d:1"),
			RustcFlags: rule.NewSet("-Cx"),
			Env:        map[string]string{"K1": "v1"},
		}}
	}
	old := &rule.Library{Name: "l", CargoAttrs: rule.CargoAttrs{
		Features:   rule.NewSet("b", "c"),
		Deps:       rule.NewSet("//d:2"),
		Visibility: rule.NewSet("PUBLIC"),
		Env:        map[string]string{"K1": "old", "K2": "v2"},
	}}
	got := gen()
	rule.Patch([]rule.Rule{got}, []rule.Rule{old}, nil)
	for _, pair := range []struct {
		name      string
		got, a, b mapset.Set[string]
	}{
		{"features", got.Features, gen().Features, old.Features},
		{"deps", got.Deps, gen().Deps, old.Deps},
		{"rustc_flags", got.RustcFlags, gen().RustcFlags, old.RustcFlags},
		{"visibility", got.Visibility, gen().Visibility, old.Visibility},
	} {
		for _, in := range []mapset.Set[string]{pair.a, pair.b} {
			if in != nil && !pair.got.IsSuperset(in) {
				t.Errorf("%s: %v is not a superset of %v", pair.name, rule.Sorted(pair.got), rule.Sorted(in))
			}
		}
	}
	for k := range old.Env {
		if _, ok := got.Env[k]; !ok {
			t.Errorf("env key %s lost", k)
		}
	}
	if got.Env["K1"] != "v1" {
		t.Errorf("env K1 = %q, want the generated value %q", got.Env["K1"], "v1")
	}
}
