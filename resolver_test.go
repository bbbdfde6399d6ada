package buckal_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/rhansen/buckal"
	fg "github.com/rhansen/buckal/internal/test/fakegraph"
)

func TestMapResolver(t *testing.T) {
	t.Parallel()
	ws := fg.NewTestFakeWorkspace(t).
		Root("app@0.1.0", fg.Lib()).
		Member("helper@0.2.0", fg.Lib())
	g := ws.Graph()
	r := MapResolver{ws.Id("app@0.1.0"): "//:app"}
	got, err := r.Resolve(t.Context(), g.Package(ws.Id("app@0.1.0")))
	if err != nil {
		t.Fatal(err)
	}
	if want := "//:app"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if _, err := r.Resolve(t.Context(), g.Package(ws.Id("helper@0.2.0"))); !errors.Is(err, ErrConfiguration) {
		t.Errorf("got error %v, want %v", err, ErrConfiguration)
	}
}

// fakeBuck2 writes a script that answers `buck2 targets` with out and appends its arguments to a
// log file, whose path is returned.
func fakeBuck2(t *testing.T, out string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	log := filepath.Join(dir, "calls")
	script := filepath.Join(dir, "buck2")
	body := "#!/bin/sh\necho \"$@\" >> '" + log + "'\ncat <<'EOF'\n" + out + "\nEOF\n"
	if err := os.WriteFile(script, []byte(body), 0o777); err != nil {
		t.Fatal(err)
	}
	return script, log
}

func calls(t *testing.T, log string) []string {
	t.Helper()
	data, err := os.ReadFile(log)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestBuck2Resolver(t *testing.T) {
	t.Parallel()
	ws := fg.NewTestFakeWorkspace(t).
		Root("app@0.1.0", fg.Bin("app"), fg.Dep("my-helper@0.2.0")).
		Member("my-helper@0.2.0", fg.Lib(), fg.Bin("my-helper"))
	g := ws.Graph()
	helper := g.Package(ws.Id("my-helper@0.2.0"))

	buck2, log := fakeBuck2(t, `[
  {"buck.type": "prelude//rules.bzl:rust_binary", "buck.package": "root//my-helper", "name": "my-helper", "crate": "my_helper"},
  {"buck.type": "prelude//rules.bzl:filegroup", "buck.package": "root//my-helper", "name": "my-helper-vendor"},
  {"buck.type": "prelude//rules.bzl:rust_library", "buck.package": "root//my-helper", "name": "other"},
  {"buck.type": "prelude//rules.bzl:rust_library", "buck.package": "root//my-helper", "name": "my-helper-lib", "crate": "my_helper"}
]`)
	r := NewBuck2Resolver(buck2, ws.Dir)
	for range 2 {
		got, err := r.Resolve(t.Context(), helper)
		if err != nil {
			t.Fatal(err)
		}
		if want := "//my-helper:my-helper-lib"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if got := calls(t, log); len(got) != 1 || got[0] != "targets //my-helper: --json" {
		t.Errorf("got calls %q, want one `targets //my-helper: --json`", got)
	}
}

func TestBuck2Resolver_Errors(t *testing.T) {
	t.Parallel()
	ws := fg.NewTestFakeWorkspace(t).
		Root("app@0.1.0", fg.Bin("app"), fg.Dep("helper@0.2.0")).
		Member("helper@0.2.0", fg.Lib())
	g := ws.Graph()
	helper := g.Package(ws.Id("helper@0.2.0"))

	t.Run("no matching library", func(t *testing.T) {
		t.Parallel()
		buck2, _ := fakeBuck2(t, `[{"buck.type": "prelude//rules.bzl:rust_library", "name": "unrelated"}]`)
		_, err := NewBuck2Resolver(buck2, ws.Dir).Resolve(t.Context(), helper)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("got error %v, want %v", err, ErrConfiguration)
		}
	})
	t.Run("no library target", func(t *testing.T) {
		t.Parallel()
		buck2, log := fakeBuck2(t, `[]`)
		_, err := NewBuck2Resolver(buck2, ws.Dir).Resolve(t.Context(), g.Package(ws.Id("app@0.1.0")))
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("got error %v, want %v", err, ErrConfiguration)
		}
		if got := calls(t, log); len(got) != 0 {
			t.Errorf("buck2 was run: %q", got)
		}
	})
	t.Run("outside the root", func(t *testing.T) {
		t.Parallel()
		buck2, _ := fakeBuck2(t, `[]`)
		_, err := NewBuck2Resolver(buck2, filepath.Join(ws.Dir, "elsewhere")).Resolve(t.Context(), helper)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("got error %v, want %v", err, ErrConfiguration)
		}
	})
	t.Run("buck2 fails", func(t *testing.T) {
		t.Parallel()
		_, err := NewBuck2Resolver(filepath.Join(t.TempDir(), "missing"), ws.Dir).Resolve(t.Context(), helper)
		if !errors.Is(err, ErrSubprocess) {
			t.Errorf("got error %v, want %v", err, ErrSubprocess)
		}
	})
}
