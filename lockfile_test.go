package buckal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	. "github.com/rhansen/buckal"
	fg "github.com/rhansen/buckal/internal/test/fakegraph"
)

func TestLoadChecksums(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "Cargo.lock")
	if err := os.WriteFile(path, []byte(`# This file is automatically @generated by Cargo.
# It is not intended for manual editing.
version = 3

[[package]]
name = "app"
version = "0.1.0"
dependencies = [
 "regex",
]

[[package]]
name = "regex"
version = "1.10.2"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "380b951a9c5e80ddfd6136919eef32310721aa4aacd4889a8d39124b026ab343"

[[package]]
name = "vendored"
version = "0.3.0"
source = "git+https://github.com/o/vendored#0123456789abcdef0123456789abcdef01234567"
`), 0o666); err != nil {
		t.Fatal(err)
	}
	got, err := LoadChecksums(path)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"regex-1.10.2": "380b951a9c5e80ddfd6136919eef32310721aa4aacd4889a8d39124b026ab343",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("checksums differ (-want +got):\n%s", diff)
	}
}

func TestLoadChecksums_FakeWorkspace(t *testing.T) {
	t.Parallel()
	ws := fg.NewTestFakeWorkspace(t).
		Root("app@0.1.0", fg.Bin("app"), fg.Dep("libc@0.2.150")).
		Registry("libc@0.2.150", fg.Lib(), fg.Checksum("abc123")).
		Registry("nosum@1.0.0", fg.Lib(), fg.NoChecksum()).
		WriteLockfile()
	got, err := LoadChecksums(filepath.Join(ws.Dir, "Cargo.lock"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ws.Checksums(), got); diff != "" {
		t.Errorf("checksums differ (-want +got):\n%s", diff)
	}
	if got, want := got[ChecksumKey("libc", "0.2.150")], "abc123"; got != want {
		t.Errorf("got libc checksum %q, want %q", got, want)
	}
}

func TestLoadChecksums_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := LoadChecksums(filepath.Join(dir, "missing.lock")); err == nil {
		t.Errorf("missing lock file accepted")
	}
	bad := filepath.Join(dir, "Cargo.lock")
	if err := os.WriteFile(bad, []byte("[[package]\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChecksums(bad); err == nil {
		t.Errorf("malformed lock file accepted")
	}
}
