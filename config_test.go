package buckal_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	. "github.com/rhansen/buckal"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc    string
		toml    *string
		want    Config
		wantErr error
	}{
		{
			desc: "missing file",
			want: DefaultConfig(),
		},
		{
			desc: "empty file",
			toml: ptr(""),
			want: DefaultConfig(),
		},
		{
			desc: "overrides",
			toml: ptr(`
crates_root = "third_party/rust/"
registry_url = "https://mirror.example.com/crates/"
patch_fields = ["visibility", "env", "env_srcs", "out"]
no_merge = true
target = "aarch64-unknown-linux-gnu"
root_excludes = ["target/**"]
`),
			want: func() Config {
				cfg := DefaultConfig()
				cfg.CratesRoot = "third_party/rust"
				cfg.RegistryURL = "https://mirror.example.com/crates"
				cfg.PatchFields = []string{"visibility", "env", "env_srcs", "out"}
				cfg.NoMerge = true
				cfg.Target = "aarch64-unknown-linux-gnu"
				cfg.RootExcludes = []string{"target/**"}
				return cfg
			}(),
		},
		{
			desc:    "unknown key",
			toml:    ptr(`crate_root = "x"`),
			wantErr: ErrConfiguration,
		},
		{
			desc:    "syntax error",
			toml:    ptr(`crates_root = `),
			wantErr: ErrConfiguration,
		},
		{
			desc:    "wrong type",
			toml:    ptr(`no_merge = "yes"`),
			wantErr: ErrConfiguration,
		},
		{
			desc:    "absolute crates root",
			toml:    ptr(`crates_root = "/opt/crates"`),
			wantErr: ErrConfiguration,
		},
		{
			desc:    "crates root outside the repository",
			toml:    ptr(`crates_root = "../crates"`),
			wantErr: ErrConfiguration,
		},
		{
			desc:    "crates root is the repository",
			toml:    ptr(`crates_root = "."`),
			wantErr: ErrConfiguration,
		},
		{
			desc:    "misspelled patch field",
			toml:    ptr(`patch_fields = ["visibility", "visiblity"]`),
			wantErr: ErrConfiguration,
		},
		{
			desc:    "identity attribute in patch fields",
			toml:    ptr(`patch_fields = ["crate_root"]`),
			wantErr: ErrConfiguration,
		},
		{
			desc:    "empty registry",
			toml:    ptr(`registry_url = ""`),
			wantErr: ErrConfiguration,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			if tc.toml != nil {
				if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte(*tc.toml), 0o666); err != nil {
					t.Fatal(err)
				}
			}
			got, err := LoadConfig(root)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got error %v, want %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("config differs (-want +got):\n%s", diff)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }
