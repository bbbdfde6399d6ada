package buckal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rhansen/buckal/rule"
)

// ConfigFileName is the name of the project configuration file at the root of the build-system
// repository.
const ConfigFileName = "buckal.toml"

// Config holds the project settings read from [ConfigFileName].  Every field has a usable default,
// so the file is optional.
type Config struct {
	// CratesRoot is the directory, relative to the build-system root, under which the rules for
	// third-party packages are generated.
	CratesRoot string `toml:"crates_root"`
	// RegistryURL is the base URL packages are downloaded from:
	// <RegistryURL>/<name>/<name>-<version>.crate.
	RegistryURL string `toml:"registry_url"`
	// PatchFields limits which rule attributes are merged from existing files.  Empty means every
	// attribute that can be merged.
	PatchFields []string `toml:"patch_fields"`
	// NoMerge disables merging entirely; existing files are overwritten.
	NoMerge bool `toml:"no_merge"`
	// Buck2 is the buck2 executable used to query targets.  The project root is found before this
	// file is read, so root discovery only honors [LoadOptions.Buck2].
	Buck2 string `toml:"buck2"`
	Cargo string `toml:"cargo"`
	Rustc string `toml:"rustc"`
	// Target overrides the host target triple used to evaluate platform-specific dependencies.
	Target string `toml:"target"`
	// RootExcludes are extra glob patterns excluded from the sources of local packages.
	RootExcludes []string `toml:"root_excludes"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		CratesRoot:  "third-party/rust/crates",
		RegistryURL: "https://static.crates.io/crates",
		Buck2:       "buck2",
		Cargo:       "cargo",
		Rustc:       "rustc",
	}
}

// LoadConfig reads [ConfigFileName] from the build-system root dir.  A missing file yields
// [DefaultConfig]; a file that cannot be decoded is an [ErrConfiguration].  Fields absent from the
// file keep their default values.
func LoadConfig(root string) (Config, error) {
	cfg := DefaultConfig()
	fn := filepath.Join(root, ConfigFileName)
	md, err := toml.DecodeFile(fn, &cfg)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	} else if err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrConfiguration, fn, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return cfg, fmt.Errorf("%w: %s: unknown keys: %v", ErrConfiguration, fn, undec)
	}
	return cfg, cfg.check()
}

func (cfg *Config) check() error {
	cr := filepath.ToSlash(filepath.Clean(cfg.CratesRoot))
	if cfg.CratesRoot == "" || filepath.IsAbs(cfg.CratesRoot) || cr == "." || strings.HasPrefix(cr, "../") || cr == ".." {
		return fmt.Errorf("%w: crates_root must be a relative path inside the repository, got %q",
			ErrConfiguration, cfg.CratesRoot)
	}
	cfg.CratesRoot = cr
	cfg.RegistryURL = strings.TrimSuffix(cfg.RegistryURL, "/")
	if cfg.RegistryURL == "" {
		return fmt.Errorf("%w: registry_url must not be empty", ErrConfiguration)
	}
	for _, f := range cfg.PatchFields {
		if !rule.IsPatchableField(f) {
			return fmt.Errorf("%w: patch_fields: %q is not an attribute that can be merged", ErrConfiguration, f)
		}
	}
	return nil
}
