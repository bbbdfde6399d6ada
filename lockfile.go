package buckal

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type lockfile struct {
	Version  int `toml:"version"`
	Packages []struct {
		Name     string `toml:"name"`
		Version  string `toml:"version"`
		Source   string `toml:"source"`
		Checksum string `toml:"checksum"`
	} `toml:"package"`
}

// ChecksumKey returns the key of a package in the map returned by [LoadChecksums].
func ChecksumKey(name, version string) string {
	return name + "-" + version
}

// LoadChecksums reads a Cargo.lock file and returns the SHA-256 checksum of every registry package,
// keyed by [ChecksumKey].  Packages without a checksum (local and git packages) are omitted.
func LoadChecksums(path string) (map[string]string, error) {
	var lf lockfile
	if _, err := toml.DecodeFile(path, &lf); err != nil {
		return nil, fmt.Errorf("failed to read lock file %s: %w", path, err)
	}
	sums := map[string]string{}
	for _, p := range lf.Packages {
		if p.Checksum == "" {
			continue
		}
		sums[ChecksumKey(p.Name, p.Version)] = p.Checksum
	}
	return sums, nil
}
