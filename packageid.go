package buckal

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
)

// A PackageId is cargo's opaque identifier for a package in a resolved graph, for example
// "registry+https://github.com/rust-lang/crates.io-index#regex@1.10.2".  It is the key of the
// [Cache] and of every [Graph] lookup.
type PackageId string

// A PackageRef is the decoded form of a [PackageId].  It is used when only the identifier is
// available, for example when deleting the output of a package that is no longer in the graph.
type PackageRef struct {
	// Source is the package source with its kind prefix, e.g. "registry+https://..." or
	// "path+file:///...".
	Source  string
	Name    string
	Version string
}

// IsLocal reports whether the package comes from the local filesystem (a workspace member or path
// dependency) rather than a registry or git repository.
func (r PackageRef) IsLocal() bool {
	return strings.HasPrefix(r.Source, "path+")
}

// Dir returns the directory of a local package, or "" if the package is not local or its source
// cannot be decoded.
func (r PackageRef) Dir() string {
	src, ok := strings.CutPrefix(r.Source, "path+")
	if !ok {
		return ""
	}
	u, err := url.Parse(src)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return filepath.FromSlash(u.Path)
}

func (r PackageRef) String() string {
	return r.Name + "@" + r.Version
}

// ParsePackageId decodes both of cargo's package id spellings:
//
//	registry+https://github.com/rust-lang/crates.io-index#regex@1.10.2
//	path+file:///home/me/app#0.1.0
//	regex 1.10.2 (registry+https://github.com/rust-lang/crates.io-index)
//
// In the second form the package name is the last element of the source path.
func ParsePackageId(id PackageId) (PackageRef, error) {
	s := string(id)
	if strings.HasSuffix(s, ")") {
		name, rest, _ := strings.Cut(s, " ")
		ver, src, ok := strings.Cut(rest, " ")
		if !ok || !strings.HasPrefix(src, "(") || !strings.HasSuffix(src, ")") {
			return PackageRef{}, fmt.Errorf("malformed package id %q", s)
		}
		return PackageRef{Source: src[1 : len(src)-1], Name: name, Version: ver}, nil
	}
	i := strings.LastIndexByte(s, '#')
	if i < 0 {
		return PackageRef{}, fmt.Errorf("malformed package id %q: missing '#'", s)
	}
	ref := PackageRef{Source: s[:i]}
	frag := s[i+1:]
	if name, ver, ok := strings.Cut(frag, "@"); ok {
		ref.Name, ref.Version = name, ver
	} else {
		u, err := url.Parse(ref.Source[strings.IndexByte(ref.Source, '+')+1:])
		if err != nil {
			return PackageRef{}, fmt.Errorf("malformed package id %q: %w", s, err)
		}
		ref.Name, ref.Version = path.Base(u.Path), frag
	}
	if ref.Name == "" || ref.Version == "" {
		return PackageRef{}, fmt.Errorf("malformed package id %q: empty name or version", s)
	}
	return ref, nil
}

// PackageIdCompare is used to sort a collection of [PackageId] values.  Local packages sort before
// all others, then packages are ordered by name and then by semantic version.  Identifiers that
// cannot be parsed fall back to [strings.Compare].
func PackageIdCompare(a, b PackageId) int {
	ra, errA := ParsePackageId(a)
	rb, errB := ParsePackageId(b)
	if errA != nil || errB != nil {
		return strings.Compare(string(a), string(b))
	}
	if la, lb := ra.IsLocal(), rb.IsLocal(); la != lb {
		if la {
			return -1
		}
		return 1
	}
	if c := strings.Compare(ra.Name, rb.Name); c != 0 {
		return c
	}
	if c := semver.Compare("v"+ra.Version, "v"+rb.Version); c != 0 {
		return c
	}
	return strings.Compare(string(a), string(b))
}
