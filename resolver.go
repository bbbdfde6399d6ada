package buckal

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/rhansen/buckal/internal/command"
)

// A TargetResolver maps a local package to the label of the build rule that compiles its library.
// Third-party packages never go through a resolver; their labels are derived from their name and
// version.
type TargetResolver interface {
	Resolve(ctx context.Context, p *Package) (string, error)
}

// MapResolver is a [TargetResolver] backed by a fixed table.
type MapResolver map[PackageId]string

func (m MapResolver) Resolve(_ context.Context, p *Package) (string, error) {
	label, ok := m[p.Id]
	if !ok {
		return "", fmt.Errorf("%w: no build rule known for local package %v", ErrConfiguration, p)
	}
	return label, nil
}

type buck2Target struct {
	Type    string `json:"buck.type"`
	Package string `json:"buck.package"`
	Name    string `json:"name"`
	Crate   string `json:"crate"`
}

// Buck2Resolver queries `buck2 targets` for the rules declared in a local package's directory and
// picks the Rust library whose crate matches the package's library.  Answers are remembered for
// the lifetime of the resolver.
type Buck2Resolver struct {
	// Buck2 is the buck2 executable.
	Buck2 string
	// Root is the build-system root directory.
	Root  string
	known map[PackageId]string
}

// NewBuck2Resolver returns a resolver that runs buck2 in the build-system root dir.
func NewBuck2Resolver(buck2, root string) *Buck2Resolver {
	return &Buck2Resolver{Buck2: buck2, Root: root, known: map[PackageId]string{}}
}

// packagePath returns the buck2 package path ("//dir") of a directory inside root.
func packagePath(root, dir string) (string, error) {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s is outside the build-system root %s", ErrConfiguration, dir, root)
	}
	if rel == "." {
		rel = ""
	}
	return "//" + rel, nil
}

func (r *Buck2Resolver) Resolve(ctx context.Context, p *Package) (string, error) {
	if label, ok := r.known[p.Id]; ok {
		return label, nil
	}
	lib := p.Library()
	if lib == nil {
		return "", fmt.Errorf("%w: local package %v has no library target", ErrConfiguration, p)
	}
	pkgPath, err := packagePath(r.Root, p.Dir())
	if err != nil {
		return "", err
	}
	pattern := pkgPath + ":"
	targets, err := command.DecodeJson[[]buck2Target](ctx, r.Root, r.Buck2, "targets", pattern, "--json")
	if err != nil {
		return "", fmt.Errorf("%w: failed to list the build rules of %v in %s: %w",
			ErrSubprocess, p, pattern, err)
	}
	for _, t := range targets {
		if !strings.HasSuffix(t.Type, "rust_library") {
			continue
		}
		crate := t.Crate
		if crate == "" {
			crate = normalizeName(t.Name)
		}
		if crate == lib.CrateName() {
			label := pkgPath + ":" + t.Name
			slog.DebugContext(ctx, "resolved local package", "pkg", p.Id, "label", label)
			r.known[p.Id] = label
			return label, nil
		}
	}
	return "", fmt.Errorf("%w: no rust_library for crate %s found in %s (needed for local package %v)",
		ErrConfiguration, lib.CrateName(), pattern, p)
}
