package buckal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rhansen/buckal/internal/command"
)

// cargoMetadata is the subset of `cargo metadata --format-version 1` output that is needed to
// build a [Graph].
type cargoMetadata struct {
	Packages []struct {
		Id           PackageId `json:"id"`
		Name         string    `json:"name"`
		Version      string    `json:"version"`
		Source       *string   `json:"source"`
		ManifestPath string    `json:"manifest_path"`
		Edition      string    `json:"edition"`
		Links        *string   `json:"links"`
		Description  *string   `json:"description"`
		Targets      []struct {
			Name    string       `json:"name"`
			Kind    []TargetKind `json:"kind"`
			SrcPath string       `json:"src_path"`
			Edition string       `json:"edition"`
		} `json:"targets"`
	} `json:"packages"`
	WorkspaceMembers []PackageId `json:"workspace_members"`
	Resolve          *struct {
		Nodes []struct {
			Id   PackageId `json:"id"`
			Deps []struct {
				Name     string    `json:"name"`
				Pkg      PackageId `json:"pkg"`
				DepKinds []DepKind `json:"dep_kinds"`
			} `json:"deps"`
			Features []string `json:"features"`
		} `json:"nodes"`
		Root *PackageId `json:"root"`
	} `json:"resolve"`
	WorkspaceRoot string `json:"workspace_root"`
}

func deref[T any](p *T) T {
	if p == nil {
		return *new(T)
	}
	return *p
}

func (md *cargoMetadata) graph() (*Graph, error) {
	if md.Resolve == nil {
		return nil, fmt.Errorf("%w: cargo metadata has no dependency resolution", ErrConfiguration)
	}
	pkgs := make([]Package, 0, len(md.Packages))
	for _, mp := range md.Packages {
		p := Package{
			Id:           mp.Id,
			Name:         mp.Name,
			Version:      mp.Version,
			Source:       deref(mp.Source),
			ManifestPath: mp.ManifestPath,
			Edition:      mp.Edition,
			Links:        deref(mp.Links),
			Description:  deref(mp.Description),
		}
		for _, mt := range mp.Targets {
			p.Targets = append(p.Targets, Target{
				Name:    mt.Name,
				Kinds:   mt.Kind,
				SrcPath: mt.SrcPath,
				Edition: mt.Edition,
			})
		}
		pkgs = append(pkgs, p)
	}
	nodes := make([]Node, 0, len(md.Resolve.Nodes))
	for _, mn := range md.Resolve.Nodes {
		n := Node{Id: mn.Id, Features: mn.Features}
		for _, d := range mn.Deps {
			n.Deps = append(n.Deps, Edge{Name: d.Name, Pkg: d.Pkg, Kinds: d.DepKinds})
		}
		nodes = append(nodes, n)
	}
	g, err := NewGraph(pkgs, nodes, deref(md.Resolve.Root), md.WorkspaceMembers)
	if err != nil {
		return nil, err
	}
	g.WorkspaceRoot = md.WorkspaceRoot
	return g, nil
}

// ParseMetadata builds a [Graph] from the JSON output of `cargo metadata --format-version 1`.
func ParseMetadata(data []byte) (*Graph, error) {
	var md cargoMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode cargo metadata: %w", err)
	}
	return md.graph()
}

// LoadMetadata runs `cargo metadata` for the workspace containing manifestPath (or the current
// directory if empty) and builds a [Graph] from its output.
func LoadMetadata(ctx context.Context, cargo, manifestPath string) (*Graph, error) {
	args := []string{cargo, "metadata", "--format-version", "1"}
	if manifestPath != "" {
		args = append(args, "--manifest-path", manifestPath)
	}
	md, err := command.DecodeJson[cargoMetadata](ctx, "", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubprocess, err)
	}
	g, err := md.graph()
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "loaded cargo metadata",
		"workspace", g.WorkspaceRoot, "root", g.Root(), "nodes", g.Len())
	return g, nil
}
