package buckal

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// A Fingerprint is a content hash of a [Node]'s canonical encoding.  Two nodes with the same
// fingerprint are considered identical for regeneration purposes.
type Fingerprint [sha256.Size]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// canonicalNode is the hashed form of a [Node].  Only the package id and the semantic resolution
// (features, edges, edge kinds and predicates) are included; the field numbers are part of the
// fingerprint and must never be reused.
type canonicalNode struct {
	Id       PackageId       `cbor:"1,keyasint"`
	Features []string        `cbor:"2,keyasint"`
	Deps     []canonicalEdge `cbor:"3,keyasint"`
}

type canonicalEdge struct {
	Pkg   PackageId `cbor:"1,keyasint"`
	Name  string    `cbor:"2,keyasint"`
	Kinds []DepKind `cbor:"3,keyasint"`
}

var fingerprintEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("bug: invalid CBOR encoding options: %w", err))
	}
	return em
}()

func depKindCompare(a, b DepKind) int {
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	return cmp.Compare(a.Target, b.Target)
}

func canonicalize(n *Node) canonicalNode {
	cn := canonicalNode{
		Id:       n.Id,
		Features: slices.Compact(slices.Sorted(slices.Values(n.Features))),
		Deps:     make([]canonicalEdge, 0, len(n.Deps)),
	}
	for _, e := range n.Deps {
		kinds := slices.SortedFunc(slices.Values(e.Kinds), depKindCompare)
		cn.Deps = append(cn.Deps, canonicalEdge{
			Pkg:   e.Pkg,
			Name:  e.Name,
			Kinds: slices.Compact(kinds),
		})
	}
	slices.SortFunc(cn.Deps, func(a, b canonicalEdge) int {
		if c := cmp.Compare(a.Pkg, b.Pkg); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return cn
}

// Fingerprint hashes the node's canonical encoding.  Reordering features, edges or edge kinds does
// not change the result; adding, removing or altering any of them does.
func (n *Node) Fingerprint() Fingerprint {
	data, err := fingerprintEncMode.Marshal(canonicalize(n))
	if err != nil {
		panic(fmt.Errorf("bug: failed to encode node %v: %w", n.Id, err))
	}
	return sha256.Sum256(data)
}
