package rule

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// A Value is an attribute value that the typed rule model does not know about, recovered verbatim
// from an existing file.  It is one of [String], [Int], [Bool], [None], [List], [Dict] or [*Glob].
type Value interface {
	isValue()
}

type (
	String string
	Int    int64
	Bool   bool
	None   struct{}
	List   []Value
	Dict   map[string]Value
)

func (String) isValue() {}
func (Int) isValue()    {}
func (Bool) isValue()   {}
func (None) isValue()   {}
func (List) isValue()   {}
func (Dict) isValue()   {}
func (*Glob) isValue()  {}

// A Glob is a file pattern set: files matching any include pattern and no exclude pattern.
type Glob struct {
	Include mapset.Set[string]
	Exclude mapset.Set[string]
}

// NewGlob returns a glob with the given include patterns and no exclude patterns.
func NewGlob(include ...string) *Glob {
	return &Glob{Include: NewSet(include...), Exclude: NewSet()}
}

// Empty reports whether g has neither include nor exclude patterns.
func (g *Glob) Empty() bool {
	return g == nil || setEmpty(g.Include) && setEmpty(g.Exclude)
}

// union returns a glob matching the patterns of both g and other.
func (g *Glob) union(other *Glob) *Glob {
	switch {
	case g == nil:
		return other
	case other == nil:
		return g
	}
	return &Glob{Include: setUnion(g.Include, other.Include), Exclude: setUnion(g.Exclude, other.Exclude)}
}

// NewSet returns a set holding items.  Rules are built and consumed by a single goroutine, so the
// set is not thread-safe.
func NewSet(items ...string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(items...)
}

// Sorted returns the elements of s in lexicographic order.  A nil set is empty.
func Sorted(s mapset.Set[string]) []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(mapset.Elements(s))
}

func setEmpty(s mapset.Set[string]) bool { return s == nil || s.Cardinality() == 0 }

// setUnion returns a new set holding the elements of a and b.  Either may be nil.
func setUnion(a, b mapset.Set[string]) mapset.Set[string] {
	u := NewSet()
	for _, s := range []mapset.Set[string]{a, b} {
		if s != nil {
			u.Append(s.ToSlice()...)
		}
	}
	return u
}
