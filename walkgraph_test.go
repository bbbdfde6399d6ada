package buckal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type tNode string
type tGraph map[tNode][]tNode

func (g tGraph) edges(n tNode) iter.Seq[tNode] { return slices.Values(g[n]) }

// recordEdges wraps g.edges to record the order in which nodes are first reached.
func recordEdges(g tGraph, visits *[]tNode) func(tNode) iter.Seq[tNode] {
	return func(n tNode) iter.Seq[tNode] {
		*visits = append(*visits, n)
		return g.edges(n)
	}
}

func TestWalkGraph(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		desc       string
		g          tGraph
		starts     []tNode
		wantVisits []tNode
		wantPost   []tNode
	}{
		{
			desc:       "single node",
			g:          tGraph{"a": nil},
			starts:     []tNode{"a"},
			wantVisits: []tNode{"a"},
			wantPost:   []tNode{"a"},
		},
		{
			desc:       "simple dep",
			g:          tGraph{"a": {"b"}, "b": nil},
			starts:     []tNode{"a"},
			wantVisits: []tNode{"a", "b"},
			wantPost:   []tNode{"b", "a"},
		},
		{
			desc:       "diamond",
			g:          tGraph{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}, "d": nil},
			starts:     []tNode{"a"},
			wantVisits: []tNode{"a", "b", "d", "c"},
			wantPost:   []tNode{"d", "b", "c", "a"},
		},
		{
			desc:       "cycle",
			g:          tGraph{"a": {"b"}, "b": {"a"}},
			starts:     []tNode{"a"},
			wantVisits: []tNode{"a", "b"},
			wantPost:   []tNode{"b", "a"},
		},
		{
			desc:       "multiple starts",
			g:          tGraph{"a": {"c"}, "b": {"c"}, "c": nil},
			starts:     []tNode{"b", "a"},
			wantVisits: []tNode{"b", "c", "a"},
			wantPost:   []tNode{"c", "b", "a"},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			var visits, post []tNode
			postVisit := func(ctx context.Context, n tNode) error {
				if !slices.Contains(visits, n) {
					t.Fatalf("node %v post-visited before it was visited", n)
				}
				post = append(post, n)
				return nil
			}
			if err := walkGraph(t.Context(), slices.Values(tc.starts), recordEdges(tc.g, &visits), postVisit); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.wantVisits, visits); diff != "" {
				t.Errorf("visit order differs (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantPost, post); diff != "" {
				t.Errorf("post-visit order differs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWalkGraph_DependenciesFirst(t *testing.T) {
	t.Parallel()
	g := newHighFanOutFanInGraph(t)
	done := map[tNode]bool{}
	postVisit := func(ctx context.Context, n tNode) error {
		for _, child := range g[n] {
			if !done[child] {
				t.Errorf("%v post-visited before its dependency %v", n, child)
			}
		}
		done[n] = true
		return nil
	}
	if err := walkGraph(t.Context(), slices.Values([]tNode{"a"}), g.edges, postVisit); err != nil {
		t.Fatal(err)
	}
	if got, want := len(done), len(g); got != want {
		t.Errorf("got %v post-visits, want %v", got, want)
	}
}

func TestWalkGraph_ErrorHandling(t *testing.T) {
	t.Parallel()
	g := newHighFanOutFanInGraph(t)
	gotPosts := 0
	postVisit := func(ctx context.Context, n tNode) error {
		gotPosts++
		if n == "b_1" {
			return testErr
		}
		return nil
	}
	gotErr := walkGraph(t.Context(), slices.Values([]tNode{"a"}), g.edges, postVisit)
	if !errors.Is(gotErr, testErr) {
		t.Errorf("got error %v, want %v", gotErr, testErr)
	}
	// c, b_0, b_1
	if want := 3; gotPosts != want {
		t.Errorf("got %v post-visits, want %v", gotPosts, want)
	}
}

func TestWalkGraph_ContextCancel(t *testing.T) {
	t.Parallel()
	g := newHighFanOutFanInGraph(t)
	ctx, cancel := context.WithCancelCause(t.Context())
	defer cancel(nil)
	var visits []tNode
	edges := func(n tNode) iter.Seq[tNode] {
		if n == "b_3" {
			cancel(testErr)
		}
		return recordEdges(g, &visits)(n)
	}
	gotErr := walkGraph(ctx, slices.Values([]tNode{"a"}), edges, func(context.Context, tNode) error { return nil })
	if !errors.Is(gotErr, testErr) {
		t.Errorf("got error %v, want %v", gotErr, testErr)
	}
	// a, b_0, c, b_1, b_2, b_3
	if want := 6; len(visits) != want {
		t.Errorf("got %v visits, want %v", len(visits), want)
	}
}

func TestPostorder(t *testing.T) {
	t.Parallel()
	g := tGraph{"a": {"b", "c"}, "b": {"c"}, "c": nil}
	seq, errFn := postorder(t.Context(), slices.Values([]tNode{"a"}), g.edges)
	if diff := cmp.Diff([]tNode{"c", "b", "a"}, slices.Collect(seq)); diff != "" {
		t.Errorf("postorder differs (-want +got):\n%s", diff)
	}
	if err := errFn(); err != nil {
		t.Errorf("got error %v", err)
	}
	// Breaking out early is not an error.
	for range seq {
		break
	}
	if err := errFn(); err != nil {
		t.Errorf("got error %v after break", err)
	}
}

func newHighFanOutFanInGraph(t *testing.T) tGraph {
	t.Helper()
	g := tGraph{"c": nil}
	const fanOut = 1000
	for i := range fanOut {
		n := tNode(fmt.Sprintf("b_%v", i))
		g["a"] = append(g["a"], n)
		g[n] = []tNode{"c"}
	}
	if len(slices.Collect(maps.Keys(g))) != fanOut+2 {
		t.Fatalf("test setup failed")
	}
	return g
}

type testError struct{}

func (_ testError) Error() string {
	return "testError"
}

var testErr error = testError{}
