package buckal

import (
	"context"
	"errors"
	"iter"
	"log/slog"
)

// walkGraph does a depth-first walk from each of the start nodes in turn, reaching every node
// exactly once.  postVisit is called once every node reachable through the node's edges has been
// post-visited, except for nodes that are still being walked (an edge that closes a cycle is
// ignored).  Nodes and edges are processed in the order the iterators yield them, so the walk is
// deterministic if they are.  edges is called once per node, when it is first reached.
//
// The context is checked before each node is visited.
func walkGraph[N comparable](ctx context.Context, starts iter.Seq[N], edges func(m N) iter.Seq[N],
	postVisit func(ctx context.Context, m N) error) (retErr error) {

	slog.DebugContext(ctx, "walkGraph start")
	nNodes := 0
	nEdges := 0
	defer func() {
		slog.DebugContext(ctx, "walkGraph done", "nodes", nNodes, "edges", nEdges, "err", retErr)
	}()
	seen := map[N]struct{}{}
	var visit func(m N) error
	visit = func(m N) error {
		if _, ok := seen[m]; ok {
			return nil
		}
		if err := context.Cause(ctx); err != nil {
			return err
		}
		seen[m] = struct{}{}
		nNodes++
		for child := range edges(m) {
			nEdges++
			if err := visit(child); err != nil {
				return err
			}
		}
		return postVisit(ctx, m)
	}
	for m := range starts {
		if err := visit(m); err != nil {
			return err
		}
	}
	return nil
}

// postorder returns the nodes reachable from starts, each after the nodes it depends on (cycles
// aside).  The returned function reports the error that ended the iteration, if any.
func postorder[N comparable](ctx context.Context, starts iter.Seq[N], edges func(m N) iter.Seq[N]) (iter.Seq[N], func() error) {
	var retErr error
	return func(yield func(N) bool) {
		retErr = walkGraph(ctx, starts, edges, func(_ context.Context, m N) error {
			if !yield(m) {
				return walkStopErr
			}
			return nil
		})
		if errors.Is(retErr, walkStopErr) {
			retErr = nil
		}
	}, func() error { return retErr }
}

type walkStopError struct{}

func (_ walkStopError) Error() string { return "stop" }

var walkStopErr error = walkStopError{}
