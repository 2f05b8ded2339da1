package ttree

import "context"

// PathStep names one node on the root-to-target path for the
// records-in-range estimator (spec.md §4.11): its occupancy and which
// child slot the path descends through next (or, for the final step,
// which slot the target position itself falls in).
type PathStep struct {
	Occup int
	// Side is 0 (left) or 1 (right); Root is reported as Side 1 so a path
	// starting at the root never biases getEntriesBeforeOrAfter's "branch
	// to the other side" check, mirroring DbtuxStat.cpp's getPathToNode
	// encoding the root's own side as irrelevant (path[0] is never tested).
	Side int
}

// PathToRoot walks pos's node up to the tree root, returning the path in
// root-to-node order with each step's occupancy and branch side — the
// input stats/'s getEntriesBeforeOrAfter needs to replay
// DbtuxStat.cpp's "perfectly balanced subtree" estimate without reaching
// into ttree's unexported node representation.
func (t *Tree) PathToRoot(ctx context.Context, pos Position) ([]PathStep, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var reversed []PathStep
	n, err := t.selectNode(ctx, pos.Node)
	if err != nil {
		return nil, err
	}
	for {
		s := 1
		if n.side == sideLeft {
			s = 0
		}
		reversed = append(reversed, PathStep{Occup: n.occup(), Side: s})
		if n.side == sideRoot {
			break
		}
		n, err = t.selectNode(ctx, n.parent)
		if err != nil {
			return nil, err
		}
	}
	path := make([]PathStep, len(reversed))
	for i, s := range reversed {
		path[len(reversed)-1-i] = s
	}
	return path, nil
}
