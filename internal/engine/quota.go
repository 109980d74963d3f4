package engine

import "fmt"

// DefaultMaxNodes bounds the nodes one commit walk may visit. A malformed
// tree whose child or sibling links form a loop exhausts it instead of
// walking forever.
const DefaultMaxNodes = 1 << 20

// nodeQuota counts the nodes visited by one walk against a limit.
//
// Each walk has its own nodeQuota. The quota is checked on every visit,
// before the node is observed.
type nodeQuota struct {
	maxNodes int // Maximum allowed visits; 0 disables the check
	current  int // Visits so far
}

func newNodeQuota(maxNodes int) *nodeQuota {
	return &nodeQuota{maxNodes: maxNodes}
}

// Check increments the visit counter and validates it against the limit.
func (q *nodeQuota) Check(commit int64) error {
	q.current++
	if q.maxNodes > 0 && q.current > q.maxNodes {
		return &nodesExceeded{Commit: commit, Nodes: q.current, Limit: q.maxNodes}
	}
	return nil
}

// nodesExceeded aborts a walk that ran past its quota. It travels as a
// panic value to the walk's recovery boundary, which turns it into a
// WalkError with ErrCodeNodeBudget.
type nodesExceeded struct {
	Commit int64
	Nodes  int
	Limit  int
}

func (e *nodesExceeded) Error() string {
	return fmt.Sprintf("commit %d exceeded max nodes quota: %d nodes > %d limit", e.Commit, e.Nodes, e.Limit)
}
