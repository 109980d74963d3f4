package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/renderscan/internal/detect"
	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/tree"
)

// Mode is the classification of a commit.
type Mode int

const (
	// ModeNone is a commit that emits nothing (unmount, dehydrated root).
	ModeNone Mode = iota
	// ModeMount is the first commit of a root's content.
	ModeMount
	// ModeUpdate is a commit on already mounted content.
	ModeUpdate
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeMount:
		return "mount"
	case ModeUpdate:
		return "update"
	default:
		return "none"
	}
}

// Emission is the record set of one rendered node.
type Emission struct {
	Node    *tree.Node
	Records []ir.RenderRecord
}

// Result is the outcome of one commit walk.
type Result struct {
	Commit int64
	Mode   Mode
	// Visited counts every node the traversal reached, filtered or not.
	Visited int
	// Skipped counts nodes whose observation panicked.
	Skipped   int
	Emissions []Emission
}

// Records returns the total number of records across emissions.
func (r Result) Records() int {
	n := 0
	for _, e := range r.Emissions {
		n += len(e.Records)
	}
	return n
}

// Walker is the commit walker.
//
// Thread-safety: a Walker holds no per-commit state between calls, but Walk
// reads the host tree, so calls must be serialized with commits.
type Walker struct {
	filter     func(*tree.Node) bool
	recordable func(*tree.Node) bool
	detector   detect.Detector
	seq        *Sequence
	logger     *slog.Logger
	maxNodes   int
}

// WalkerOption allows configuration of walker parameters.
type WalkerOption func(*Walker)

// WithFilter replaces tree.ShouldFilter. Filtered nodes are traversed but
// never recorded. The predicate runs during traversal: a panic in it aborts
// the commit.
func WithFilter(filter func(*tree.Node) bool) WalkerOption {
	return func(w *Walker) {
		w.filter = filter
	}
}

// WithRecordable sets the recordability predicate, typically an allow-list.
// Default: every node is recordable.
func WithRecordable(recordable func(*tree.Node) bool) WalkerOption {
	return func(w *Walker) {
		w.recordable = recordable
	}
}

// WithDetector sets the change detector.
func WithDetector(d detect.Detector) WalkerOption {
	return func(w *Walker) {
		w.detector = d
	}
}

// WithSequence sets the commit numbering.
// Use WithSequence(NewSequenceAt(n)) to continue after n commits.
func WithSequence(s *Sequence) WalkerOption {
	return func(w *Walker) {
		w.seq = s
	}
}

// WithLogger sets the logger used at the recovery boundaries.
func WithLogger(l *slog.Logger) WalkerOption {
	return func(w *Walker) {
		w.logger = l
	}
}

// WithMaxNodes bounds the nodes one walk may visit. A walk past the bound
// is aborted with ErrCodeNodeBudget. 0 disables the bound.
// Default: DefaultMaxNodes.
func WithMaxNodes(n int) WalkerOption {
	return func(w *Walker) {
		w.maxNodes = n
	}
}

// NewWalker creates a Walker.
func NewWalker(opts ...WalkerOption) *Walker {
	w := &Walker{
		filter:     tree.ShouldFilter,
		recordable: func(*tree.Node) bool { return true },
		seq:        NewSequence(),
		logger:     slog.Default(),
		maxNodes:   DefaultMaxNodes,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// walk holds the state of one commit walk.
type walk struct {
	*Walker
	res     Result
	current *tree.Node
	quota   *nodeQuota
}

// Walk classifies the commit, traverses the rendered part of the tree and
// returns the staged records.
//
// Walk never panics. On error the returned Result carries only the commit
// number; no records from the failed commit are returned.
func (w *Walker) Walk(root *tree.Root) (res Result, err error) {
	commit := w.seq.Next()
	if root == nil || root.Current == nil {
		return Result{Commit: commit}, &WalkError{
			Code:    ErrCodeNilRoot,
			Message: "commit has no root",
			Commit:  commit,
		}
	}

	st := &walk{Walker: w, res: Result{Commit: commit}, quota: newNodeQuota(w.maxNodes)}
	defer func() {
		if r := recover(); r != nil {
			we := &WalkError{
				Code:    ErrCodeWalkPanic,
				Message: fmt.Sprint(r),
				Commit:  commit,
				Node:    st.current.Name(),
			}
			if ne, ok := r.(*nodesExceeded); ok {
				we.Code, we.Message = ErrCodeNodeBudget, ne.Error()
			}
			w.logger.Error("commit walk aborted",
				"commit", commit,
				"node", we.Node,
				"panic", r,
			)
			res, err = Result{Commit: commit}, we
		}
	}()

	current := root.Current
	wasMounted := current.Alternate != nil && tree.HasContent(current.Alternate)
	isMounted := tree.HasContent(current)

	switch {
	case !wasMounted && isMounted:
		st.res.Mode = ModeMount
		st.mount(current, false)
	case wasMounted && isMounted:
		st.res.Mode = ModeUpdate
		st.update(current, current.Alternate)
	}

	w.logger.Debug("commit walked",
		"commit", commit,
		"mode", st.res.Mode.String(),
		"visited", st.res.Visited,
		"emissions", len(st.res.Emissions),
	)
	return st.res, nil
}

// mount walks n (and its siblings when traverseSiblings) in pre-order.
func (st *walk) mount(n *tree.Node, traverseSiblings bool) {
	for ; n != nil; n = n.Sibling {
		st.visit(n)
		if n.Child != nil {
			st.mount(n.Child, true)
		}
		if !traverseSiblings {
			return
		}
	}
}

// update walks the pair (next, prev), descending only into changed children.
func (st *walk) update(next, prev *tree.Node) {
	if prev == nil {
		return
	}
	st.visit(next)

	if next.Child == prev.Child {
		return
	}
	for child := next.Child; child != nil; child = child.Sibling {
		if child.Alternate != nil {
			st.update(child, child.Alternate)
		} else {
			st.mount(child, false)
		}
	}
}

func (st *walk) visit(n *tree.Node) {
	if err := st.quota.Check(st.res.Commit); err != nil {
		panic(err)
	}
	st.current = n
	st.res.Visited++
	if st.filter(n) {
		return
	}
	records, ok := st.observe(n)
	if !ok {
		st.res.Skipped++
		return
	}
	if len(records) > 0 {
		st.res.Emissions = append(st.res.Emissions, Emission{Node: n, Records: records})
	}
}

// observe computes the record set of one node, isolating host panics.
func (st *walk) observe(n *tree.Node) (records []ir.RenderRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			st.logger.Warn("node observation failed",
				"commit", st.res.Commit,
				"node", n.Name(),
				"panic", r,
			)
			records, ok = nil, false
		}
	}()
	return st.classify(n), true
}

// classify emits one record per distinguishable cause, or a single misc
// record when the node rendered with none.
func (st *walk) classify(n *tree.Node) []ir.RenderRecord {
	if n.Type == nil || !tree.DidRender(n) || !st.recordable(n) {
		return nil
	}

	var prevProps *ir.Object
	if n.Alternate != nil {
		prevProps = n.Alternate.Props
	}
	propChanges := st.detector.Compare(prevProps, n.Props)
	contextChanges := st.detector.CompareContexts(tree.ContextPairs(n))
	trigger := tree.StateChanged(n)

	base := ir.RenderRecord{
		ComponentName: n.Type.Label(),
		SelfTime:      tree.SelfTime(n),
		Forget:        n.MemoCache,
		Count:         1,
	}

	var records []ir.RenderRecord
	if len(propChanges) > 0 {
		r := base
		r.Kind = ir.KindProps
		r.Changes = propChanges
		r.Trigger = trigger
		records = append(records, r)
	}
	if len(contextChanges) > 0 {
		r := base
		r.Kind = ir.KindContext
		r.Changes = contextChanges
		r.Trigger = trigger
		records = append(records, r)
	}
	if trigger {
		r := base
		r.Kind = ir.KindState
		r.Trigger = true
		records = append(records, r)
	}
	if len(records) == 0 {
		r := base
		r.Kind = ir.KindMisc
		records = append(records, r)
	}
	return records
}
