// Package engine implements the renderscan commit walker.
//
// The walker runs once per commit, synchronously, while the host's tree is
// still in its committed state. It pairs every rendered node with its
// alternate, asks the change detector why the node rendered, and returns
// one render record per cause.
//
// ARCHITECTURE:
//
// Commit Classification:
// A root whose alternate had no content and whose current version has
// content is a mount; content on both sides is an update; anything else
// (unmount, dehydrated root) emits nothing.
//
// Traversal:
//   - Mount: pre-order walk of the new subtree, siblings included below the
//     start node.
//   - Update: paired walk of (next, prior). Children are visited only when
//     the child pointer changed, so bailed-out subtrees cost nothing. A
//     child without an alternate is new and is walked as a mount, without
//     its siblings.
//
// Exception Isolation:
// Observing a node runs host formatters and predicates. A panic while
// observing one node skips that node. A panic anywhere else aborts the
// walk with a *WalkError and discards everything staged for the commit.
// Nothing reaches aggregation until Walk returns successfully, so a failed
// commit leaves no partial state.
//
// CRITICAL PATTERNS:
//
// Commit Sequence:
// Every walk is stamped with the next number from its Sequence.
// Replays resume numbering with NewSequenceAt.
package engine
