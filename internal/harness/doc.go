// Package harness replays commit traces against a real instance.
//
// A scenario is a YAML file describing a sequence of steps: commits of a
// component tree, clock advances, user interactions, flushes and outline
// drains. The harness keeps a double-buffered tree the way a host runtime
// does: a node that appears again under the same id reuses its other
// buffer, so identity across commits is exercised exactly as in production.
//
// # Values
//
// Props, state and context values are YAML values. Mappings and sequences
// are recreated on every commit, so an unchanged literal shows up as an
// unstable change. Directives give control over identity:
//
//	style: {$ref: theme}     # same reference in every commit
//	onClick: {$fn: submit}   # a new function every commit
//	icon: {$element: Icon}   # a UI element, never diffed
//
// # Determinism
//
// The clock is manual and starts at testutil.Epoch, the session id is fixed
// and batches are delivered to an in-process sink unless a transport is
// supplied. The same scenario always produces the same trace and the same
// batch bytes, which is what golden files compare.
//
// # Example
//
//	name: bump
//	description: a state update re-renders the counter
//	steps:
//	  - commit:
//	      tree:
//	        - {id: counter, type: Counter, state: [0], duration: 1}
//	  - commit:
//	      tree:
//	        - {id: counter, type: Counter, state: [1], duration: 1}
//	assertions:
//	  - {type: record_kinds, node: counter, commit: 2, kinds: [state]}
package harness
