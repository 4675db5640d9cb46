/*
Package assign implements the service assignment policy.

Assign is a pure function: given a worker's capabilities, a snapshot of
the non-stale peers from the registry, and the service catalog, it
returns the set of services that worker should run. The registry calls
it under its own lock so the returned set is coherent with the snapshot
it was computed from.

The policy favors closing coverage gaps first (GPU workers take every
uncovered service they can run), then falls back to multitasking while
a tier is sparsely populated and to specialization once it is not.
*/
package assign
