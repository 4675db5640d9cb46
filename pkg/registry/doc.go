/*
Package registry implements the coordinator's in-memory worker registry.

The registry owns the authoritative worker-id -> record map and a
derived service -> workers inverse index. All operations are safe under
parallel register/heartbeat/proxy traffic; critical sections cover only
map updates, never network I/O.

# Liveness

A worker is live while its last heartbeat is within the worker TTL
(default 5x the heartbeat interval). Stale records are invisible to
every lookup and are lazily purged once they age past twice the TTL,
which also guarantees a worker id is never reallocated while a record
under it could still be live.

# Assignment

Register runs the assignment policy (pkg/assign) under the registry
lock against a snapshot of the non-stale peers, so the service index
and the returned assignment are always coherent. Heartbeats refresh
liveness and load only; they never change assignments.

The inverse index is derived state: when a lookup detects drift between
the index and the primary map it is rebuilt wholesale from the map.
*/
package registry
