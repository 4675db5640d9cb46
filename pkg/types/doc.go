/*
Package types defines the core data structures shared across the Hive fabric.

It contains the domain model for the control plane: worker records and their
capabilities, coordinator records held by the edge router, the typed enums for
worker tiers and service states, and every JSON request/response body exchanged
between the agent, coordinator, and edge router.

# Core Types

Cluster topology:
  - Worker: a registered contributor machine with its tunnel URL, optional
    mesh IP, capabilities, assigned services, and heartbeat bookkeeping
  - Coordinator: a coordinator as tracked by the edge router
  - WorkerType: gpu, cpu, storage, edge, or auto (resolved at detection)
  - Tier: coarse service class (1 gpu, 2 cpu, 3 storage, 4 edge)

Wire types:
  - RegisterRequest / RegisterResponse
  - HeartbeatRequest / HeartbeatResponse
  - DiscoverResponse, BootstrapResponse, ErrorResponse, Gap

Worker status (healthy, stale, dead) is always derived from the last
heartbeat against a TTL, never stored; see Worker.Status.

# Design Patterns

All enums use typed string constants. Optional heartbeat counters are
pointers so absent fields survive the round trip unchanged. Types are
write-unsafe; the registry layer owns synchronization and hands out
clones (Worker.Clone) rather than aliased pointers.
*/
package types
