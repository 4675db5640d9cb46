/*
Package edge implements the fabric's persistent front door.

The edge router keeps a durable registry of coordinators with
TTL-based liveness (one heartbeat per coordinator per minute) and
forwards every non-API request to a live coordinator, round-robin with
failover. Coordinator records are the only state in the fabric that
survives a restart; workers and their heartbeats never touch it.
*/
package edge
