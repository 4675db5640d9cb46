/*
Package metrics defines the Prometheus collectors for the Hive fabric.

Collectors are package-level and registered in init; the coordinator
and edge router mount Handler at /metrics. Counters cover worker
registrations and heartbeats, reverse-proxy attempts per worker and per
service, edge forwards, and the dispatch path taken by the finger-cache
router (local, cache, dht, http, failed).
*/
package metrics
