/*
Package client is the JSON HTTP client for the Hive control-plane APIs.

Agents point it at an edge router URL; the edge router forwards every
call to a live coordinator. Coordinators use the same client to
register and heartbeat against the edge router. Non-2xx replies
surface as *StatusError carrying the decoded error body, so callers
can distinguish "no workers" (503) from transport failures.
*/
package client
