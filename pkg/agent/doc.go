/*
Package agent implements the worker-side lifecycle.

A run moves through detect, tunnel, register, launch, and heartbeat.
Transient failures retry with bounded exponential backoff; a
registration that stays failing for five minutes reseeds coordinators
from the edge router before giving up. The coordinator's registration
answer is authoritative, including the worker id.

The agent also serves the worker's HTTP surface through the tunnel:
/health and /stats for observation, and POST /service/{name} for
request dispatch via the finger-cache router.
*/
package agent
