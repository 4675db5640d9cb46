/*
Package coordinator implements the control-plane server that owns the
worker registry and fronts every worker-hosted service.

The server exposes four surfaces on one listener:

  - worker lifecycle: /api/worker/register, /api/worker/heartbeat,
    /api/worker/deregister
  - admin reads: /api/admin/workers, /api/admin/services,
    /api/admin/gaps, /api/admin/stats
  - peer discovery: /api/services/list,
    /api/services/discover/{service}
  - reverse proxy: /service/{service}/{rest} streams requests to a
    worker assigned that service, round-robin with failover across up
    to three workers

Worker state is in-process only; workers re-register after a
coordinator restart when their next heartbeat is rejected. When an
edge router URL is configured the coordinator keeps itself registered
there with a once-a-minute heartbeat.
*/
package coordinator
