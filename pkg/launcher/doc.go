/*
Package launcher brings a worker's assigned services up on the host.

Each service runs as a containerd container on the host network (or a
plain process via ExecRuntime when containerd is unavailable), binding
its cataloged port. After starting, the launcher polls the service's
local /health endpoint until it answers or the readiness deadline
expires; a service that never answers is marked degraded and reported
on the worker's next heartbeat.
*/
package launcher
