/*
Package health provides the readiness probes used by the worker agent's
service launcher.

HTTPChecker hits a service container's local /health endpoint;
TCPChecker covers services that expose no HTTP surface. WaitReady polls
a checker until the service is ready or the launch deadline expires.
*/
package health
