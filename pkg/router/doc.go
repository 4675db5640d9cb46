/*
Package router implements the worker-side request dispatcher.

A request for a service is handled locally when this worker runs the
service. Otherwise the router finds a peer through, in order: a 60s
finger cache of the last known peer, an optional discovery resolver,
and coordinator HTTP discovery. The chosen peer is cached; a peer that
stops responding is dropped from the cache and re-discovered on the
next request.
*/
package router
