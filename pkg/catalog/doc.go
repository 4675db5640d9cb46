/*
Package catalog holds the static service table for the Hive fabric.

Each entry names a service, its tier (gpu, cpu, storage, edge), the
worker capability class it requires, its priority (1 = critical), the
internal port its container listens on, the container image the
launcher runs, and the reverse-proxy deadline for requests to it.

The catalog is immutable at runtime. Default returns the baked-in
table; changing it requires a restart of the coordinator and agents.
*/
package catalog
