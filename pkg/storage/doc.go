/*
Package storage provides BoltDB-backed persistence for the edge router's
coordinator registry.

The edge router is the only durable component in the fabric: it must
survive restarts with its coordinator list intact so agents can reseed.
Records are JSON-serialized into a single bucket keyed by coordinator
id; writes are low-rate (one heartbeat per coordinator per minute) so
fsync-on-commit costs nothing that matters.

Worker state is deliberately absent. Workers live in coordinator memory
and are reconstructed by continuous re-registration.

	store, err := storage.NewBoltStore("/var/lib/hive")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
*/
package storage
