/*
Package storage provides the persistent stores backing a dist-space node.

Three logical stores live behind one Store interface: the append-only op
log keyed by (document_id, big-endian seq), the per-path metadata records,
and the snapshot checkpoints keyed by (document_id, big-endian version).
BoltStore is the production implementation on BoltDB; MemStore backs tests.
*/
package storage
