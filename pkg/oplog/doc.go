// Package oplog keeps the per-document committed operation sequence: a
// bounded in-memory hot window over a persistent cold log, with gap-free
// sequence numbers assigned by the serializer.
package oplog
