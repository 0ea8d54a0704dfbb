/*
Package types defines the core data model shared across dist-space packages.

It holds the operation variants of the transformation algebra, committed
operation records, snapshots, document metadata, causal vectors for
replication, session descriptors, and the error taxonomy. Keeping these in a
leaf package avoids import cycles between the serializer, session manager,
and replication layers.
*/
package types
