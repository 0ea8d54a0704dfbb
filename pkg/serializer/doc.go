/*
Package serializer implements the per-document OT coordinator, the single
mutation point of a dist-space node.

	          SubmitOp / SubmitFSOp
	                  │
	         ┌────────▼────────┐
	         │   Serializer    │  one submission at a time per document
	         │  rebase → seq   │
	         │  append → apply │
	         └────────┬────────┘
	                  │ committed (seq, op)
	         ┌────────▼────────┐
	         │  events.Broker  │
	         └───┬────────┬────┘
	             │        │
	     Session Manager  Replication Peer

A proposal is transformed against every committed operation its author has
not seen, receives the next gap-free sequence number, is persisted to the
cold log, applied to the in-memory document, and published. Precondition
violations reject without mutating state; a failed persist rolls back and
returns a retryable error, and repeated persist failures flip the node to
read-only mode.

Local proposals declare their rebase window with a base version. Upstream
proposals (replicated commits) instead carry the origin's causal vector,
and the serializer maintains per-origin bridges of concurrent operations
kept frame-consistent by co-transformation.
*/
package serializer
