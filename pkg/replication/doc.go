/*
Package replication exchanges committed operations between peer nodes.

	  local commit ──► forward OpCommit to every peer
	  peer OpCommit ──► in-order?  ──► integrate via serializer (upstream)
	                      │gap
	                      ▼
	             buffer + AntiEntropyRequest (exponential backoff)

Every message carries causal context: OpCommit holds the origin document's
vector at commit time, peer heartbeats advertise the node-wide causal
vector, and anti-entropy answers with the journaled ops the requester
lacks, ordered by (origin_node, origin_seq). Ops from one origin are
integrated strictly in origin order; ops from different origins interleave
and converge under the transform algebra's tie-break.

Peer I/O runs on a bounded worker pool (alitto/pond) so a slow or dead
peer never stalls the commit path.
*/
package replication
