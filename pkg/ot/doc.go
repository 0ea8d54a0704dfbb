/*
Package ot implements the operation-transformation algebra that rebases
concurrent edits so all replicas converge.

The single entry point is Transform(a, b), defined over Insert, Delete,
Replace, and NoOp payloads. The contract is Transform Property 1 (TP1):
for any two operations composed against the same base state,

	apply(apply(D, a), bPrime) == apply(apply(D, b), aPrime)

where (aPrime, bPrime) = Transform(a, b). Concurrent inserts at the same
position are ordered by the lexicographic (OriginNode, OriginSeq) identity,
which is globally unique and externally assigned, giving a total order
without consensus.
*/
package ot
