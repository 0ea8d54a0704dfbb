/*
Package session owns per-client state: identity, subscriptions, the
bounded outbound queue, and heartbeat liveness.

The manager subscribes to the committed-op stream and fans commits out to
every session subscribed to the path, preserving per-document sequence
order. Backpressure never reaches the serializer: a session whose queue
overflows is dropped with a slow-consumer reason and its later submissions
fail with a closed-session error.

Agents are ordinary sessions with an identity flag; RecentOps gives them a
deterministic log suffix to work from, and their patches go through the
same serializer as human edits.
*/
package session
