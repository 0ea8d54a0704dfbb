/*
Package wire implements the framing codec shared by the client session
protocol and the node-to-node replication protocol.

Frames are length-prefixed binary envelopes: a 4-byte big-endian length
covering a 1-byte type tag plus the serialized payload. Unknown tags,
oversized frames, and malformed payloads are protocol violations; the
connection owner closes the link.
*/
package wire
