/*
Package workspace maintains the path-to-document mapping of a node.

File identity is a UUID that survives renames, so history and snapshots
stay reachable after MoveFile. Structural operations (create, delete,
move) serialize on the workspace lock and advance the node-local global
version; per-document edits only touch the entry's own serialization
point. The edit-after-delete policy is strict: an operation whose target
path no longer resolves is rejected and never logged.
*/
package workspace
