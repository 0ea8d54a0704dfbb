// Package snapshot checkpoints document state at fixed commit intervals
// and replays checkpoint-plus-log-suffix into the content at any retained
// version. Replay follows sequence order, which is what makes checkout
// deterministic regardless of where operations originated.
package snapshot
