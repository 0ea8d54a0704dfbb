package doc

import (
	"fmt"

	"github.com/ssenthilnathan3/dist-space/pkg/ot"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// Document is a versioned text buffer. Version equals the count of
// non-NoOp operations applied since empty, and Content equals the
// deterministic fold of those operations in sequence order.
//
// A Document is exclusively owned by its serializer; it never sees an
// un-transformed operation and performs no locking of its own.
type Document struct {
	ID         string
	Path       string
	Content    string
	Version    uint64
	LastAuthor string
}

// New creates an empty document at version 0
func New(id, path string) *Document {
	return &Document{ID: id, Path: path}
}

// FromSnapshot restores a document to a checkpointed state
func FromSnapshot(id, path string, snap types.Snapshot) *Document {
	return &Document{ID: id, Path: path, Content: snap.Content, Version: snap.Version}
}

// Apply mutates content and increments the version. The operation must be
// in-range relative to the current content; rebasing against concurrent
// commits is the serializer's job, not the document's.
func (d *Document) Apply(op types.Operation) error {
	if op.IsNoOp() {
		return nil
	}
	content, err := ot.Apply(d.Content, op)
	if err != nil {
		return fmt.Errorf("apply to %s at v%d: %w", d.Path, d.Version, err)
	}
	d.Content = content
	d.Version++
	d.LastAuthor = op.Author
	return nil
}

// Len returns the content length in Unicode scalar values
func (d *Document) Len() int {
	return len([]rune(d.Content))
}
