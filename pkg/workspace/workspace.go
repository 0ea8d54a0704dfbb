package workspace

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ssenthilnathan3/dist-space/pkg/doc"
	"github.com/ssenthilnathan3/dist-space/pkg/log"
	"github.com/ssenthilnathan3/dist-space/pkg/oplog"
	"github.com/ssenthilnathan3/dist-space/pkg/storage"
	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

// Entry bundles one document with its operation log and its serialization
// point. Mu is the per-document mutual exclusion the serializer takes for
// the whole submit path; nothing else may mutate Doc or Log.
type Entry struct {
	ID    string
	IsDir bool

	Mu  sync.Mutex
	Doc *doc.Document
	Log *oplog.Log

	// Vector is the document's causal vector: the highest origin sequence
	// folded into Content per origin node. Guarded by Mu.
	Vector types.CausalVector

	// Bridges carries, per remote origin, the committed operations that
	// origin has not yet observed, each kept transformed into the frame of
	// the origin's next expected operation. Guarded by Mu; maintained by
	// the serializer.
	Bridges map[string][]types.Operation
}

// Workspace maintains the path-to-document mapping, the rename-stable file
// identities, and the global workspace version. Structural operations
// serialize on the workspace lock; per-document edits serialize on the
// entry lock and never take the workspace lock beyond the resolve step.
type Workspace struct {
	mu            sync.RWMutex
	entries       map[string]*Entry // path -> entry
	byID          map[string]*Entry
	globalVersion uint64

	store     storage.Store
	hotWindow int
	logger    zerolog.Logger
}

// New creates an empty workspace
func New(store storage.Store, hotWindow int) *Workspace {
	return &Workspace{
		entries:   make(map[string]*Entry),
		byID:      make(map[string]*Entry),
		store:     store,
		hotWindow: hotWindow,
		logger:    log.WithComponent("workspace"),
	}
}

// Load restores the workspace from persisted metadata. Only the mapping
// and versions come back here; the node rehydrates content by replaying
// snapshot plus log suffix.
func (w *Workspace) Load() error {
	metas, err := w.store.ListMeta()
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, meta := range metas {
		entry := &Entry{
			ID:  meta.DocumentID,
			Doc: doc.New(meta.DocumentID, meta.Path),
			Log: oplog.Restore(meta.DocumentID, w.store, w.hotWindow, meta.Version),
		}
		entry.Doc.Version = meta.Version
		w.entries[meta.Path] = entry
		w.byID[meta.DocumentID] = entry
	}
	w.logger.Info().Int("documents", len(metas)).Msg("Workspace loaded")
	return nil
}

// GlobalVersion returns the node-local workspace version. It advances on
// every committed op and file-system op; it is monotonic per node, not
// comparable across nodes.
func (w *Workspace) GlobalVersion() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.globalVersion
}

// BumpGlobalVersion advances the workspace version by one commit
func (w *Workspace) BumpGlobalVersion() {
	w.mu.Lock()
	w.globalVersion++
	w.mu.Unlock()
}

// Resolve returns the entry for a path, or ErrFileNotFound
func (w *Workspace) Resolve(path string) (*Entry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entry, ok := w.entries[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrFileNotFound, path)
	}
	return entry, nil
}

// ResolveID returns the entry for a document ID
func (w *Workspace) ResolveID(documentID string) (*Entry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entry, ok := w.byID[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", types.ErrFileNotFound, documentID)
	}
	return entry, nil
}

// Paths returns all current paths
func (w *Workspace) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	paths := make([]string, 0, len(w.entries))
	for path := range w.entries {
		paths = append(paths, path)
	}
	return paths
}

// CreateFile adds a path to the workspace. Fails with ErrFileExists when
// the path is already mapped.
func (w *Workspace) CreateFile(path string, isDir bool, initialContent string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.entries[path]; ok {
		return nil, fmt.Errorf("%w: %s", types.ErrFileExists, path)
	}

	id := uuid.New().String()
	entry := &Entry{
		ID:    id,
		IsDir: isDir,
		Doc:   doc.New(id, path),
		Log:   oplog.New(id, w.store, w.hotWindow),
	}
	if initialContent != "" {
		entry.Doc.Content = initialContent
	}

	if err := w.store.PutMeta(types.DocumentMeta{DocumentID: id, Path: path}); err != nil {
		return nil, err
	}

	w.entries[path] = entry
	w.byID[id] = entry
	w.globalVersion++
	w.logger.Debug().Str("path", path).Str("document_id", id).Msg("File created")
	return entry, nil
}

// DeleteFile removes a path. Pending edits targeting the path fail at
// commit with ErrFileNotFound; the policy is strict, nothing is logged for
// them.
func (w *Workspace) DeleteFile(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.entries[path]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrFileNotFound, path)
	}

	if err := w.store.DeleteMeta(path); err != nil {
		return err
	}

	delete(w.entries, path)
	delete(w.byID, entry.ID)
	w.globalVersion++
	w.logger.Debug().Str("path", path).Msg("File deleted")
	return nil
}

// MoveFile renames a path. The document identity is preserved, so history
// and snapshots remain reachable across renames.
func (w *Workspace) MoveFile(from, to string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.entries[from]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrFileNotFound, from)
	}
	if _, ok := w.entries[to]; ok {
		return fmt.Errorf("%w: %s", types.ErrFileExists, to)
	}

	meta := types.DocumentMeta{
		DocumentID:       entry.ID,
		Path:             to,
		Version:          entry.Doc.Version,
		EarliestRetained: entry.Log.EarliestRetained(),
	}
	if err := w.store.PutMeta(meta); err != nil {
		return err
	}
	if err := w.store.DeleteMeta(from); err != nil {
		return err
	}

	delete(w.entries, from)
	w.entries[to] = entry
	entry.Doc.Path = to
	w.globalVersion++
	w.logger.Debug().Str("from", from).Str("to", to).Msg("File moved")
	return nil
}

// PersistMeta writes the entry's current metadata record. Called by the
// serializer under the entry lock after every commit.
func (w *Workspace) PersistMeta(entry *Entry) error {
	return w.store.PutMeta(types.DocumentMeta{
		DocumentID:       entry.ID,
		Path:             entry.Doc.Path,
		Version:          entry.Doc.Version,
		EarliestRetained: entry.Log.EarliestRetained(),
	})
}

// ApplyFSOp dispatches a file-system operation. Used by both the client
// path and the replication path.
func (w *Workspace) ApplyFSOp(op types.FileSystemOp) error {
	switch op.Kind {
	case types.FSCreate:
		_, err := w.CreateFile(op.Path, op.IsDir, op.InitialContent)
		return err
	case types.FSDelete:
		return w.DeleteFile(op.Path)
	case types.FSMove:
		return w.MoveFile(op.Path, op.NewPath)
	default:
		return fmt.Errorf("%w: unknown fs op %q", types.ErrBadPrecondition, op.Kind)
	}
}
