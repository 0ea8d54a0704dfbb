package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/ssenthilnathan3/dist-space/pkg/types"
)

var (
	// Bucket names
	bucketOps       = []byte("ops")
	bucketMeta      = []byte("meta")
	bucketSnapshots = []byte("snapshots")
)

// BoltStore implements Store using BoltDB. Op and snapshot keys are the
// document ID followed by a big-endian u64, so a cursor scan over a
// document's prefix walks records in sequence order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "distspace.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketOps, bucketMeta, bucketSnapshots}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// seqKey builds the composite (document_id, big-endian u64) key
func seqKey(documentID string, n uint64) []byte {
	key := make([]byte, len(documentID)+8)
	copy(key, documentID)
	binary.BigEndian.PutUint64(key[len(documentID):], n)
	return key
}

func (s *BoltStore) AppendOp(documentID string, rec types.CommittedOp) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOps)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(documentID, rec.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("%w: append op %d for %s: %v", types.ErrStorageUnavailable, rec.Seq, documentID, err)
	}
	return nil
}

func (s *BoltStore) OpRange(documentID string, fromSeq, toSeq uint64) ([]types.CommittedOp, error) {
	var ops []types.CommittedOp
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOps).Cursor()
		prefix := []byte(documentID)
		start := seqKey(documentID, fromSeq)
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			seq := binary.BigEndian.Uint64(k[len(prefix):])
			if seq > toSeq {
				break
			}
			var rec types.CommittedOp
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			ops = append(ops, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: range [%d,%d] for %s: %v", types.ErrStorageUnavailable, fromSeq, toSeq, documentID, err)
	}
	return ops, nil
}

func (s *BoltStore) PutMeta(meta types.DocumentMeta) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(meta.Path), data)
	})
	if err != nil {
		return fmt.Errorf("%w: put meta %s: %v", types.ErrStorageUnavailable, meta.Path, err)
	}
	return nil
}

func (s *BoltStore) GetMeta(path string) (*types.DocumentMeta, error) {
	var meta types.DocumentMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(path))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrFileNotFound, path)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *BoltStore) DeleteMeta(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Delete([]byte(path))
	})
}

func (s *BoltStore) ListMeta() ([]*types.DocumentMeta, error) {
	var metas []*types.DocumentMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			var meta types.DocumentMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			metas = append(metas, &meta)
			return nil
		})
	})
	return metas, err
}

func (s *BoltStore) PutSnapshot(snap types.Snapshot) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put(seqKey(snap.DocumentID, snap.Version), data)
	})
	if err != nil {
		return fmt.Errorf("%w: put snapshot v%d for %s: %v", types.ErrStorageUnavailable, snap.Version, snap.DocumentID, err)
	}
	return nil
}

// LatestSnapshot returns the greatest snapshot at version <= maxVersion, or
// nil when the document has none in range.
func (s *BoltStore) LatestSnapshot(documentID string, maxVersion uint64) (*types.Snapshot, error) {
	var snap *types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		prefix := []byte(documentID)

		k, v := c.Seek(seqKey(documentID, maxVersion))
		if k == nil || !bytes.HasPrefix(k, prefix) || binary.BigEndian.Uint64(k[len(prefix):]) > maxVersion {
			k, v = c.Prev()
		}
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return nil
		}

		var found types.Snapshot
		if err := json.Unmarshal(v, &found); err != nil {
			return err
		}
		snap = &found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: latest snapshot for %s: %v", types.ErrStorageUnavailable, documentID, err)
	}
	return snap, nil
}
