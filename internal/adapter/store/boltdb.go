package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"medrag/internal/domain"
)

// IndexFile is the bbolt file name inside an index directory.
const IndexFile = "index.db"

var (
	bucketMeta    = []byte("meta")
	bucketChunks  = []byte("chunks")
	bucketBlobs   = []byte("blobs")
	bucketVectors = []byte("vectors")
	keyMeta       = []byte("index_meta")
)

// BoltStore is the on-disk form of a vector index. Entries live under
// big-endian uint64 keys so iteration follows insertion order.
type BoltStore struct {
	db *bbolt.DB
}

type chunkMeta struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	Specialty  string `json:"specialty"`
	SampleName string `json:"sample_name,omitempty"`
	Ordinal    int    `json:"ordinal"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// CreateBoltStore creates a new index file at path.
func CreateBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketChunks, bucketBlobs, bucketVectors} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
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

// OpenBoltStore opens an existing index file read-only.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutMeta writes the index metadata.
func (s *BoltStore) PutMeta(meta domain.IndexMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyMeta, data)
	})
}

// GetMeta reads the index metadata.
func (s *BoltStore) GetMeta() (domain.IndexMeta, error) {
	var meta domain.IndexMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return errors.New("meta bucket not found")
		}
		data := b.Get(keyMeta)
		if data == nil {
			return errors.New("index metadata not found")
		}
		return json.Unmarshal(data, &meta)
	})
	return meta, err
}

// PutEntries writes entries starting at key first, one transaction per batch.
func (s *BoltStore) PutEntries(first uint64, chunks []domain.Chunk, vectors [][]float32, batchSize int) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d != %d", len(chunks), len(vectors))
	}
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		err := s.db.Update(func(tx *bbolt.Tx) error {
			cb := tx.Bucket(bucketChunks)
			bb := tx.Bucket(bucketBlobs)
			vb := tx.Bucket(bucketVectors)

			for j := i; j < end; j++ {
				c := chunks[j]
				data, err := json.Marshal(chunkMeta{
					ID:         c.ID,
					SourceID:   c.SourceID,
					Specialty:  c.Specialty,
					SampleName: c.SampleName,
					Ordinal:    c.Ordinal,
					Start:      c.Start,
					End:        c.End,
				})
				if err != nil {
					return err
				}

				k := entryKey(first + uint64(j))
				if err := cb.Put(k, data); err != nil {
					return err
				}
				if err := bb.Put(k, []byte(c.Content)); err != nil {
					return err
				}
				if err := vb.Put(k, encodeVector(vectors[j])); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ForEach calls fn for every entry in key order.
func (s *BoltStore) ForEach(fn func(key uint64, chunk domain.Chunk, vector []float32) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		cb := tx.Bucket(bucketChunks)
		bb := tx.Bucket(bucketBlobs)
		vb := tx.Bucket(bucketVectors)
		if cb == nil || bb == nil || vb == nil {
			return errors.New("entry buckets not found")
		}

		c := cb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			key, err := keyValue(k)
			if err != nil {
				return err
			}

			var meta chunkMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("entry %d: %w", key, err)
			}
			blob := bb.Get(k)
			if blob == nil {
				return fmt.Errorf("entry %d: content missing", key)
			}
			raw := vb.Get(k)
			if raw == nil {
				return fmt.Errorf("entry %d: vector missing", key)
			}
			vec, err := decodeVector(raw)
			if err != nil {
				return fmt.Errorf("entry %d: %w", key, err)
			}

			chunk := domain.Chunk{
				ID:         meta.ID,
				SourceID:   meta.SourceID,
				Specialty:  meta.Specialty,
				SampleName: meta.SampleName,
				Ordinal:    meta.Ordinal,
				Start:      meta.Start,
				End:        meta.End,
				Content:    string(blob),
			}
			if err := fn(key, chunk, vec); err != nil {
				return err
			}
		}

		if n, m := cb.Stats().KeyN, vb.Stats().KeyN; n != m {
			return fmt.Errorf("%d chunks but %d vectors", n, m)
		}
		return nil
	})
}
