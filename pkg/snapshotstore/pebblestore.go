// Package snapshotstore persists encoded thread snapshots in PebbleDB,
// keyed by process and thread, so a migration can stage images durably
// before handing them to a destination process.
package snapshotstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"flock/pkg/types"
)

// PebbleSnapshotStore implements snapshot persistence using PebbleDB
type PebbleSnapshotStore struct {
	db    *pebble.DB
	batch *pebble.Batch // For transaction support
}

// Open creates or opens a snapshot store at the given path.
func Open(dbPath string) (*PebbleSnapshotStore, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, err
	}

	return &PebbleSnapshotStore{
		db: db,
	}, nil
}

// MakeSnapshotKey builds the key for one thread's snapshot: the
// process id followed by the big-endian thread id, so a process's
// snapshots are contiguous and ordered by thread.
func MakeSnapshotKey(processID uuid.UUID, tid types.ThreadID) [24]byte {
	var key [24]byte
	copy(key[:16], processID[:])
	binary.BigEndian.PutUint64(key[16:], uint64(tid))
	return key
}

// Put stores an encoded snapshot.
func (s *PebbleSnapshotStore) Put(processID uuid.UUID, tid types.ThreadID, data []byte) error {
	key := MakeSnapshotKey(processID, tid)
	if s.batch != nil {
		return s.batch.Set(key[:], data, nil)
	}
	return s.db.Set(key[:], data, pebble.Sync)
}

// Get retrieves an encoded snapshot. The returned slice is a copy and
// stays valid after further store operations.
func (s *PebbleSnapshotStore) Get(processID uuid.UUID, tid types.ThreadID) ([]byte, error) {
	key := MakeSnapshotKey(processID, tid)

	var value []byte
	var closer interface{ Close() error }
	var err error
	// If there's an active batch, use it exclusively so pending writes
	// and deletions are visible
	if s.batch != nil {
		value, closer, err = s.batch.Get(key[:])
	} else {
		value, closer, err = s.db.Get(key[:])
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Delete removes a snapshot, typically once the destination has
// adopted the thread.
func (s *PebbleSnapshotStore) Delete(processID uuid.UUID, tid types.ThreadID) error {
	key := MakeSnapshotKey(processID, tid)
	if s.batch != nil {
		return s.batch.Delete(key[:], nil)
	}
	return s.db.Delete(key[:], pebble.Sync)
}

// keyUpperBound returns the smallest key greater than every key with
// the given process id prefix, or nil when no such key exists.
func keyUpperBound(processID uuid.UUID) []byte {
	upper := make([]byte, len(processID))
	copy(upper, processID[:])
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

// List returns the thread ids with a stored snapshot for the process,
// in ascending order.
func (s *PebbleSnapshotStore) List(processID uuid.UUID) ([]types.ThreadID, error) {
	lower := MakeSnapshotKey(processID, 0)

	// UpperBound is exclusive, so bounding at the last thread id would
	// hide it; bound one past the whole process prefix instead.
	opts := &pebble.IterOptions{LowerBound: lower[:], UpperBound: keyUpperBound(processID)}
	var iter *pebble.Iterator
	var err error
	if s.batch != nil {
		iter, err = s.batch.NewIter(opts)
	} else {
		iter, err = s.db.NewIter(opts)
	}
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var tids []types.ThreadID
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != 24 {
			continue
		}
		tids = append(tids, types.ThreadID(binary.BigEndian.Uint64(key[16:])))
	}
	return tids, iter.Error()
}

// BeginTransaction starts a new transaction
func (s *PebbleSnapshotStore) BeginTransaction() error {
	if s.batch != nil {
		return fmt.Errorf("transaction already in progress")
	}
	s.batch = s.db.NewIndexedBatch()
	return nil
}

// CommitTransaction commits the current transaction
func (s *PebbleSnapshotStore) CommitTransaction() error {
	if s.batch == nil {
		return fmt.Errorf("no transaction in progress")
	}
	err := s.batch.Commit(pebble.Sync)
	s.batch = nil
	return err
}

// RollbackTransaction aborts the current transaction
func (s *PebbleSnapshotStore) RollbackTransaction() error {
	if s.batch == nil {
		return fmt.Errorf("no transaction in progress")
	}
	s.batch.Close()
	s.batch = nil
	return nil
}

// Close closes the database
func (s *PebbleSnapshotStore) Close() error {
	if s.batch != nil {
		s.batch.Close()
	}
	return s.db.Close()
}
