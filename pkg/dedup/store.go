// Package dedup implements the two-tier seen-submission store: an in-memory
// bloom filter in front of a durable goleveldb key-value database. The filter
// answers definite negatives; the database confirms positives and survives
// restarts.
package dedup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"syscall"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/syndtr/goleveldb/leveldb"
	lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/finbert-ci/collector/pkg/reporting"
)

// Sentinel errors for the store's failure classes.
var (
	ErrOpen   = errors.New("dedup: open failed")
	ErrLocked = errors.New("dedup: database locked by another process")
	ErrRead   = errors.New("dedup: read failed")
	ErrWrite  = errors.New("dedup: write failed")
)

// syncWrites makes every insert durable before Put returns.
var syncWrites = &opt.WriteOptions{Sync: true}

// isLocked reports whether an open failure means another process holds the
// database. A held POSIX lock surfaces as EAGAIN/EWOULDBLOCK rather than the
// library's ErrLocked, so both are matched.
func isLocked(err error) bool {
	return errors.Is(err, storage.ErrLocked) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK)
}

// Store is the combined two-tier membership store. It is single-writer: the
// underlying database holds an exclusive lock for the store's lifetime.
type Store struct {
	db       *leveldb.DB
	filter   *bloom.BloomFilter
	capacity uint
	fpRate   float64
	logger   *reporting.Logger
}

// Stats describes the store's current population.
type Stats struct {
	StoredIDs         int
	FilterCapacity    uint
	FalsePositiveRate float64
	OldestFirstSeen   int64
	NewestFirstSeen   int64
}

// Open opens (creating if absent) the database at path and seeds the bloom
// filter from the stored identifiers. A database held by another process
// fails with ErrLocked.
func Open(path string, capacity uint, fpRate float64, logger *reporting.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if isLocked(err) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	// A manifest half-written by a crash is recoverable.
	if _, corrupted := err.(*lvlerrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	s := &Store{
		db:       db,
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
		logger:   logger,
	}

	if err := s.rebuildFilter(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// rebuildFilter seeds the bloom filter from every stored identifier. An
// overfull database degrades the false-positive rate but never fails.
func (s *Store) rebuildFilter() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		s.filter.Add(iter.Key())
		count++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("%w: rebuild filter: %v", ErrOpen, err)
	}

	if uint(count) > s.capacity {
		s.logger.Warn("stored ids exceed filter capacity, false-positive rate degraded",
			"stored", count, "capacity", s.capacity)
	}
	s.logger.Info("seen-store opened", "stored", count, "capacity", s.capacity)
	return nil
}

// Seen reports whether id has been marked before. A filter miss is definitive;
// a filter hit is confirmed against the database.
func (s *Store) Seen(id string) (bool, error) {
	if !s.filter.TestString(id) {
		return false, nil
	}
	found, err := s.db.Has([]byte(id), nil)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrRead, id, err)
	}
	return found, nil
}

// MarkSeen records id with its first-seen timestamp. The database insert is
// durable before the filter is touched; a failed insert leaves the filter
// unchanged.
func (s *Store) MarkSeen(id string, firstSeen int64) error {
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], uint64(firstSeen))

	if err := s.db.Put([]byte(id), val[:], syncWrites); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, id, err)
	}
	s.filter.AddString(id)
	return nil
}

// FirstSeen returns the stored first-seen timestamp for id, or false when the
// id has not been marked.
func (s *Store) FirstSeen(id string) (int64, bool, error) {
	val, err := s.db.Get([]byte(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrRead, id, err)
	}
	if len(val) != 8 {
		return 0, false, fmt.Errorf("%w: %s: malformed timestamp value", ErrRead, id)
	}
	return int64(binary.BigEndian.Uint64(val)), true, nil
}

// Stats walks the database and summarizes its population.
func (s *Store) Stats() (Stats, error) {
	st := Stats{FilterCapacity: s.capacity, FalsePositiveRate: s.fpRate}

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		st.StoredIDs++
		if len(iter.Value()) != 8 {
			continue
		}
		ts := int64(binary.BigEndian.Uint64(iter.Value()))
		if st.OldestFirstSeen == 0 || ts < st.OldestFirstSeen {
			st.OldestFirstSeen = ts
		}
		if ts > st.NewestFirstSeen {
			st.NewestFirstSeen = ts
		}
	}
	if err := iter.Error(); err != nil {
		return st, fmt.Errorf("%w: stats: %v", ErrRead, err)
	}
	return st, nil
}

// Close releases the database and its exclusive lock.
func (s *Store) Close() error {
	return s.db.Close()
}
