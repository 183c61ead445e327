// Package store persists sessions, item metadata and item blobs in pebble.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"clipshare/pkg/state/logger"
	"clipshare/pkg/timeutil"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrSessionExpired = errors.New("session expired")
	ErrTooLarge       = errors.New("upload exceeds size limit")
	ErrClosed         = errors.New("store closed")
)

// Options configure Open.
type Options struct {
	// FS overrides the filesystem; tests pass vfs.NewMem().
	FS vfs.FS
	// NoSync skips fsync on writes.
	NoSync bool
}

type Store struct {
	db   *pebble.DB
	path string
	wo   *pebble.WriteOptions

	// seqMu is held from id allocation to commit, so items become visible
	// in id order and the stored sequence never moves backwards.
	seqMu   sync.Mutex
	lastSeq uint64
}

// Open opens or creates the database at path.
func Open(path string, opts Options) (*Store, error) {
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(path, po)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	s := &Store{db: db, path: path, wo: pebble.Sync}
	if opts.NoSync {
		s.wo = pebble.NoSync
	}

	v, closer, err := db.Get([]byte(seqKey))
	switch {
	case err == nil:
		if len(v) == 8 {
			s.lastSeq = binary.BigEndian.Uint64(v)
		}
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		db.Close()
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	logger.Info("store_opened", "path", path, "last_seq", s.lastSeq)
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ready reports whether the database is open.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// Path is the directory the database lives in.
func (s *Store) Path() string { return s.path }

// nextSeq returns an id larger than any handed out before, close to the
// current time in nanoseconds. The caller holds seqMu until its batch is
// committed.
func (s *Store) nextSeq(b *pebble.Batch) uint64 {
	n := uint64(timeutil.Now().UnixNano())
	if n <= s.lastSeq {
		n = s.lastSeq + 1
	}
	s.lastSeq = n
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	b.Set([]byte(seqKey), buf[:], nil)
	return n
}

func (s *Store) get(key string) ([]byte, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		logger.Error("get_key_failed", "key", key, "error", err)
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// scan calls fn for each key with prefix, in key order or reversed.
func (s *Store) scan(prefix string, reverse bool, fn func(key, value []byte) (bool, error)) error {
	if s.db == nil {
		return ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	valid := iter.First
	step := iter.Next
	if reverse {
		valid, step = iter.Last, iter.Prev
	}
	for ok := valid(); ok; ok = step() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func prefixEnd(prefix string) []byte {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
