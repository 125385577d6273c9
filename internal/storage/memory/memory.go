// Package memory provides an in-memory Store for tests and ephemeral
// processes. Nothing is persisted: state lives only as long as the Store
// value, and Close only evicts stale full hashes.
package memory

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/safebrowse/internal/common"
	"github.com/dmitrijs2005/safebrowse/internal/storage"
)

type fullHashRow struct {
	row storage.FullHash
	ts  time.Time
}

// Store keeps the whole mirror in process memory behind one RWMutex.
type Store struct {
	mu           sync.RWMutex
	adds         []storage.AddChunk
	subs         []storage.SubChunk
	fullHashes   map[string]fullHashRow
	prefixErrors map[string]storage.PrefixError
	status       map[string]storage.ListStatus
	macKeys      *storage.MacKeys
}

func New() *Store {
	return &Store{
		fullHashes:   make(map[string]fullHashRow),
		prefixErrors: make(map[string]storage.PrefixError),
		status:       make(map[string]storage.ListStatus),
	}
}

var _ storage.Store = (*Store)(nil)
var _ storage.Dumper = (*Store)(nil)

func (s *Store) GetAddChunks(ctx context.Context, hostKey []byte) ([]storage.AddChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.AddChunk
	for _, a := range s.adds {
		if slices.Equal(a.HostKey, hostKey) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) GetSubChunks(ctx context.Context, hostKey []byte) ([]storage.SubChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.SubChunk
	for _, sub := range s.subs {
		if slices.Equal(sub.HostKey, hostKey) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *Store) GetAddChunkNums(ctx context.Context, list string) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nums := make(map[uint32]struct{})
	for _, a := range s.adds {
		if a.List == list {
			nums[a.ChunkNum] = struct{}{}
		}
	}
	return sortedNums(nums), nil
}

func (s *Store) GetSubChunkNums(ctx context.Context, list string) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nums := make(map[uint32]struct{})
	for _, sub := range s.subs {
		if sub.List == list {
			nums[sub.ChunkNum] = struct{}{}
		}
	}
	return sortedNums(nums), nil
}

func sortedNums(set map[uint32]struct{}) []uint32 {
	nums := make([]uint32, 0, len(set))
	for n := range set {
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums
}

func (s *Store) PutAddChunk(ctx context.Context, list string, chunkNum uint32, rows []storage.AddChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		r.List = list
		r.ChunkNum = chunkNum
		s.adds = append(s.adds, r)
	}
	return nil
}

func (s *Store) PutSubChunk(ctx context.Context, list string, chunkNum uint32, rows []storage.SubChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		r.List = list
		r.ChunkNum = chunkNum
		s.subs = append(s.subs, r)
	}
	return nil
}

func (s *Store) DeleteAddChunks(ctx context.Context, list string, nums []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := numSet(nums)
	s.adds = slices.DeleteFunc(s.adds, func(a storage.AddChunk) bool {
		_, ok := drop[a.ChunkNum]
		return ok && a.List == list
	})
	return nil
}

func (s *Store) DeleteSubChunks(ctx context.Context, list string, nums []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := numSet(nums)
	s.subs = slices.DeleteFunc(s.subs, func(sub storage.SubChunk) bool {
		_, ok := drop[sub.ChunkNum]
		return ok && sub.List == list
	})
	return nil
}

func numSet(nums []uint32) map[uint32]struct{} {
	set := make(map[uint32]struct{}, len(nums))
	for _, n := range nums {
		set[n] = struct{}{}
	}
	return set
}

func (s *Store) GetFullHashes(ctx context.Context, list string, chunkNum uint32, since time.Time) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][]byte
	for _, fh := range s.fullHashes {
		if fh.row.List == list && fh.row.ChunkNum == chunkNum && !fh.ts.Before(since) {
			out = append(out, fh.row.Hash)
		}
	}
	return out, nil
}

func (s *Store) PutFullHashes(ctx context.Context, hashes []storage.FullHash, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range hashes {
		s.fullHashes[fullHashKey(h)] = fullHashRow{row: h, ts: ts}
	}
	return nil
}

func (s *Store) DeleteFullHashes(ctx context.Context, list string, nums []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := numSet(nums)
	for k, fh := range s.fullHashes {
		if _, ok := drop[fh.row.ChunkNum]; ok && fh.row.List == list {
			delete(s.fullHashes, k)
		}
	}
	return nil
}

func fullHashKey(h storage.FullHash) string {
	return h.List + "\x00" + string(h.Hash) + "\x00" + strconv.FormatUint(uint64(h.ChunkNum), 10)
}

func (s *Store) LastUpdate(ctx context.Context, list string) (storage.ListStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.status[list]
	if !ok {
		return storage.DefaultStatus(), nil
	}
	return st, nil
}

func (s *Store) RecordUpdate(ctx context.Context, list string, now time.Time, wait time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status[list] = storage.ListStatus{LastUpdate: now, Wait: wait}
	return nil
}

func (s *Store) RecordUpdateError(ctx context.Context, list string, now time.Time, wait time.Duration, errors int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status[list] = storage.ListStatus{LastUpdate: now, Wait: wait, Errors: errors}
	return nil
}

func (s *Store) GetFullHashError(ctx context.Context, prefix []byte) (*storage.PrefixError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pe, ok := s.prefixErrors[string(prefix)]
	if !ok {
		return nil, nil
	}
	return &pe, nil
}

func (s *Store) FullHashError(ctx context.Context, prefix []byte, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pe := s.prefixErrors[string(prefix)]
	pe.Errors++
	pe.Timestamp = ts
	s.prefixErrors[string(prefix)] = pe
	return nil
}

func (s *Store) FullHashOk(ctx context.Context, prefix []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.prefixErrors, string(prefix))
	return nil
}

func (s *Store) GetMacKeys(ctx context.Context) (*storage.MacKeys, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.macKeys == nil {
		return nil, common.ErrorNotFound
	}
	keys := *s.macKeys
	return &keys, nil
}

func (s *Store) SetMacKeys(ctx context.Context, clientKey []byte, wrappedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.macKeys = &storage.MacKeys{ClientKey: clientKey, WrappedKey: wrappedKey}
	return nil
}

func (s *Store) ClearMacKeys(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.macKeys = nil
	return nil
}

func (s *Store) Reset(ctx context.Context, list string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.adds = slices.DeleteFunc(s.adds, func(a storage.AddChunk) bool { return a.List == list })
	s.subs = slices.DeleteFunc(s.subs, func(sub storage.SubChunk) bool { return sub.List == list })
	for k, fh := range s.fullHashes {
		if fh.row.List == list {
			delete(s.fullHashes, k)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-common.FullHashFreshness)
	for k, fh := range s.fullHashes {
		if fh.ts.Before(cutoff) {
			delete(s.fullHashes, k)
		}
	}
	return nil
}

func (s *Store) DumpAddChunks(ctx context.Context, list string) ([]storage.AddChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.AddChunk
	for _, a := range s.adds {
		if a.List == list {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) DumpSubChunks(ctx context.Context, list string) ([]storage.SubChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.SubChunk
	for _, sub := range s.subs {
		if sub.List == list {
			out = append(out, sub)
		}
	}
	return out, nil
}
