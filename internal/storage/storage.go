// Package storage defines the persistence contract the engine depends on,
// plus the row models shared by its back-ends. Concrete implementations live
// in the memory, sqlite and postgres subpackages; the engine holds exactly
// one Store and never touches a database directly.
//
// Hash material (host keys, prefixes, full hashes) is opaque binary and must
// be stored in binary-safe columns.
package storage

import (
	"context"
	"time"

	"github.com/dmitrijs2005/safebrowse/internal/common"
)

// AddChunk is one additive record: a hostkey plus an optional URL-hash
// prefix. An empty prefix means the whole host matches. A row with empty
// hostkey and prefix only marks the chunk number as seen.
type AddChunk struct {
	ChunkNum uint32
	HostKey  []byte
	Prefix   []byte
	List     string
}

// SubChunk cancels entries of the add chunk named by AddChunkNum. An empty
// prefix cancels every entry of that add chunk; a set prefix cancels only
// the matching one.
type SubChunk struct {
	ChunkNum    uint32
	AddChunkNum uint32
	HostKey     []byte
	Prefix      []byte
	List        string
}

// FullHash is a server-confirmed 32-byte hash.
type FullHash struct {
	ChunkNum uint32
	Hash     []byte
	List     string
}

// ListStatus is the per-list update cursor.
type ListStatus struct {
	LastUpdate time.Time
	Wait       time.Duration
	Errors     int
}

// PrefixError tracks consecutive full-hash failures for one prefix.
type PrefixError struct {
	Timestamp time.Time
	Errors    int
}

// MacKeys is the singleton negotiated key pair.
type MacKeys struct {
	ClientKey  []byte
	WrappedKey string
}

// Store is the capability set the engine requires. Implementations must
// serialize writes internally; the engine may call read methods from
// concurrent lookups.
type Store interface {
	// GetAddChunks returns add rows for a hostkey in insertion order.
	GetAddChunks(ctx context.Context, hostKey []byte) ([]AddChunk, error)

	// GetSubChunks returns sub rows for a hostkey in insertion order.
	GetSubChunks(ctx context.Context, hostKey []byte) ([]SubChunk, error)

	// GetAddChunkNums returns the distinct add chunk numbers of a list, sorted.
	GetAddChunkNums(ctx context.Context, list string) ([]uint32, error)

	// GetSubChunkNums returns the distinct sub chunk numbers of a list, sorted.
	GetSubChunkNums(ctx context.Context, list string) ([]uint32, error)

	// PutAddChunk persists every row of one add chunk atomically.
	PutAddChunk(ctx context.Context, list string, chunkNum uint32, rows []AddChunk) error

	// PutSubChunk persists every row of one sub chunk atomically.
	PutSubChunk(ctx context.Context, list string, chunkNum uint32, rows []SubChunk) error

	// DeleteAddChunks removes all add rows with the given chunk numbers.
	DeleteAddChunks(ctx context.Context, list string, nums []uint32) error

	// DeleteSubChunks removes all sub rows with the given chunk numbers.
	DeleteSubChunks(ctx context.Context, list string, nums []uint32) error

	// GetFullHashes returns hashes for (list, chunkNum) confirmed at or
	// after since.
	GetFullHashes(ctx context.Context, list string, chunkNum uint32, since time.Time) ([][]byte, error)

	// PutFullHashes upserts hashes with the given confirmation time.
	PutFullHashes(ctx context.Context, hashes []FullHash, ts time.Time) error

	// DeleteFullHashes removes hashes belonging to the given chunk numbers.
	DeleteFullHashes(ctx context.Context, list string, nums []uint32) error

	// LastUpdate returns the cursor for a list. A list never updated yields
	// the zero time, common.DefaultWait and no errors.
	LastUpdate(ctx context.Context, list string) (ListStatus, error)

	// RecordUpdate stores a successful cycle: cursor time, next wait, and a
	// cleared error counter.
	RecordUpdate(ctx context.Context, list string, now time.Time, wait time.Duration) error

	// RecordUpdateError stores a failed cycle for one list.
	RecordUpdateError(ctx context.Context, list string, now time.Time, wait time.Duration, errors int) error

	// GetFullHashError returns the error row for a prefix, or nil if the
	// prefix has no recorded failures.
	GetFullHashError(ctx context.Context, prefix []byte) (*PrefixError, error)

	// FullHashError records one more failure for a prefix at ts.
	FullHashError(ctx context.Context, prefix []byte, ts time.Time) error

	// FullHashOk clears the error row for a prefix.
	FullHashOk(ctx context.Context, prefix []byte) error

	// GetMacKeys returns the stored key pair, or common.ErrorNotFound.
	GetMacKeys(ctx context.Context) (*MacKeys, error)

	// SetMacKeys stores the key pair, replacing any previous one.
	SetMacKeys(ctx context.Context, clientKey []byte, wrappedKey string) error

	// ClearMacKeys forgets the key pair.
	ClearMacKeys(ctx context.Context) error

	// Reset drops all chunks and full hashes of a list.
	Reset(ctx context.Context, list string) error

	// Close evicts stale full hashes and releases the handle.
	Close(ctx context.Context) error
}

// Dumper is implemented by back-ends that can enumerate their mirror for
// snapshot export. It is optional: the engine never calls it.
type Dumper interface {
	DumpAddChunks(ctx context.Context, list string) ([]AddChunk, error)
	DumpSubChunks(ctx context.Context, list string) ([]SubChunk, error)
}

// DefaultStatus is the cursor reported for a list that has never updated.
func DefaultStatus() ListStatus {
	return ListStatus{Wait: common.DefaultWait}
}
