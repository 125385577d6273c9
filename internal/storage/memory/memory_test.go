package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/safebrowse/internal/common"
	"github.com/dmitrijs2005/safebrowse/internal/storage"
)

func TestChunks_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.PutAddChunk(ctx, "l1", 2, []storage.AddChunk{
		{HostKey: []byte("hk11"), Prefix: []byte("pre1")},
		{HostKey: []byte("hk11"), Prefix: []byte("pre2")},
	}))
	require.NoError(t, s.PutAddChunk(ctx, "l1", 1, []storage.AddChunk{
		{HostKey: []byte("hk22")},
	}))

	adds, err := s.GetAddChunks(ctx, []byte("hk11"))
	require.NoError(t, err)
	require.Len(t, adds, 2)
	assert.Equal(t, "l1", adds[0].List)
	assert.Equal(t, uint32(2), adds[0].ChunkNum)
	assert.Equal(t, []byte("pre1"), adds[0].Prefix)

	nums, err := s.GetAddChunkNums(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, nums, "chunk numbers come back sorted")

	require.NoError(t, s.DeleteAddChunks(ctx, "l1", []uint32{2}))
	adds, err = s.GetAddChunks(ctx, []byte("hk11"))
	require.NoError(t, err)
	assert.Empty(t, adds)
}

func TestSubChunks(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.PutSubChunk(ctx, "l1", 7, []storage.SubChunk{
		{HostKey: []byte("hk11"), AddChunkNum: 100, Prefix: []byte("pre1")},
	}))

	subs, err := s.GetSubChunks(ctx, []byte("hk11"))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, uint32(100), subs[0].AddChunkNum)

	nums, err := s.GetSubChunkNums(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, nums)
}

func TestFullHashes_FreshnessAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	h := make([]byte, 32)
	copy(h, "hash")

	require.NoError(t, s.PutFullHashes(ctx, []storage.FullHash{
		{ChunkNum: 1, Hash: h, List: "l1"},
	}, now.Add(-time.Hour)))

	got, err := s.GetFullHashes(ctx, "l1", 1, now.Add(-45*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got, "stale entries are filtered")

	// Re-confirmation refreshes the timestamp of the same row.
	require.NoError(t, s.PutFullHashes(ctx, []storage.FullHash{
		{ChunkNum: 1, Hash: h, List: "l1"},
	}, now))

	got, err = s.GetFullHashes(ctx, "l1", 1, now.Add(-45*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.DeleteFullHashes(ctx, "l1", []uint32{1}))
	got, err = s.GetFullHashes(ctx, "l1", 1, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListStatus(t *testing.T) {
	ctx := context.Background()
	s := New()

	st, err := s.LastUpdate(ctx, "l1")
	require.NoError(t, err)
	assert.True(t, st.LastUpdate.IsZero())
	assert.Equal(t, common.DefaultWait, st.Wait)
	assert.Zero(t, st.Errors)

	now := time.Now()
	require.NoError(t, s.RecordUpdateError(ctx, "l1", now, time.Minute, 3))
	st, err = s.LastUpdate(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Errors)

	require.NoError(t, s.RecordUpdate(ctx, "l1", now, 900*time.Second))
	st, err = s.LastUpdate(ctx, "l1")
	require.NoError(t, err)
	assert.Zero(t, st.Errors)
	assert.Equal(t, 900*time.Second, st.Wait)
}

func TestPrefixErrors(t *testing.T) {
	ctx := context.Background()
	s := New()
	prefix := []byte{1, 2, 3, 4}

	pe, err := s.GetFullHashError(ctx, prefix)
	require.NoError(t, err)
	assert.Nil(t, pe)

	now := time.Now()
	require.NoError(t, s.FullHashError(ctx, prefix, now))
	require.NoError(t, s.FullHashError(ctx, prefix, now))

	pe, err = s.GetFullHashError(ctx, prefix)
	require.NoError(t, err)
	require.NotNil(t, pe)
	assert.Equal(t, 2, pe.Errors)

	require.NoError(t, s.FullHashOk(ctx, prefix))
	pe, err = s.GetFullHashError(ctx, prefix)
	require.NoError(t, err)
	assert.Nil(t, pe)
}

func TestMacKeys(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetMacKeys(ctx)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, s.SetMacKeys(ctx, []byte("client"), "wrapped"))
	keys, err := s.GetMacKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("client"), keys.ClientKey)
	assert.Equal(t, "wrapped", keys.WrappedKey)

	require.NoError(t, s.ClearMacKeys(ctx))
	_, err = s.GetMacKeys(ctx)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.PutAddChunk(ctx, "l1", 1, []storage.AddChunk{{HostKey: []byte("aaaa")}}))
	require.NoError(t, s.PutAddChunk(ctx, "l2", 1, []storage.AddChunk{{HostKey: []byte("bbbb")}}))
	require.NoError(t, s.PutSubChunk(ctx, "l1", 2, []storage.SubChunk{{HostKey: []byte("aaaa")}}))

	require.NoError(t, s.Reset(ctx, "l1"))

	nums, err := s.GetAddChunkNums(ctx, "l1")
	require.NoError(t, err)
	assert.Empty(t, nums)

	nums, err = s.GetAddChunkNums(ctx, "l2")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, nums, "other lists are untouched")
}

func TestDump(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutAddChunk(ctx, "l1", 1, []storage.AddChunk{
		{HostKey: []byte("aaaa"), Prefix: []byte("pppp")},
	}))
	require.NoError(t, s.PutAddChunk(ctx, "l2", 2, []storage.AddChunk{{HostKey: []byte("bbbb")}}))

	adds, err := s.DumpAddChunks(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, adds, 1)
	assert.Equal(t, uint32(1), adds[0].ChunkNum)
}
