package engine

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/safebrowse/internal/common"
	"github.com/dmitrijs2005/safebrowse/internal/mac"
	"github.com/dmitrijs2005/safebrowse/internal/storage"
	"github.com/dmitrijs2005/safebrowse/internal/storage/memory"
)

// fakeTransport scripts the four protocol exchanges.
type fakeTransport struct {
	downloads     func(body []byte, wrappedKey string) ([]byte, error)
	redirects     map[string][]byte
	fullHashes    func(prefixes [][]byte) ([]byte, error)
	newKey        []byte
	downloadCalls int
	hashCalls     int
}

func (f *fakeTransport) Downloads(ctx context.Context, body []byte, wrappedKey string) ([]byte, error) {
	f.downloadCalls++
	if f.downloads == nil {
		return nil, fmt.Errorf("%w: no downloads scripted", common.ErrorServer)
	}
	return f.downloads(body, wrappedKey)
}

func (f *fakeTransport) Redirect(ctx context.Context, redirectURL string) ([]byte, error) {
	body, ok := f.redirects[redirectURL]
	if !ok {
		return nil, fmt.Errorf("%w: unknown redirect %q", common.ErrorServer, redirectURL)
	}
	return body, nil
}

func (f *fakeTransport) FullHashes(ctx context.Context, prefixes [][]byte, wrappedKey string) ([]byte, error) {
	f.hashCalls++
	if f.fullHashes == nil {
		return nil, nil
	}
	return f.fullHashes(prefixes)
}

func (f *fakeTransport) NewKey(ctx context.Context) ([]byte, error) {
	if f.newKey == nil {
		return nil, fmt.Errorf("%w: no key scripted", common.ErrorServer)
	}
	return f.newKey, nil
}

func hostKeyOf(suffix string) []byte {
	h := sha256.Sum256([]byte(suffix + "/"))
	return h[:4]
}

func fullHashOf(pattern string) []byte {
	h := sha256.Sum256([]byte(pattern))
	return h[:]
}

func prefixOf(pattern string) []byte {
	return fullHashOf(pattern)[:4]
}

// addChunkBody encodes one hostkey group with the given 4-byte prefixes.
func addChunkBody(hostKey []byte, prefixes ...[]byte) []byte {
	body := append([]byte{}, hostKey...)
	body = append(body, byte(len(prefixes)))
	for _, p := range prefixes {
		body = append(body, p...)
	}
	return body
}

func chunkFile(typ string, num int, body []byte) []byte {
	out := fmt.Appendf(nil, "%s:%d:4:%d\n", typ, num, len(body))
	return append(out, body...)
}

func newTestEngine(t *testing.T, tr *fakeTransport, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{WithLists([]string{common.ListMalware})}, opts...)
	return New(store, tr, opts...), store
}

func TestUpdate_AppliesChunksAndMatches(t *testing.T) {
	ctx := context.Background()
	hk := hostKeyOf("evil.test")
	file := chunkFile("a", 1, addChunkBody(hk, prefixOf("evil.test/")))

	tr := &fakeTransport{
		downloads: func(body []byte, _ string) ([]byte, error) {
			assert.Equal(t, common.ListMalware+";\n", string(body))
			return []byte("n:900\ni:" + common.ListMalware + "\nu:cache.test/chunk\n"), nil
		},
		redirects: map[string][]byte{"cache.test/chunk": file},
		fullHashes: func(prefixes [][]byte) ([]byte, error) {
			hash := fullHashOf("evil.test/")
			return append(fmt.Appendf(nil, "%s:1:32\n", common.ListMalware), hash...), nil
		},
	}
	eng, store := newTestEngine(t, tr)

	result, err := eng.Update(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Successful, result)

	st, err := store.LastUpdate(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.Equal(t, 900*time.Second, st.Wait)
	assert.Zero(t, st.Errors)

	list, err := eng.Lookup(ctx, "http://evil.test/")
	require.NoError(t, err)
	assert.Equal(t, common.ListMalware, list)

	list, err = eng.Lookup(ctx, "http://good.test/")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdate_ReportsStoredRanges(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.PutAddChunk(ctx, common.ListMalware, 1, []storage.AddChunk{{HostKey: []byte("aaaa")}}))
	require.NoError(t, store.PutAddChunk(ctx, common.ListMalware, 2, []storage.AddChunk{{HostKey: []byte("aaaa")}}))
	require.NoError(t, store.PutAddChunk(ctx, common.ListMalware, 3, []storage.AddChunk{{HostKey: []byte("aaaa")}}))
	require.NoError(t, store.PutSubChunk(ctx, common.ListMalware, 7, []storage.SubChunk{{HostKey: []byte("aaaa"), AddChunkNum: 1}}))

	var requested string
	tr := &fakeTransport{
		downloads: func(body []byte, _ string) ([]byte, error) {
			requested = string(body)
			return []byte("n:1800\n"), nil
		},
	}
	eng := New(store, tr, WithLists([]string{common.ListMalware}))

	result, err := eng.Update(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, NoData, result)
	assert.Equal(t, common.ListMalware+";a:1-3:s:7\n", requested)
}

func TestUpdate_EmptyAddChunkRetained(t *testing.T) {
	ctx := context.Background()
	hk := []byte{0x01, 0x02, 0x03, 0x04}
	// COUNT==0: host-only entry, still covers chunk number 42.
	file := chunkFile("a", 42, append(append([]byte{}, hk...), 0x00))

	tr := &fakeTransport{
		downloads: func([]byte, string) ([]byte, error) {
			return []byte("i:" + common.ListMalware + "\nu:cache.test/empty\n"), nil
		},
		redirects: map[string][]byte{"cache.test/empty": file},
	}
	eng, store := newTestEngine(t, tr)

	result, err := eng.Update(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, Successful, result)

	nums, err := store.GetAddChunkNums(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.Equal(t, []uint32{42}, nums)
}

func TestUpdate_DeleteDirectives(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.PutAddChunk(ctx, common.ListMalware, 5, []storage.AddChunk{{HostKey: []byte("aaaa"), Prefix: []byte("pppp")}}))
	require.NoError(t, store.PutAddChunk(ctx, common.ListMalware, 6, []storage.AddChunk{{HostKey: []byte("bbbb")}}))
	require.NoError(t, store.PutSubChunk(ctx, common.ListMalware, 9, []storage.SubChunk{{HostKey: []byte("aaaa"), AddChunkNum: 5}}))
	require.NoError(t, store.PutFullHashes(ctx, []storage.FullHash{
		{ChunkNum: 5, Hash: fullHashOf("x/"), List: common.ListMalware},
	}, time.Now()))

	tr := &fakeTransport{
		downloads: func([]byte, string) ([]byte, error) {
			return []byte("i:" + common.ListMalware + "\nad:5\nsd:9\n"), nil
		},
	}
	eng := New(store, tr, WithLists([]string{common.ListMalware}))

	result, err := eng.Update(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, Successful, result)

	nums, err := store.GetAddChunkNums(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.Equal(t, []uint32{6}, nums)

	subNums, err := store.GetSubChunkNums(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.Empty(t, subNums)

	hashes, err := store.GetFullHashes(ctx, common.ListMalware, 5, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, hashes, "ad: must purge full hashes too")
}

func TestUpdate_NoUpdateInsideWaitWindow(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	eng, store := newTestEngine(t, tr)
	require.NoError(t, store.RecordUpdate(ctx, common.ListMalware, time.Now(), time.Hour))

	result, err := eng.Update(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, NoUpdate, result)
	assert.Zero(t, tr.downloadCalls)

	// force overrides the window.
	result, _ = eng.Update(ctx, true)
	assert.Equal(t, ServerError, result)
	assert.Equal(t, 1, tr.downloadCalls)
}

func TestUpdate_BackoffSchedule(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{
		downloads: func([]byte, string) ([]byte, error) {
			return nil, fmt.Errorf("%w: status 503", common.ErrorServer)
		},
	}
	eng, store := newTestEngine(t, tr)

	for i := 1; i <= 4; i++ {
		result, err := eng.Update(ctx, true)
		assert.Equal(t, ServerError, result)
		require.Error(t, err)

		st, err := store.LastUpdate(ctx, common.ListMalware)
		require.NoError(t, err)
		assert.Equal(t, i, st.Errors)
	}

	st, err := store.LastUpdate(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Wait, 120*time.Minute)
	assert.LessOrEqual(t, st.Wait, 240*time.Minute)
}

func TestUpdate_SuccessResetsErrors(t *testing.T) {
	ctx := context.Background()
	fail := true
	tr := &fakeTransport{
		downloads: func([]byte, string) ([]byte, error) {
			if fail {
				return nil, fmt.Errorf("%w: status 500", common.ErrorServer)
			}
			return []byte("n:1800\n"), nil
		},
	}
	eng, store := newTestEngine(t, tr)

	_, _ = eng.Update(ctx, true)
	fail = false
	result, err := eng.Update(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, NoData, result)

	st, err := store.LastUpdate(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.Zero(t, st.Errors)
	assert.Equal(t, common.DefaultWait, st.Wait)
}

func TestUpdate_MalformedStream(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{
		downloads: func([]byte, string) ([]byte, error) {
			return []byte("bogus directive\n"), nil
		},
	}
	eng, store := newTestEngine(t, tr)

	result, err := eng.Update(ctx, true)
	assert.Equal(t, InternalError, result)
	require.Error(t, err)

	st, err := store.LastUpdate(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Errors)
}

func TestUpdate_Reset(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.PutAddChunk(ctx, common.ListMalware, 5, []storage.AddChunk{{HostKey: []byte("aaaa")}}))

	tr := &fakeTransport{
		downloads: func([]byte, string) ([]byte, error) {
			return []byte("r:pleasereset\n"), nil
		},
	}
	eng := New(store, tr, WithLists([]string{common.ListMalware}))

	result, err := eng.Update(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, NoData, result)

	nums, err := store.GetAddChunkNums(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.Empty(t, nums)
}

func macKeyBody(clientKey []byte, wrapped string) []byte {
	enc := base64.StdEncoding.EncodeToString(clientKey)
	return fmt.Appendf(nil, "clientkey:%d:%s\nwrappedkey:%d:%s\n", len(enc), enc, len(wrapped), wrapped)
}

func TestUpdate_MacValidation(t *testing.T) {
	ctx := context.Background()
	clientKey := []byte("client-key-material0")

	payload := "n:1800\n"
	signed := "m:" + mac.Digest([]byte(payload), clientKey) + "\n" + payload

	tr := &fakeTransport{
		newKey: macKeyBody(clientKey, "wrapped-opaque"),
		downloads: func(body []byte, wrappedKey string) ([]byte, error) {
			assert.Equal(t, "wrapped-opaque", wrappedKey)
			assert.Contains(t, string(body), ":mac\n")
			return []byte(signed), nil
		},
	}
	eng, store := newTestEngine(t, tr, WithMAC())
	require.NoError(t, store.PutAddChunk(ctx, common.ListMalware, 1, []storage.AddChunk{{HostKey: []byte("aaaa")}}))

	result, err := eng.Update(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, NoData, result)

	keys, err := store.GetMacKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, clientKey, keys.ClientKey)
}

func TestUpdate_MacMismatchAborts(t *testing.T) {
	ctx := context.Background()
	clientKey := []byte("client-key-material0")

	tr := &fakeTransport{
		downloads: func([]byte, string) ([]byte, error) {
			return []byte("m:AAAAAAAAAAAAAAAAAAAAAAAAAAA=\nn:1800\n"), nil
		},
	}
	eng, store := newTestEngine(t, tr, WithMAC())
	require.NoError(t, store.SetMacKeys(ctx, clientKey, "wrapped"))

	result, err := eng.Update(ctx, true)
	assert.Equal(t, MacError, result)
	require.ErrorIs(t, err, common.ErrorMacValidation)

	st, err := store.LastUpdate(ctx, common.ListMalware)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Errors, "mac failure advances the error counter")
}

func TestUpdate_PleaseRekey(t *testing.T) {
	ctx := context.Background()
	oldKey := []byte("old-client-key-00000")
	newKey := []byte("new-client-key-00000")

	calls := 0
	tr := &fakeTransport{
		newKey: macKeyBody(newKey, "wrapped-new"),
		downloads: func(_ []byte, wrappedKey string) ([]byte, error) {
			calls++
			if calls == 1 {
				assert.Equal(t, "wrapped-old", wrappedKey)
				payload := "e:pleaserekey\n"
				return []byte("m:" + mac.Digest([]byte(payload), oldKey) + "\n" + payload), nil
			}
			assert.Equal(t, "wrapped-new", wrappedKey)
			payload := "n:1800\n"
			return []byte("m:" + mac.Digest([]byte(payload), newKey) + "\n" + payload), nil
		},
	}
	eng, store := newTestEngine(t, tr, WithMAC())
	require.NoError(t, store.SetMacKeys(ctx, oldKey, "wrapped-old"))

	result, err := eng.Update(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, NoData, result)
	assert.Equal(t, 2, calls)

	keys, err := store.GetMacKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, newKey, keys.ClientKey)
}

func TestUpdate_MacKeyUnavailable(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{} // NewKey not scripted
	eng, _ := newTestEngine(t, tr, WithMAC())

	result, err := eng.Update(ctx, true)
	assert.Equal(t, MacKeyError, result)
	require.Error(t, err)
}
