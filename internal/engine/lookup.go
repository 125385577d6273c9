package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/dmitrijs2005/safebrowse/internal/backoff"
	"github.com/dmitrijs2005/safebrowse/internal/canonical"
	"github.com/dmitrijs2005/safebrowse/internal/chunk"
	"github.com/dmitrijs2005/safebrowse/internal/common"
	"github.com/dmitrijs2005/safebrowse/internal/mac"
	"github.com/dmitrijs2005/safebrowse/internal/storage"
)

// Lookup matches a URL against the local mirror and returns the name of the
// first matching list, or "" when nothing matches. When lists are given the
// match is restricted to them.
//
// A candidate hit whose full hash is not cached triggers a synchronous
// gethash exchange; a failure there records per-prefix backoff and degrades
// to a miss rather than surfacing an error.
func (e *Engine) Lookup(ctx context.Context, url string, lists ...string) (string, error) {
	hostKeys, err := canonical.HostKeys(url)
	if err != nil {
		return "", err
	}
	fullHashes, err := canonical.FullHashes(url)
	if err != nil {
		return "", err
	}

	hashSet := make(map[string]struct{}, len(fullHashes))
	for _, h := range fullHashes {
		hashSet[string(h)] = struct{}{}
	}

	listOK := func(list string) bool {
		return len(lists) == 0 || slices.Contains(lists, list)
	}

	// Most specific probe first; insertion order within a probe. The first
	// surviving add chunk whose full hash confirms wins.
	var survivors []storage.AddChunk
	for _, key := range hostKeys {
		adds, err := e.store.GetAddChunks(ctx, key)
		if err != nil {
			return "", err
		}
		if len(adds) == 0 {
			continue
		}
		subs, err := e.store.GetSubChunks(ctx, key)
		if err != nil {
			return "", err
		}

		for _, a := range adds {
			if !listOK(a.List) {
				continue
			}
			if len(a.Prefix) > 0 && !prefixInHashes(a.Prefix, fullHashes) {
				continue
			}
			if cancelled(a, subs) {
				continue
			}
			survivors = append(survivors, a)
		}
	}
	if len(survivors) == 0 {
		return "", nil
	}

	if list, err := e.matchCachedHashes(ctx, survivors, hashSet); err != nil || list != "" {
		return list, err
	}

	if err := e.requestFullHashes(ctx, canonical.Prefixes(fullHashes, common.PrefixSize)); err != nil {
		e.log.Warn(ctx, "full hash request failed", "error", err)
		return "", nil
	}
	return e.matchCachedHashes(ctx, survivors, hashSet)
}

// prefixInHashes reports whether any candidate hash starts with p.
func prefixInHashes(p []byte, hashes [][]byte) bool {
	for _, h := range hashes {
		if len(h) >= len(p) && bytes.Equal(h[:len(p)], p) {
			return true
		}
	}
	return false
}

// cancelled reports whether a sub chunk of the same list revokes this add
// entry: matching add chunk number, and either no prefix (whole chunk) or
// the exact prefix.
func cancelled(a storage.AddChunk, subs []storage.SubChunk) bool {
	for _, s := range subs {
		if s.List != a.List || s.AddChunkNum != a.ChunkNum {
			continue
		}
		if len(s.Prefix) == 0 || bytes.Equal(s.Prefix, a.Prefix) {
			return true
		}
	}
	return false
}

// matchCachedHashes checks fresh cached full hashes of every survivor
// against the candidate set, in survivor order.
func (e *Engine) matchCachedHashes(ctx context.Context, survivors []storage.AddChunk, hashSet map[string]struct{}) (string, error) {
	since := e.now().Add(-common.FullHashFreshness)
	for _, a := range survivors {
		hashes, err := e.store.GetFullHashes(ctx, a.List, a.ChunkNum, since)
		if err != nil {
			return "", err
		}
		for _, h := range hashes {
			if _, ok := hashSet[string(h)]; ok {
				return a.List, nil
			}
		}
	}
	return "", nil
}

// requestFullHashes asks the server to expand the candidate prefixes,
// honoring per-prefix throttles, and persists whatever comes back.
func (e *Engine) requestFullHashes(ctx context.Context, prefixes [][]byte) error {
	now := e.now()

	wanted := make([][]byte, 0, len(prefixes))
	for _, p := range prefixes {
		pe, err := e.store.GetFullHashError(ctx, p)
		if err != nil {
			return err
		}
		if pe != nil && backoff.FullHashThrottled(pe.Errors, pe.Timestamp, now) {
			e.log.Debug(ctx, "prefix throttled", "errors", pe.Errors)
			continue
		}
		wanted = append(wanted, p)
	}
	if len(wanted) == 0 {
		return nil
	}

	var keys *storage.MacKeys
	var wrappedKey string
	if e.useMac {
		var err error
		if keys, err = e.store.GetMacKeys(ctx); err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			keys = nil
		} else {
			wrappedKey = keys.WrappedKey
		}
	}

	body, err := e.client.FullHashes(ctx, wanted, wrappedKey)
	if err != nil {
		for _, p := range wanted {
			if err := e.store.FullHashError(ctx, p, now); err != nil {
				return err
			}
		}
		return err
	}

	for _, p := range wanted {
		if err := e.store.FullHashOk(ctx, p); err != nil {
			return err
		}
	}
	if len(body) == 0 {
		return nil
	}

	// A MACed gethash response leads with its digest on the first line.
	if keys != nil {
		line, rest, ok := bytes.Cut(body, []byte("\n"))
		if !ok {
			return common.ErrorMacValidation
		}
		if err := mac.Validate(rest, keys.ClientKey, strings.TrimSpace(string(line))); err != nil {
			return err
		}
		body = rest
	}

	sets, err := chunk.ReadFullHashes(bufio.NewReader(bytes.NewReader(body)))
	if err != nil {
		return err
	}
	var rows []storage.FullHash
	for _, set := range sets {
		for _, h := range set.Hashes {
			rows = append(rows, storage.FullHash{ChunkNum: set.ChunkNum, Hash: h, List: set.List})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return e.store.PutFullHashes(ctx, rows, now)
}
