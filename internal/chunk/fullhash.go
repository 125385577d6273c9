package chunk

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/safebrowse/internal/common"
)

// FullHashSet is one record of a gethash response: the full hashes the
// server confirmed for one (list, add chunk) pair.
type FullHashSet struct {
	List     string
	ChunkNum uint32
	Hashes   [][]byte
}

const fullHashSize = 32

// ReadFullHashes parses a gethash response body:
//
//	LIST ":" ADDCHUNKNUM ":" LEN "\n" HASH_BYTES[LEN]
//
// repeated. LEN is a multiple of 32; the byte run holds LEN/32 hashes.
func ReadFullHashes(r *bufio.Reader) ([]FullHashSet, error) {
	var sets []FullHashSet
	for {
		header, err := r.ReadString('\n')
		if err == io.EOF && header == "" {
			return sets, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: full hash header %q", common.ErrorBadChunkHeader, header)
		}

		parts := strings.Split(strings.TrimSuffix(header, "\n"), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: full hash header %q", common.ErrorBadChunkHeader, header)
		}
		num, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: full hash chunk number %q", common.ErrorBadChunkHeader, parts[1])
		}
		length, err := strconv.Atoi(parts[2])
		if err != nil || length <= 0 || length%fullHashSize != 0 {
			return nil, fmt.Errorf("%w: full hash length %q", common.ErrorBadChunkHeader, parts[2])
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrorBadChunkBody, err)
		}

		set := FullHashSet{List: parts[0], ChunkNum: uint32(num)}
		for off := 0; off < length; off += fullHashSize {
			set.Hashes = append(set.Hashes, body[off:off+fullHashSize])
		}
		sets = append(sets, set)
	}
}
