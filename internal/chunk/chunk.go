// Package chunk implements the v2 wire formats: the binary add/sub chunk
// bodies, the chunk-file stream served by redirection URLs, and the
// chunk-number range notation used in update requests.
package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/dmitrijs2005/safebrowse/internal/common"
)

// Type discriminates add and sub chunks.
type Type string

const (
	TypeAdd Type = "a"
	TypeSub Type = "s"
)

// AddEntry is one decoded record of an add chunk body.
type AddEntry struct {
	HostKey []byte
	Prefix  []byte
}

// SubEntry is one decoded record of a sub chunk body. AddChunkNum names the
// add chunk this entry revokes.
type SubEntry struct {
	HostKey     []byte
	AddChunkNum uint32
	Prefix      []byte
}

// DecodeAdd parses an add chunk body:
//
//	HOSTKEY[4] | COUNT[1] | (PREFIX[hashLen]){COUNT}
//
// repeated until the body is exhausted. COUNT == 0 yields a single
// host-only record. An entirely empty body yields one record with empty
// hostkey and prefix, so the chunk number is still covered.
func DecodeAdd(body []byte, hashLen int) ([]AddEntry, error) {
	if len(body) == 0 {
		return []AddEntry{{}}, nil
	}
	if hashLen <= 0 {
		return nil, fmt.Errorf("%w: hash length %d", common.ErrorBadChunkBody, hashLen)
	}

	var entries []AddEntry
	for x := 0; x < len(body); {
		if x+common.HostKeySize+1 > len(body) {
			return nil, common.ErrorBadChunkBody
		}
		hostKey := body[x : x+common.HostKeySize]
		x += common.HostKeySize
		count := int(body[x])
		x++

		if count == 0 {
			entries = append(entries, AddEntry{HostKey: hostKey})
			continue
		}
		for range count {
			if x+hashLen > len(body) {
				return nil, common.ErrorBadChunkBody
			}
			entries = append(entries, AddEntry{HostKey: hostKey, Prefix: body[x : x+hashLen]})
			x += hashLen
		}
	}
	return entries, nil
}

// DecodeSub parses a sub chunk body:
//
//	HOSTKEY[4] | COUNT[1] | (ADDCHUNKNUM_be32 | PREFIX[hashLen]){COUNT}
//
// COUNT == 0 means a single ADDCHUNKNUM follows and the record carries no
// prefix. An entirely empty body yields one placeholder record.
func DecodeSub(body []byte, hashLen int) ([]SubEntry, error) {
	if len(body) == 0 {
		return []SubEntry{{}}, nil
	}
	if hashLen <= 0 {
		return nil, fmt.Errorf("%w: hash length %d", common.ErrorBadChunkBody, hashLen)
	}

	var entries []SubEntry
	for x := 0; x < len(body); {
		if x+common.HostKeySize+1 > len(body) {
			return nil, common.ErrorBadChunkBody
		}
		hostKey := body[x : x+common.HostKeySize]
		x += common.HostKeySize
		count := int(body[x])
		x++

		if count == 0 {
			if x+4 > len(body) {
				return nil, common.ErrorBadChunkBody
			}
			num := binary.BigEndian.Uint32(body[x : x+4])
			x += 4
			entries = append(entries, SubEntry{HostKey: hostKey, AddChunkNum: num})
			continue
		}
		for range count {
			if x+4+hashLen > len(body) {
				return nil, common.ErrorBadChunkBody
			}
			num := binary.BigEndian.Uint32(body[x : x+4])
			x += 4
			entries = append(entries, SubEntry{HostKey: hostKey, AddChunkNum: num, Prefix: body[x : x+hashLen]})
			x += hashLen
		}
	}
	return entries, nil
}
