package chunk

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAdd(t *testing.T) {
	// Two hostkey groups: first with two 4-byte prefixes, second host-only.
	body := []byte{
		'h', 'k', '1', '1', 2,
		'p', 'r', 'e', 'A',
		'p', 'r', 'e', 'B',
		'h', 'k', '2', '2', 0,
	}
	entries, err := DecodeAdd(body, 4)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("hk11"), entries[0].HostKey)
	assert.Equal(t, []byte("preA"), entries[0].Prefix)
	assert.Equal(t, []byte("preB"), entries[1].Prefix)
	assert.Equal(t, []byte("hk22"), entries[2].HostKey)
	assert.Empty(t, entries[2].Prefix)
}

func TestDecodeAdd_EmptyBody(t *testing.T) {
	entries, err := DecodeAdd(nil, 4)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].HostKey)
	assert.Empty(t, entries[0].Prefix)
}

func TestDecodeAdd_Truncated(t *testing.T) {
	for _, body := range [][]byte{
		{'h', 'k'},
		{'h', 'k', '1', '1'},
		{'h', 'k', '1', '1', 2, 'p', 'r', 'e', 'A'},
	} {
		_, err := DecodeAdd(body, 4)
		require.Error(t, err)
	}
}

func TestDecodeSub(t *testing.T) {
	body := []byte{
		'h', 'k', '1', '1', 1,
		0, 0, 0, 100,
		'p', 'r', 'e', 'A',
		'h', 'k', '2', '2', 0,
		0, 0, 1, 44,
	}
	entries, err := DecodeSub(body, 4)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, []byte("hk11"), entries[0].HostKey)
	assert.Equal(t, uint32(100), entries[0].AddChunkNum)
	assert.Equal(t, []byte("preA"), entries[0].Prefix)

	assert.Equal(t, []byte("hk22"), entries[1].HostKey)
	assert.Equal(t, uint32(300), entries[1].AddChunkNum)
	assert.Empty(t, entries[1].Prefix)
}

func TestDecodeSub_Truncated(t *testing.T) {
	for _, body := range [][]byte{
		{'h', 'k', '1', '1', 0, 0, 0},
		{'h', 'k', '1', '1', 1, 0, 0, 0, 100, 'p'},
	} {
		_, err := DecodeSub(body, 4)
		require.Error(t, err)
	}
}

func TestReadChunk(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("a:42:4:5\n")
	buf.Write([]byte{'h', 'k', '1', '1', 0})
	buf.WriteString("s:7:4:13\n")
	buf.Write([]byte{'h', 'k', '2', '2', 1, 0, 0, 0, 9, 'p', 'r', 'e', 'A'})

	r := bufio.NewReader(&buf)

	c1, err := ReadChunk(r)
	require.NoError(t, err)
	assert.Equal(t, TypeAdd, c1.Type)
	assert.Equal(t, uint32(42), c1.Num)
	assert.Equal(t, 4, c1.HashLen)
	assert.Len(t, c1.Body, 5)

	c2, err := ReadChunk(r)
	require.NoError(t, err)
	assert.Equal(t, TypeSub, c2.Type)
	assert.Equal(t, uint32(7), c2.Num)

	_, err = ReadChunk(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadChunk_BadHeader(t *testing.T) {
	for _, in := range []string{
		"x:1:4:0\n",
		"a:0:4:0\n",
		"a:1:4\n",
		"a:1:4:oops\n",
		"a:1:4:10\nshort",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ReadChunk(bufio.NewReader(bytes.NewBufferString(in)))
			require.Error(t, err)
		})
	}
}

func TestEncodeRanges(t *testing.T) {
	testCases := []struct {
		nums     []uint32
		expected string
	}{
		{nil, ""},
		{[]uint32{1}, "1"},
		{[]uint32{1, 2, 3, 5, 7, 8, 9}, "1-3,5,7-9"},
		{[]uint32{2, 3, 4, 5}, "2-5"},
		{[]uint32{10, 12, 14}, "10,12,14"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, EncodeRanges(tc.nums))
	}
}

func TestParseRanges(t *testing.T) {
	got, err := ParseRanges("1-3,5,7-9")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 5, 7, 8, 9}, got)

	got, err = ParseRanges("")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, in := range []string{"x", "1-", "-3", "5-2", "1,,2"} {
		_, err := ParseRanges(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestRanges_RoundTrip(t *testing.T) {
	sets := [][]uint32{
		{1},
		{1, 2, 3, 5, 7, 8, 9},
		{4, 9, 10, 11, 300, 301},
		{1, 3, 5, 7},
	}
	for _, s := range sets {
		parsed, err := ParseRanges(EncodeRanges(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	for _, r := range []string{"1", "1-3,5,7-9", "2-5", "10,12,14"} {
		nums, err := ParseRanges(r)
		require.NoError(t, err)
		assert.Equal(t, r, EncodeRanges(nums))
	}
}
