package chunk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/safebrowse/internal/common"
)

// EncodeRanges renders a sorted, distinct chunk-number sequence in the
// protocol's range notation: "1-3,5,7-9". An empty sequence encodes to "".
func EncodeRanges(nums []uint32) string {
	if len(nums) == 0 {
		return ""
	}

	var b strings.Builder
	start, prev := nums[0], nums[0]

	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == prev {
			b.WriteString(strconv.FormatUint(uint64(start), 10))
		} else {
			b.WriteString(strconv.FormatUint(uint64(start), 10))
			b.WriteByte('-')
			b.WriteString(strconv.FormatUint(uint64(prev), 10))
		}
	}

	for _, n := range nums[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush()
		start, prev = n, n
	}
	flush()
	return b.String()
}

// ParseRanges is the inverse of EncodeRanges. The result is in token order,
// which for a canonical range string means ascending.
func ParseRanges(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}

	var nums []uint32
	for _, token := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(token, "-")
		a, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", common.ErrorBadRange, token)
		}
		if !ok {
			nums = append(nums, uint32(a))
			continue
		}
		b, err := strconv.ParseUint(hi, 10, 32)
		if err != nil || b < a {
			return nil, fmt.Errorf("%w: %q", common.ErrorBadRange, token)
		}
		for n := a; n <= b; n++ {
			nums = append(nums, uint32(n))
		}
	}
	return nums, nil
}
