package canonical

import (
	"crypto/sha256"
	"net"
	"strings"

	"github.com/dmitrijs2005/safebrowse/internal/common"
)

// The permutations for a URL are all suffix+path combinations the service
// may have hashed, e.g. for "http://a.b.c/1/2.html?param=1":
//
//	a.b.c/1/2.html?param=1
//	a.b.c/1/2.html
//	a.b.c/
//	a.b.c/1/
//	b.c/1/2.html?param=1
//	b.c/1/2.html
//	b.c/
//	b.c/1/

// lookupHosts returns the host-suffix set for the canonical host: the exact
// hostname followed by up to four suffixes formed from the last five labels,
// dropping the leftmost label each time until two remain. IP hosts are used
// as-is.
func lookupHosts(host string) []string {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return []string{host}
	}

	const maxSuffixLabels = 5

	labels := strings.Split(host, ".")
	start := len(labels) - maxSuffixLabels
	if start < 1 {
		start = 1
	}

	hosts := []string{host}
	for i := start; i < len(labels)-1; i++ {
		hosts = append(hosts, strings.Join(labels[i:], "."))
	}
	return hosts
}

// lookupPaths returns the path-prefix set: the exact path with query, the
// exact path without query, and the prefixes formed from the root by
// appending one component at a time. At most six entries.
func lookupPaths(pth, query string) []string {
	const maxPathComponents = 4

	var paths []string
	if query != "" {
		paths = append(paths, pth+"?"+query)
	}
	paths = append(paths, pth)

	var components []string
	for _, p := range strings.Split(pth, "/") {
		if p != "" {
			components = append(components, p)
		}
	}
	count := len(components)
	if count > maxPathComponents {
		count = maxPathComponents
	}

	// Root plus each directory prefix; the full path is already emitted.
	prefix := "/"
	for i := 0; i < count; i++ {
		if prefix != pth {
			paths = append(paths, prefix)
		}
		prefix += components[i] + "/"
	}

	if len(paths) > 6 {
		paths = paths[:6]
	}
	return paths
}

// Permutations canonicalizes urlStr and returns every suffix+path pattern
// that must be checked against the local database.
func Permutations(urlStr string) ([]string, error) {
	parsedURL, err := parseURL(urlStr)
	if err != nil {
		return nil, err
	}

	hosts := lookupHosts(parsedURL.Host)
	paths := lookupPaths(parsedURL.Path, parsedURL.RawQuery)

	patterns := make([]string, 0, len(hosts)*len(paths))
	for _, h := range hosts {
		for _, p := range paths {
			patterns = append(patterns, h+p)
		}
	}
	return patterns, nil
}

// FullHashes returns the SHA-256 of every permutation, in permutation order.
func FullHashes(urlStr string) ([][]byte, error) {
	patterns, err := Permutations(urlStr)
	if err != nil {
		return nil, err
	}
	hashes := make([][]byte, 0, len(patterns))
	for _, p := range patterns {
		h := sha256.Sum256([]byte(p))
		hashes = append(hashes, h[:])
	}
	return hashes, nil
}

// Prefixes truncates each hash to size bytes, deduplicating while keeping
// first-seen order.
func Prefixes(hashes [][]byte, size int) [][]byte {
	seen := make(map[string]struct{}, len(hashes))
	out := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		p := h[:size]
		if _, ok := seen[string(p)]; ok {
			continue
		}
		seen[string(p)] = struct{}{}
		out = append(out, p)
	}
	return out
}

// HostKeys returns the probe keys for urlStr: the first four bytes of
// SHA-256(suffix + "/") for the three most specific host suffixes.
func HostKeys(urlStr string) ([][]byte, error) {
	parsedURL, err := parseURL(urlStr)
	if err != nil {
		return nil, err
	}

	hosts := lookupHosts(parsedURL.Host)
	if len(hosts) > 3 {
		hosts = hosts[:3]
	}

	keys := make([][]byte, 0, len(hosts))
	for _, h := range hosts {
		sum := sha256.Sum256([]byte(h + "/"))
		keys = append(keys, sum[:common.HostKeySize])
	}
	return keys, nil
}
