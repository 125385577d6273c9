// Package canonical turns arbitrary URLs into the canonical form and the
// host-suffix/path-prefix permutations the Safe Browsing v2 protocol hashes.
//
// The parsing here is deliberately not strictly standards compliant: the
// service predates most URL RFCs and matches what legacy browsers did. A
// scheme is optional (http is assumed), escaping is allowed in both host and
// path, and fragments are discarded.
package canonical

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var (
	dotsRegexp       = regexp.MustCompile(`[.]+`)
	portRegexp       = regexp.MustCompile(`:\d+$`)
	possibleIPRegexp = regexp.MustCompile(`^(?i)((?:0x[0-9a-f]+|[0-9\.])+)$`)
)

func isHex(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// isUnicode reports whether s contains bytes above 0x80. For legacy reasons
// 0x80 itself does not count.
func isUnicode(s string) bool {
	for _, c := range []byte(s) {
		if c > 0x80 {
			return true
		}
	}
	return false
}

// split splits s around the first occurrence of c. If cutc is set the
// delimiter is dropped from the second half, otherwise it is kept.
func split(s string, c string, cutc bool) (string, string) {
	i := strings.Index(s, c)
	if i < 0 {
		return s, ""
	}
	if cutc {
		return s[:i], s[i+len(c):]
	}
	return s[:i], s[i:]
}

// escape percent-encodes control bytes, non-ASCII bytes, space, '#' and '%'.
// Keeping '#' encoded means a decoded fragment marker cannot reintroduce a
// fragment into the canonical URL.
func escape(s string) string {
	var b bytes.Buffer
	for _, c := range []byte(s) {
		if c < 0x20 || c >= 0x7f || c == ' ' || c == '#' || c == '%' {
			fmt.Fprintf(&b, "%%%02x", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unescape decodes every valid %HH sequence in s, leaving stray '%' alone.
func unescape(s string) string {
	var b bytes.Buffer
	for len(s) > 0 {
		if len(s) >= 3 && s[0] == '%' && isHex(s[1]) && isHex(s[2]) {
			b.WriteByte(unhex(s[1])<<4 | unhex(s[2]))
			s = s[3:]
		} else {
			b.WriteByte(s[0])
			s = s[1:]
		}
	}
	return b.String()
}

// recursiveUnescape unescapes s until it reaches a fixed point.
func recursiveUnescape(s string) (string, error) {
	const maxDepth = 1024
	for range maxDepth {
		t := unescape(s)
		if t == s {
			return s, nil
		}
		s = t
	}
	return "", errors.New("canonical: unescaping is too recursive")
}

// normalizeEscape unescapes to a fixed point and then escapes exactly once.
func normalizeEscape(s string) (string, error) {
	u, err := recursiveUnescape(s)
	if err != nil {
		return "", err
	}
	return escape(u), nil
}

// getScheme splits url into (scheme, rest). If no valid scheme is present,
// ("", url) is returned.
func getScheme(url string) (scheme, rest string) {
	for i, c := range []byte(url) {
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
			// Scheme character.
		case '0' <= c && c <= '9' || c == '+' || c == '-' || c == '.':
			if i == 0 {
				return "", url
			}
		case c == ':':
			return url[:i], url[i+1:]
		default:
			return "", url
		}
	}
	return "", url
}

// parseHost extracts the bare host from a hostish string, stripping
// credentials and port, mapping IDN to ASCII, collapsing superfluous dots
// and canonicalizing IP addresses.
func parseHost(hostish string) (host string, err error) {
	if i := strings.LastIndex(hostish, "@"); i < 0 {
		host = hostish
	} else {
		host = hostish[i+1:]
	}
	host = portRegexp.ReplaceAllString(host, "")

	u := unescape(host)
	if isUnicode(u) {
		host, err = idna.ToASCII(u)
		if err != nil {
			return "", err
		}
	}

	host = dotsRegexp.ReplaceAllString(host, ".")
	host = strings.Trim(host, ".")
	if iphost := parseIPAddress(host); iphost != "" {
		host = iphost
	} else {
		host = strings.ToLower(host)
	}
	if host == "" {
		return "", errors.New("canonical: empty hostname")
	}
	return host, nil
}

// parseIPAddress canonicalizes hosts that look like IP addresses, including
// the legacy forms the service accepts: plain 32-bit integers
// ("3232235521" -> "192.168.0.1"), hex and octal components, and dotted
// quads with fewer than four parts.
func parseIPAddress(iphostname string) string {
	if !possibleIPRegexp.MatchString(iphostname) {
		return ""
	}
	parts := strings.Split(iphostname, ".")
	if len(parts) > 4 {
		return ""
	}
	ss := make([]string, len(parts))
	for i, n := range parts {
		if i == len(parts)-1 {
			ss[i] = canonicalNum(n, 5-len(parts))
		} else {
			ss[i] = canonicalNum(n, 1)
		}
		if ss[i] == "" {
			return ""
		}
	}
	return strings.Join(ss, ".")
}

// canonicalNum parses s as an integer (decimal, 0x hex or 0 octal) and
// renders it as n dot-separated base-10 bytes, most significant first.
func canonicalNum(s string, n int) string {
	if n <= 0 || n > 4 {
		return ""
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return ""
	}
	ss := make([]string, n)
	for i := n - 1; i >= 0; i-- {
		ss[i] = strconv.Itoa(int(v) & 0xff)
		v = v >> 8
	}
	return strings.Join(ss, ".")
}

// parseURL parses urlStr the way the service expects, which differs from
// net/url: escapes may appear in the host, a missing scheme means http, and
// fragments are dropped before decoding so an unescaped '#' cannot move the
// fragment boundary.
func parseURL(urlStr string) (*url.URL, error) {
	parsedURL := new(url.URL)

	rest, _ := split(urlStr, "#", true)
	rest = strings.TrimSpace(rest)
	rest = strings.ReplaceAll(rest, "\t", "")
	rest = strings.ReplaceAll(rest, "\r", "")
	rest = strings.ReplaceAll(rest, "\n", "")

	rest, err := normalizeEscape(rest)
	if err != nil {
		return nil, err
	}
	parsedURL.Scheme, rest = getScheme(rest)
	rest, parsedURL.RawQuery = split(rest, "?", true)

	var hostish string
	if !strings.HasPrefix(rest, "//") && parsedURL.Scheme != "" {
		return nil, errors.New("canonical: invalid path")
	}
	if parsedURL.Scheme == "" {
		parsedURL.Scheme = "http"
		hostish, rest = split(rest, "/", false)
	} else {
		hostish, rest = split(rest[2:], "/", false)
	}
	if hostish == "" {
		return nil, errors.New("canonical: missing hostname")
	}

	parsedURL.Host, err = parseHost(hostish)
	if err != nil {
		return nil, err
	}

	p := path.Clean(rest)
	if p == "." {
		p = "/"
	} else if rest[len(rest)-1] == '/' && p[len(p)-1] != '/' {
		p += "/"
	}
	parsedURL.Path = p
	return parsedURL, nil
}

// URL returns the canonical form of urlStr: scheme://host/path with the
// query preserved and the fragment dropped.
func URL(urlStr string) (string, error) {
	parsedURL, err := parseURL(urlStr)
	if err != nil {
		return "", err
	}
	// Assemble by hand to skip net/url re-encoding.
	u := parsedURL.Scheme + "://" + parsedURL.Host
	if parsedURL.Path == "" {
		u += "/"
	} else {
		u += parsedURL.Path
	}
	if parsedURL.RawQuery != "" {
		u += "?" + parsedURL.RawQuery
	}
	return u, nil
}
