// Package mac implements the optional request-authentication scheme: key
// material issued by the newkey endpoint and HMAC-SHA1 validation of MACed
// server responses.
package mac

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/safebrowse/internal/common"
)

// Keys holds the negotiated key pair. ClientKey signs/validates response
// bodies locally; WrappedKey is opaque to the client and echoed back to the
// server as the wrkey query parameter.
type Keys struct {
	ClientKey  []byte
	WrappedKey string
}

// ParseKeys decodes a newkey response:
//
//	clientkey:LEN:KEY_BASE64
//	wrappedkey:LEN:OPAQUE
//
// LEN is the byte length of the value that follows it.
func ParseKeys(body []byte) (*Keys, error) {
	keys := &Keys{}
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		name, rest, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			return nil, fmt.Errorf("%w: malformed newkey line %q", common.ErrorMacKeys, line)
		}
		lenStr, value, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("%w: malformed newkey line %q", common.ErrorMacKeys, line)
		}
		n, err := strconv.Atoi(lenStr)
		if err != nil || n != len(value) {
			return nil, fmt.Errorf("%w: bad length in newkey line %q", common.ErrorMacKeys, line)
		}

		switch name {
		case "clientkey":
			key, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return nil, fmt.Errorf("%w: client key is not base64: %v", common.ErrorMacKeys, err)
			}
			keys.ClientKey = key
		case "wrappedkey":
			keys.WrappedKey = value
		}
	}

	if len(keys.ClientKey) == 0 || keys.WrappedKey == "" {
		return nil, fmt.Errorf("%w: newkey response incomplete", common.ErrorMacKeys)
	}
	return keys, nil
}

// Digest computes the MAC the server attaches to a body: the URL-safe base64
// of HMAC-SHA1 over the body, carrying its trailing '=' pad.
func Digest(body, clientKey []byte) string {
	m := hmac.New(sha1.New, clientKey)
	m.Write(body)
	return base64.URLEncoding.EncodeToString(m.Sum(nil))
}

// Validate checks the expected digest against the body in constant time.
func Validate(body, clientKey []byte, expected string) error {
	got := Digest(body, clientKey)
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return common.ErrorMacValidation
	}
	return nil
}
