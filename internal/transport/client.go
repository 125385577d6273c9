// Package transport performs the HTTP exchanges of the v2 protocol:
// downloads, redirection fetches, full-hash requests and MAC key
// acquisition. It knows nothing about the payloads beyond status handling;
// parsing lives in the chunk and engine packages.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/safebrowse/internal/common"
)

const (
	// DefaultBaseURL serves downloads and gethash.
	DefaultBaseURL = "http://safebrowsing.clients.google.com/safebrowsing"

	// DefaultKeyURL serves newkey.
	DefaultKeyURL = "http://sb-ssl.google.com/safebrowsing"

	defaultAppVer  = "1.0"
	defaultPVer    = "2.2"
	defaultTimeout = 60 * time.Second
)

// Client issues protocol requests with a fixed identity (apikey, appver,
// pver) against one server pair.
type Client struct {
	baseURL string
	keyURL  string
	apiKey  string
	appVer  string
	pVer    string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the downloads/gethash server, e.g. for tests.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") } }

// WithKeyURL overrides the newkey server.
func WithKeyURL(u string) Option { return func(c *Client) { c.keyURL = strings.TrimSuffix(u, "/") } }

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithAppVer overrides the reported application version.
func WithAppVer(v string) Option { return func(c *Client) { c.appVer = v } }

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		keyURL:  DefaultKeyURL,
		apiKey:  apiKey,
		appVer:  defaultAppVer,
		pVer:    defaultPVer,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) query(wrappedKey string) string {
	q := url.Values{}
	q.Set("client", "api")
	q.Set("apikey", c.apiKey)
	q.Set("appver", c.appVer)
	q.Set("pver", c.pVer)
	if wrappedKey != "" {
		q.Set("wrkey", wrappedKey)
	}
	return q.Encode()
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", common.ErrorServer, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading body: %v", common.ErrorServer, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("%w: status %s", common.ErrorServer, resp.Status)
	}
	return body, resp.StatusCode, nil
}

// Downloads posts the per-list request body to the downloads endpoint and
// returns the command stream.
func (c *Client) Downloads(ctx context.Context, body []byte, wrappedKey string) ([]byte, error) {
	u := c.baseURL + "/downloads?" + c.query(wrappedKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, _, err := c.do(req)
	return resp, err
}

// Redirect fetches a chunk file. Redirection URLs arrive scheme-less and are
// fetched over plain http.
func (c *Client) Redirect(ctx context.Context, redirectURL string) ([]byte, error) {
	if !strings.Contains(redirectURL, "://") {
		redirectURL = "http://" + redirectURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, redirectURL, nil)
	if err != nil {
		return nil, err
	}
	resp, _, err := c.do(req)
	return resp, err
}

// FullHashes posts prefixes to the gethash endpoint:
//
//	PREFIXSIZE:TOTAL_BYTES
//	PREFIX1PREFIX2...
//
// A 204 or empty body means the server knows none of them; (nil, nil) is
// returned so callers can distinguish a miss from a failure.
func (c *Client) FullHashes(ctx context.Context, prefixes [][]byte, wrappedKey string) ([]byte, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}
	size := len(prefixes[0])

	var body bytes.Buffer
	body.WriteString(strconv.Itoa(size))
	body.WriteByte(':')
	body.WriteString(strconv.Itoa(size * len(prefixes)))
	body.WriteByte('\n')
	for _, p := range prefixes {
		body.Write(p)
	}

	u := c.baseURL + "/gethash?" + c.query(wrappedKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, err
	}
	resp, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(resp) == 0 {
		return nil, nil
	}
	return resp, nil
}

// NewKey fetches fresh MAC key material from the key server.
func (c *Client) NewKey(ctx context.Context) ([]byte, error) {
	u := c.keyURL + "/newkey?" + c.query("")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, _, err := c.do(req)
	return resp, err
}
