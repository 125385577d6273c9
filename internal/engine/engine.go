// Package engine drives the two halves of the client: the periodic update
// cycle that keeps the local mirror current, and the lookup pipeline that
// matches URLs against it.
package engine

import (
	"context"
	"time"

	"github.com/dmitrijs2005/safebrowse/internal/common"
	"github.com/dmitrijs2005/safebrowse/internal/logging"
	"github.com/dmitrijs2005/safebrowse/internal/storage"
)

// UpdateResult classifies the outcome of one update cycle.
type UpdateResult int

const (
	// NoUpdate means every list was still inside its wait window.
	NoUpdate UpdateResult = iota
	// NoData means the exchange succeeded but the server had nothing new.
	NoData
	// Successful means at least one chunk or delete directive was applied.
	Successful
	// ServerError means the service answered with a failure status.
	ServerError
	// InternalError means a response could not be parsed.
	InternalError
	// MacError means a response failed MAC validation.
	MacError
	// MacKeyError means MAC was requested but keys could not be obtained.
	MacKeyError
)

func (r UpdateResult) String() string {
	switch r {
	case NoUpdate:
		return "no update"
	case NoData:
		return "no data"
	case Successful:
		return "successful"
	case ServerError:
		return "server error"
	case InternalError:
		return "internal error"
	case MacError:
		return "mac error"
	case MacKeyError:
		return "mac key error"
	default:
		return "unknown"
	}
}

// Transport is the HTTP surface the engine needs. *transport.Client
// implements it; tests substitute fakes.
type Transport interface {
	Downloads(ctx context.Context, body []byte, wrappedKey string) ([]byte, error)
	Redirect(ctx context.Context, redirectURL string) ([]byte, error)
	FullHashes(ctx context.Context, prefixes [][]byte, wrappedKey string) ([]byte, error)
	NewKey(ctx context.Context) ([]byte, error)
}

// Engine owns one Store and one Transport. Update must not be called
// concurrently with itself; Lookup is safe from multiple goroutines.
type Engine struct {
	store  storage.Store
	client Transport
	lists  []string
	useMac bool
	log    logging.Logger
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLists narrows the mirrored lists.
func WithLists(lists []string) Option { return func(e *Engine) { e.lists = lists } }

// WithMAC turns on response authentication.
func WithMAC() Option { return func(e *Engine) { e.useMac = true } }

// WithLogger installs a logger.
func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.log = l } }

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(store storage.Store, client Transport, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		client: client,
		lists:  common.DefaultLists,
		log:    logging.Discard{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close evicts stale full hashes and releases the store.
func (e *Engine) Close(ctx context.Context) error {
	return e.store.Close(ctx)
}
