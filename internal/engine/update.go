package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/safebrowse/internal/backoff"
	"github.com/dmitrijs2005/safebrowse/internal/chunk"
	"github.com/dmitrijs2005/safebrowse/internal/common"
	"github.com/dmitrijs2005/safebrowse/internal/logging"
	"github.com/dmitrijs2005/safebrowse/internal/mac"
	"github.com/dmitrijs2005/safebrowse/internal/storage"
)

// redirect is one u: directive: a chunk file to fetch for a list, with an
// optional expected MAC digest.
type redirect struct {
	list   string
	url    string
	digest string
}

// Update runs one refresh cycle. With force set, per-list wait windows are
// ignored.
func (e *Engine) Update(ctx context.Context, force bool) (UpdateResult, error) {
	log := e.log.With("cycle", uuid.NewString())
	return e.update(ctx, log, force, true)
}

func (e *Engine) update(ctx context.Context, log logging.Logger, force, canRekey bool) (UpdateResult, error) {
	now := e.now()

	due := make([]string, 0, len(e.lists))
	for _, list := range e.lists {
		st, err := e.store.LastUpdate(ctx, list)
		if err != nil {
			return InternalError, err
		}
		if !force && now.Before(st.LastUpdate.Add(st.Wait)) {
			log.Debug(ctx, "list inside wait window", "list", list, "wait", st.Wait)
			continue
		}
		due = append(due, list)
	}
	if len(due) == 0 {
		return NoUpdate, nil
	}

	var keys *mac.Keys
	if e.useMac {
		var err error
		if keys, err = e.macKeys(ctx); err != nil {
			log.Error(ctx, "failed to obtain MAC keys", "error", err)
			return MacKeyError, err
		}
	}

	body, err := e.requestBody(ctx, due)
	if err != nil {
		return InternalError, err
	}

	var wrappedKey string
	if keys != nil {
		wrappedKey = keys.WrappedKey
	}
	resp, err := e.client.Downloads(ctx, body, wrappedKey)
	if err != nil {
		log.Warn(ctx, "downloads request failed", "error", err)
		return e.failUpdate(ctx, due, now, ServerError, err)
	}

	if keys != nil {
		resp, err = e.checkResponseMac(resp, keys)
		if err != nil {
			log.Error(ctx, "downloads response failed MAC validation")
			return e.failUpdate(ctx, due, now, MacError, err)
		}
	}

	parsed, err := e.applyDirectives(ctx, log, resp, due)
	if errors.Is(err, errPleaseRekey) {
		if !canRekey {
			return MacKeyError, fmt.Errorf("%w: server demanded rekey twice", common.ErrorMacKeys)
		}
		log.Info(ctx, "server demanded rekey")
		if err := e.store.ClearMacKeys(ctx); err != nil {
			return InternalError, err
		}
		return e.update(ctx, log, force, false)
	}
	if err != nil {
		result := InternalError
		if errors.Is(err, common.ErrorServer) {
			result = ServerError
		} else if errors.Is(err, common.ErrorMacValidation) {
			result = MacError
		}
		log.Warn(ctx, "update cycle failed", "error", err, "result", result.String())
		return e.failUpdate(ctx, due, now, result, err)
	}

	wait := parsed.wait
	if wait == 0 {
		wait = common.DefaultWait
	}
	for _, list := range due {
		if err := e.store.RecordUpdate(ctx, list, now, wait); err != nil {
			return InternalError, err
		}
	}

	if parsed.applied == 0 {
		log.Info(ctx, "update finished, nothing new", "lists", len(due))
		return NoData, nil
	}
	log.Info(ctx, "update finished", "lists", len(due), "applied", parsed.applied, "wait", wait)
	return Successful, nil
}

// macKeys returns the stored key pair, negotiating a fresh one if absent.
func (e *Engine) macKeys(ctx context.Context) (*mac.Keys, error) {
	stored, err := e.store.GetMacKeys(ctx)
	if err == nil {
		return &mac.Keys{ClientKey: stored.ClientKey, WrappedKey: stored.WrappedKey}, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	body, err := e.client.NewKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorMacKeys, err)
	}
	keys, err := mac.ParseKeys(body)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetMacKeys(ctx, keys.ClientKey, keys.WrappedKey); err != nil {
		return nil, err
	}
	return keys, nil
}

// requestBody builds the downloads request: one line per due list naming the
// chunk ranges already mirrored.
func (e *Engine) requestBody(ctx context.Context, due []string) ([]byte, error) {
	var b bytes.Buffer
	for _, list := range due {
		addNums, err := e.store.GetAddChunkNums(ctx, list)
		if err != nil {
			return nil, err
		}
		subNums, err := e.store.GetSubChunkNums(ctx, list)
		if err != nil {
			return nil, err
		}

		var parts []string
		if r := chunk.EncodeRanges(addNums); r != "" {
			parts = append(parts, "a:"+r)
		}
		if r := chunk.EncodeRanges(subNums); r != "" {
			parts = append(parts, "s:"+r)
		}
		if e.useMac {
			parts = append(parts, "mac")
		}

		b.WriteString(list)
		b.WriteByte(';')
		b.WriteString(strings.Join(parts, ":"))
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

// checkResponseMac validates the m: first line of a MACed downloads
// response and returns the body with that line removed.
func (e *Engine) checkResponseMac(resp []byte, keys *mac.Keys) ([]byte, error) {
	line, rest, ok := bytes.Cut(resp, []byte("\n"))
	digest, isMac := strings.CutPrefix(string(line), "m:")
	if !ok || !isMac {
		return nil, fmt.Errorf("%w: response carries no MAC", common.ErrorMacValidation)
	}
	if err := mac.Validate(rest, keys.ClientKey, digest); err != nil {
		return nil, err
	}
	return rest, nil
}

// errPleaseRekey aborts directive processing when the server demands fresh
// MAC keys.
var errPleaseRekey = errors.New("please rekey")

type parseOutcome struct {
	wait    time.Duration
	applied int
}

// applyDirectives walks the command stream in order: deletes are executed as
// they appear, redirects are collected and then fetched in stream order so
// chunks apply exactly as the server sequenced them.
func (e *Engine) applyDirectives(ctx context.Context, log logging.Logger, resp []byte, due []string) (*parseOutcome, error) {
	out := &parseOutcome{}
	var redirects []redirect
	current := ""

	for _, line := range strings.Split(string(resp), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: directive %q", common.ErrorInternal, line)
		}

		switch directive {
		case "n":
			secs, err := strconv.Atoi(value)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("%w: poll interval %q", common.ErrorInternal, value)
			}
			out.wait = time.Duration(secs) * time.Second

		case "i":
			current = value

		case "u":
			if current == "" {
				return nil, fmt.Errorf("%w: redirection before any i: directive", common.ErrorInternal)
			}
			u, digest, _ := strings.Cut(value, ",")
			redirects = append(redirects, redirect{list: current, url: u, digest: digest})

		case "ad":
			if current == "" {
				return nil, fmt.Errorf("%w: delete before any i: directive", common.ErrorInternal)
			}
			nums, err := chunk.ParseRanges(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
			}
			if err := e.store.DeleteAddChunks(ctx, current, nums); err != nil {
				return nil, err
			}
			if err := e.store.DeleteFullHashes(ctx, current, nums); err != nil {
				return nil, err
			}
			log.Debug(ctx, "deleted add chunks", "list", current, "range", value)
			out.applied += len(nums)

		case "sd":
			if current == "" {
				return nil, fmt.Errorf("%w: delete before any i: directive", common.ErrorInternal)
			}
			nums, err := chunk.ParseRanges(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
			}
			if err := e.store.DeleteSubChunks(ctx, current, nums); err != nil {
				return nil, err
			}
			log.Debug(ctx, "deleted sub chunks", "list", current, "range", value)
			out.applied += len(nums)

		case "e":
			if value == "pleaserekey" {
				return nil, errPleaseRekey
			}
			return nil, fmt.Errorf("%w: directive %q", common.ErrorInternal, line)

		case "r":
			if value != "pleasereset" {
				return nil, fmt.Errorf("%w: directive %q", common.ErrorInternal, line)
			}
			log.Warn(ctx, "server demanded list reset", "lists", due)
			for _, list := range due {
				if err := e.store.Reset(ctx, list); err != nil {
					return nil, err
				}
			}

		case "m":
			// With MAC on, checkResponseMac already validated and stripped the
			// leading m: line; without MAC the digest is not checked.

		default:
			return nil, fmt.Errorf("%w: directive %q", common.ErrorInternal, line)
		}
	}

	for _, r := range redirects {
		n, err := e.fetchRedirect(ctx, log, r)
		if err != nil {
			return nil, err
		}
		out.applied += n
	}
	return out, nil
}

// fetchRedirect downloads one chunk file, optionally validates its MAC, and
// applies every chunk in order. Each chunk is persisted atomically, so a
// mid-stream failure leaves earlier chunks in place for the next cycle.
func (e *Engine) fetchRedirect(ctx context.Context, log logging.Logger, r redirect) (int, error) {
	body, err := e.client.Redirect(ctx, r.url)
	if err != nil {
		return 0, err
	}

	if e.useMac && r.digest != "" {
		keys, err := e.store.GetMacKeys(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", common.ErrorMacKeys, err)
		}
		if err := mac.Validate(body, keys.ClientKey, r.digest); err != nil {
			return 0, err
		}
	}

	applied := 0
	reader := bufio.NewReader(bytes.NewReader(body))
	for {
		c, err := chunk.ReadChunk(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return applied, fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		if err := e.applyChunk(ctx, r.list, c); err != nil {
			return applied, err
		}
		log.Debug(ctx, "applied chunk", "list", r.list, "type", string(c.Type), "num", c.Num)
		applied++
	}
	return applied, nil
}

func (e *Engine) applyChunk(ctx context.Context, list string, c *chunk.Chunk) error {
	switch c.Type {
	case chunk.TypeAdd:
		entries, err := chunk.DecodeAdd(c.Body, c.HashLen)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		rows := make([]storage.AddChunk, 0, len(entries))
		for _, entry := range entries {
			rows = append(rows, storage.AddChunk{HostKey: entry.HostKey, Prefix: entry.Prefix})
		}
		return e.store.PutAddChunk(ctx, list, c.Num, rows)

	case chunk.TypeSub:
		entries, err := chunk.DecodeSub(c.Body, c.HashLen)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		rows := make([]storage.SubChunk, 0, len(entries))
		for _, entry := range entries {
			rows = append(rows, storage.SubChunk{
				HostKey:     entry.HostKey,
				AddChunkNum: entry.AddChunkNum,
				Prefix:      entry.Prefix,
			})
		}
		return e.store.PutSubChunk(ctx, list, c.Num, rows)
	}
	return fmt.Errorf("%w: chunk type %q", common.ErrorInternal, c.Type)
}

// failUpdate advances the error counter and backoff window of every due
// list, then surfaces the result.
func (e *Engine) failUpdate(ctx context.Context, due []string, now time.Time, result UpdateResult, cause error) (UpdateResult, error) {
	for _, list := range due {
		st, err := e.store.LastUpdate(ctx, list)
		if err != nil {
			return InternalError, err
		}
		n := st.Errors + 1
		if err := e.store.RecordUpdateError(ctx, list, now, backoff.UpdateWait(n), n); err != nil {
			return InternalError, err
		}
	}
	return result, cause
}
