// Package postgres implements storage.Store over PostgreSQL, for
// deployments that share one mirror between several hosts. The schema is
// managed by embedded goose migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/safebrowse/internal/common"
	"github.com/dmitrijs2005/safebrowse/internal/dbx"
	"github.com/dmitrijs2005/safebrowse/internal/storage"
	"github.com/dmitrijs2005/safebrowse/internal/storage/postgres/migrations"
)

// Store is a PostgreSQL-backed mirror.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)
var _ storage.Dumper = (*Store)(nil)

// Open connects to dsn (a pgx DSN) and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open handle. The caller keeps ownership of db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (s *Store) GetAddChunks(ctx context.Context, hostKey []byte) ([]storage.AddChunk, error) {
	query := `SELECT list, chunknum, hostkey, prefix FROM add_chunks WHERE hostkey = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, hostKey)
	if err != nil {
		return nil, fmt.Errorf("failed to select add chunks: %w", err)
	}
	defer rows.Close()

	var result []storage.AddChunk
	for rows.Next() {
		var a storage.AddChunk
		if err := rows.Scan(&a.List, &a.ChunkNum, &a.HostKey, &a.Prefix); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) GetSubChunks(ctx context.Context, hostKey []byte) ([]storage.SubChunk, error) {
	query := `SELECT list, chunknum, add_chunknum, hostkey, prefix FROM sub_chunks WHERE hostkey = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, hostKey)
	if err != nil {
		return nil, fmt.Errorf("failed to select sub chunks: %w", err)
	}
	defer rows.Close()

	var result []storage.SubChunk
	for rows.Next() {
		var sc storage.SubChunk
		if err := rows.Scan(&sc.List, &sc.ChunkNum, &sc.AddChunkNum, &sc.HostKey, &sc.Prefix); err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

func (s *Store) chunkNums(ctx context.Context, table, list string) ([]uint32, error) {
	query := `SELECT DISTINCT chunknum FROM ` + table + ` WHERE list = $1 ORDER BY chunknum`
	rows, err := s.db.QueryContext(ctx, query, list)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunk numbers: %w", err)
	}
	defer rows.Close()

	var nums []uint32
	for rows.Next() {
		var n uint32
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

func (s *Store) GetAddChunkNums(ctx context.Context, list string) ([]uint32, error) {
	return s.chunkNums(ctx, "add_chunks", list)
}

func (s *Store) GetSubChunkNums(ctx context.Context, list string) ([]uint32, error) {
	return s.chunkNums(ctx, "sub_chunks", list)
}

func (s *Store) PutAddChunk(ctx context.Context, list string, chunkNum uint32, chunkRows []storage.AddChunk) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, r := range chunkRows {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO add_chunks (list, chunknum, hostkey, prefix) VALUES ($1, $2, $3, $4)`,
				list, chunkNum, emptyNotNil(r.HostKey), emptyNotNil(r.Prefix))
			if err != nil {
				return fmt.Errorf("failed to insert add chunk %d: %w", chunkNum, err)
			}
		}
		return nil
	})
}

func (s *Store) PutSubChunk(ctx context.Context, list string, chunkNum uint32, chunkRows []storage.SubChunk) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, r := range chunkRows {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO sub_chunks (list, chunknum, add_chunknum, hostkey, prefix) VALUES ($1, $2, $3, $4, $5)`,
				list, chunkNum, r.AddChunkNum, emptyNotNil(r.HostKey), emptyNotNil(r.Prefix))
			if err != nil {
				return fmt.Errorf("failed to insert sub chunk %d: %w", chunkNum, err)
			}
		}
		return nil
	})
}

func emptyNotNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (s *Store) deleteChunks(ctx context.Context, table, list string, nums []uint32) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, n := range nums {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE list = $1 AND chunknum = $2`, list, n); err != nil {
				return fmt.Errorf("failed to delete chunk %d: %w", n, err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteAddChunks(ctx context.Context, list string, nums []uint32) error {
	return s.deleteChunks(ctx, "add_chunks", list, nums)
}

func (s *Store) DeleteSubChunks(ctx context.Context, list string, nums []uint32) error {
	return s.deleteChunks(ctx, "sub_chunks", list, nums)
}

func (s *Store) GetFullHashes(ctx context.Context, list string, chunkNum uint32, since time.Time) ([][]byte, error) {
	query := `SELECT hash FROM full_hashes WHERE list = $1 AND chunknum = $2 AND timestamp >= $3`
	rows, err := s.db.QueryContext(ctx, query, list, chunkNum, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to select full hashes: %w", err)
	}
	defer rows.Close()

	var hashes [][]byte
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (s *Store) PutFullHashes(ctx context.Context, hashes []storage.FullHash, ts time.Time) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, h := range hashes {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO full_hashes (chunknum, hash, list, timestamp) VALUES ($1, $2, $3, $4)
				ON CONFLICT (chunknum, hash, list) DO UPDATE SET timestamp = excluded.timestamp`,
				h.ChunkNum, h.Hash, h.List, ts.Unix())
			if err != nil {
				return fmt.Errorf("failed to upsert full hash: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteFullHashes(ctx context.Context, list string, nums []uint32) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, n := range nums {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM full_hashes WHERE list = $1 AND chunknum = $2`, list, n); err != nil {
				return fmt.Errorf("failed to delete full hashes of chunk %d: %w", n, err)
			}
		}
		return nil
	})
}

func (s *Store) LastUpdate(ctx context.Context, list string) (storage.ListStatus, error) {
	var lastUpdate, waitSeconds int64
	var errCount int
	err := s.db.QueryRowContext(ctx,
		`SELECT last_update, wait_seconds, errors FROM list_status WHERE list = $1`, list).
		Scan(&lastUpdate, &waitSeconds, &errCount)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DefaultStatus(), nil
	}
	if err != nil {
		return storage.ListStatus{}, fmt.Errorf("failed to select list status: %w", err)
	}
	st := storage.ListStatus{
		Wait:   time.Duration(waitSeconds) * time.Second,
		Errors: errCount,
	}
	if lastUpdate > 0 {
		st.LastUpdate = time.Unix(lastUpdate, 0)
	}
	return st, nil
}

func (s *Store) setStatus(ctx context.Context, list string, now time.Time, wait time.Duration, errCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO list_status (list, last_update, wait_seconds, errors) VALUES ($1, $2, $3, $4)
		ON CONFLICT (list) DO UPDATE SET
			last_update = excluded.last_update,
			wait_seconds = excluded.wait_seconds,
			errors = excluded.errors`,
		list, now.Unix(), int64(wait/time.Second), errCount)
	if err != nil {
		return fmt.Errorf("failed to record list status: %w", err)
	}
	return nil
}

func (s *Store) RecordUpdate(ctx context.Context, list string, now time.Time, wait time.Duration) error {
	return s.setStatus(ctx, list, now, wait, 0)
}

func (s *Store) RecordUpdateError(ctx context.Context, list string, now time.Time, wait time.Duration, errCount int) error {
	return s.setStatus(ctx, list, now, wait, errCount)
}

func (s *Store) GetFullHashError(ctx context.Context, prefix []byte) (*storage.PrefixError, error) {
	var errCount int
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT errors, timestamp FROM full_hash_errors WHERE prefix = $1`, prefix).
		Scan(&errCount, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select full hash error: %w", err)
	}
	return &storage.PrefixError{Timestamp: time.Unix(ts, 0), Errors: errCount}, nil
}

func (s *Store) FullHashError(ctx context.Context, prefix []byte, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO full_hash_errors (prefix, errors, timestamp) VALUES ($1, 1, $2)
		ON CONFLICT (prefix) DO UPDATE SET
			errors = full_hash_errors.errors + 1,
			timestamp = excluded.timestamp`,
		prefix, ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to record full hash error: %w", err)
	}
	return nil
}

func (s *Store) FullHashOk(ctx context.Context, prefix []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM full_hash_errors WHERE prefix = $1`, prefix); err != nil {
		return fmt.Errorf("failed to clear full hash error: %w", err)
	}
	return nil
}

func (s *Store) GetMacKeys(ctx context.Context) (*storage.MacKeys, error) {
	keys := &storage.MacKeys{}
	err := s.db.QueryRowContext(ctx,
		`SELECT client_key, wrapped_key FROM mac_keys WHERE id = 1`).
		Scan(&keys.ClientKey, &keys.WrappedKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select mac keys: %w", err)
	}
	return keys, nil
}

func (s *Store) SetMacKeys(ctx context.Context, clientKey []byte, wrappedKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mac_keys (id, client_key, wrapped_key) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			client_key = excluded.client_key,
			wrapped_key = excluded.wrapped_key`,
		clientKey, wrappedKey)
	if err != nil {
		return fmt.Errorf("failed to store mac keys: %w", err)
	}
	return nil
}

func (s *Store) ClearMacKeys(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mac_keys`); err != nil {
		return fmt.Errorf("failed to clear mac keys: %w", err)
	}
	return nil
}

func (s *Store) Reset(ctx context.Context, list string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, table := range []string{"add_chunks", "sub_chunks", "full_hashes"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE list = $1`, list); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// Close evicts stale full hashes and closes the handle.
func (s *Store) Close(ctx context.Context) error {
	cutoff := time.Now().Add(-common.FullHashFreshness)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM full_hashes WHERE timestamp < $1`, cutoff.Unix()); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("failed to evict stale full hashes: %w", err)
	}
	return s.db.Close()
}

func (s *Store) DumpAddChunks(ctx context.Context, list string) ([]storage.AddChunk, error) {
	query := `SELECT list, chunknum, hostkey, prefix FROM add_chunks WHERE list = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, list)
	if err != nil {
		return nil, fmt.Errorf("failed to dump add chunks: %w", err)
	}
	defer rows.Close()

	var result []storage.AddChunk
	for rows.Next() {
		var a storage.AddChunk
		if err := rows.Scan(&a.List, &a.ChunkNum, &a.HostKey, &a.Prefix); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) DumpSubChunks(ctx context.Context, list string) ([]storage.SubChunk, error) {
	query := `SELECT list, chunknum, add_chunknum, hostkey, prefix FROM sub_chunks WHERE list = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, list)
	if err != nil {
		return nil, fmt.Errorf("failed to dump sub chunks: %w", err)
	}
	defer rows.Close()

	var result []storage.SubChunk
	for rows.Next() {
		var sc storage.SubChunk
		if err := rows.Scan(&sc.List, &sc.ChunkNum, &sc.AddChunkNum, &sc.HostKey, &sc.Prefix); err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}
