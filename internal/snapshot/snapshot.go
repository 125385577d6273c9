// Package snapshot exports and imports the local mirror through an
// S3-compatible bucket, so a fresh client can seed its database instead of
// replaying the whole chunk history against the service.
//
// The snapshot is a gob stream of every add/sub row plus the per-list
// cursor. Full hashes and error counters are deliberately left out: they
// are short-lived and per-client.
package snapshot

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/safebrowse/internal/storage"
)

// S3Config locates the bucket and the credentials to reach it. BaseEndpoint
// is optional and covers MinIO-style deployments.
type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// Store reads and writes snapshots in one bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New wraps an existing S3 client.
func New(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Open builds an S3 client from cfg.
func Open(ctx context.Context, cfg S3Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
	})
	return New(client, cfg.Bucket), nil
}

type listSnapshot struct {
	Name       string
	Adds       []storage.AddChunk
	Subs       []storage.SubChunk
	LastUpdate time.Time
	Wait       time.Duration
}

type snapshot struct {
	Created time.Time
	Lists   []listSnapshot
}

// Export dumps the given lists from src and uploads the snapshot under key.
// The store must implement storage.Dumper.
func (s *Store) Export(ctx context.Context, src storage.Store, key string, lists []string) error {
	dumper, ok := src.(storage.Dumper)
	if !ok {
		return fmt.Errorf("store %T cannot be dumped", src)
	}

	snap := snapshot{Created: time.Now()}
	for _, list := range lists {
		adds, err := dumper.DumpAddChunks(ctx, list)
		if err != nil {
			return err
		}
		subs, err := dumper.DumpSubChunks(ctx, list)
		if err != nil {
			return err
		}
		st, err := src.LastUpdate(ctx, list)
		if err != nil {
			return err
		}
		snap.Lists = append(snap.Lists, listSnapshot{
			Name:       list,
			Adds:       adds,
			Subs:       subs,
			LastUpdate: st.LastUpdate,
			Wait:       st.Wait,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return nil
}

// Import downloads the snapshot under key and loads it into dst chunk by
// chunk, restoring each list's cursor afterwards.
func (s *Store) Import(ctx context.Context, dst storage.Store, key string) error {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer obj.Body.Close()

	return Load(ctx, dst, obj.Body)
}

// Load decodes a snapshot stream into dst.
func Load(ctx context.Context, dst storage.Store, r io.Reader) error {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	for _, list := range snap.Lists {
		for _, group := range groupAddChunks(list.Adds) {
			if err := dst.PutAddChunk(ctx, list.Name, group.num, group.rows); err != nil {
				return err
			}
		}
		for _, group := range groupSubChunks(list.Subs) {
			if err := dst.PutSubChunk(ctx, list.Name, group.num, group.rows); err != nil {
				return err
			}
		}
		if !list.LastUpdate.IsZero() {
			if err := dst.RecordUpdate(ctx, list.Name, list.LastUpdate, list.Wait); err != nil {
				return err
			}
		}
	}
	return nil
}

type addGroup struct {
	num  uint32
	rows []storage.AddChunk
}

// groupAddChunks splits a dump into per-chunk groups. Rows of one chunk are
// contiguous in dump order.
func groupAddChunks(rows []storage.AddChunk) []addGroup {
	var groups []addGroup
	for _, r := range rows {
		if n := len(groups); n > 0 && groups[n-1].num == r.ChunkNum {
			groups[n-1].rows = append(groups[n-1].rows, r)
			continue
		}
		groups = append(groups, addGroup{num: r.ChunkNum, rows: []storage.AddChunk{r}})
	}
	return groups
}

type subGroup struct {
	num  uint32
	rows []storage.SubChunk
}

func groupSubChunks(rows []storage.SubChunk) []subGroup {
	var groups []subGroup
	for _, r := range rows {
		if n := len(groups); n > 0 && groups[n-1].num == r.ChunkNum {
			groups[n-1].rows = append(groups[n-1].rows, r)
			continue
		}
		groups = append(groups, subGroup{num: r.ChunkNum, rows: []storage.SubChunk{r}})
	}
	return groups
}
