// Package archive writes compressed snapshots of artifacts that age out of
// the live store. Snapshots are zstd-compressed JSON, written to a local
// directory and optionally mirrored to an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/strataworks/strata/internal/store"
)

// Archiver persists artifact snapshots outside the live database.
type Archiver interface {
	Archive(ctx context.Context, a *store.Artifact) (location string, compressedBytes int64, err error)
}

// snapshot is the serialized form of an archived artifact.
type snapshot struct {
	ID                string   `json:"id"`
	AnalysisType      string   `json:"analysis_type"`
	ProjectID         string   `json:"project_id"`
	ScopePath         string   `json:"scope_path"`
	FullScope         string   `json:"full_scope"`
	ScopeLevel        string   `json:"scope_level"`
	ResultData        string   `json:"result_data"`
	ContentHash       string   `json:"content_hash"`
	SourceFiles       []string `json:"source_files,omitempty"`
	AnalysisTimestamp int64    `json:"analysis_timestamp"`
}

func encodeSnapshot(a *store.Artifact) ([]byte, error) {
	raw, err := json.Marshal(snapshot{
		ID:                a.ID,
		AnalysisType:      a.AnalysisType,
		ProjectID:         a.ProjectID,
		ScopePath:         a.ScopePath,
		FullScope:         a.FullScope,
		ScopeLevel:        a.ScopeLevel,
		ResultData:        a.ResultData,
		ContentHash:       a.ContentHash,
		SourceFiles:       a.SourceFiles,
		AnalysisTimestamp: a.AnalysisTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %s: %w", a.ID, err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, fmt.Errorf("compress snapshot %s: %w", a.ID, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flush snapshot %s: %w", a.ID, err)
	}
	return buf.Bytes(), nil
}

func snapshotKey(a *store.Artifact) string {
	return filepath.Join(a.ProjectID, a.ScopePath, a.ID+".json.zst")
}

// Dir archives snapshots into a local directory tree.
type Dir struct {
	Root string
}

// NewDir creates a directory archiver rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

// Archive writes the compressed snapshot under root/project/scope/id.
func (d *Dir) Archive(_ context.Context, a *store.Artifact) (string, int64, error) {
	data, err := encodeSnapshot(a)
	if err != nil {
		return "", 0, err
	}

	path := filepath.Join(d.Root, snapshotKey(a))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", 0, fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", 0, fmt.Errorf("write snapshot %s: %w", a.ID, err)
	}
	return path, int64(len(data)), nil
}

// Restore reads a snapshot back from the given location.
func (d *Dir) Restore(location string) (*store.Artifact, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer r.Close()

	var s snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &store.Artifact{
		ID:                s.ID,
		AnalysisType:      s.AnalysisType,
		ProjectID:         s.ProjectID,
		ScopePath:         s.ScopePath,
		FullScope:         s.FullScope,
		ScopeLevel:        s.ScopeLevel,
		ResultData:        s.ResultData,
		ContentHash:       s.ContentHash,
		SourceFiles:       s.SourceFiles,
		AnalysisTimestamp: s.AnalysisTimestamp,
	}, nil
}

// Bucket archives snapshots into an S3-compatible bucket.
type Bucket struct {
	client *minio.Client
	bucket string
}

// NewBucket connects to an S3-compatible endpoint and ensures the bucket
// exists.
func NewBucket(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Bucket, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Bucket{client: cli, bucket: bucket}, nil
}

// Archive uploads the compressed snapshot and returns its object location.
func (b *Bucket) Archive(ctx context.Context, a *store.Artifact) (string, int64, error) {
	data, err := encodeSnapshot(a)
	if err != nil {
		return "", 0, err
	}

	key := snapshotKey(a)
	_, err = b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/zstd"})
	if err != nil {
		return "", 0, fmt.Errorf("upload snapshot %s: %w", a.ID, err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), int64(len(data)), nil
}
