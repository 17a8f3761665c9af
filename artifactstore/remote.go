// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package artifactstore // import "go.opentelemetry.io/gpu-memtrace/artifactstore"

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/sha256-simd"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/gpu-memtrace/metrics"
)

const (
	// remoteSuffix is appended to object keys of compressed artifacts.
	remoteSuffix = ".zst"
	// DefaultKeyPrefix is prepended to all object keys.
	DefaultKeyPrefix = "memtrace/"
)

// Remote is an object storage sessions are uploaded to.
type Remote interface {
	// Exists returns true if an object with the key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Put stores body under key.
	Put(ctx context.Context, key string, body []byte) error
}

// S3Remote stores objects in an S3 bucket.
type S3Remote struct {
	client *s3.Client
	bucket string
}

// NewS3Remote creates a Remote for bucket using the default AWS credential chain. An empty
// region uses the region of the environment.
func NewS3Remote(ctx context.Context, bucket, region string) (*S3Remote, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &S3Remote{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Exists implements Remote.
func (r *S3Remote) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isErrNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query object existence: %w", err)
	}
	return true, nil
}

// Put implements Remote.
func (r *S3Remote) Put(ctx context.Context, key string, body []byte) error {
	sum := sha256.Sum256(body)
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(r.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(body),
		ContentType:        aws.String("application/zstd"),
		ContentDisposition: aws.String("attachment"),
		ChecksumSHA256:     aws.String(base64.StdEncoding.EncodeToString(sum[:])),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// isErrNoSuchKey checks whether the given AWS error indicates that the given key does not exist.
// HeadObject reports missing keys as NotFound, NoSuchKey is checked as well in case this
// changes.
func isErrNoSuchKey(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// ObjectKey returns the key an artifact is uploaded to.
func (s *Store) ObjectKey(prefix string, e *Entry) string {
	return path.Join(prefix, s.Session().String(), filepath.ToSlash(e.Path)) + remoteSuffix
}

// Upload compresses and uploads the manifest and all artifacts of the session that are not
// present remotely yet. At most parallelism uploads run at the same time. It returns the
// number of uploaded artifacts.
func (s *Store) Upload(ctx context.Context, remote Remote, prefix string,
	parallelism int) (int, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return 0, err
	}
	defer enc.Close()

	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallelism, 1))
	for _, e := range s.Entries() {
		g.Go(func() error {
			key := s.ObjectKey(prefix, &e)
			present, err := remote.Exists(gctx, key)
			if err != nil {
				return err
			}
			if present {
				log.Debugf("Skipping %s, already present", key)
				return nil
			}
			data, err := os.ReadFile(s.Path(&e))
			if err != nil {
				return err
			}
			if id, _ := CalculateID(bytes.NewReader(data)); id != e.ID {
				return fmt.Errorf("%s: content hash %s does not match %s", e.Path, id, e.ID)
			}
			if err = remote.Put(gctx, key, enc.EncodeAll(data, nil)); err != nil {
				return err
			}
			uploaded.Add(1)
			metrics.Add(metrics.IDArtifactsUploaded, 1)
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return int(uploaded.Load()), err
	}

	manifest, err := os.ReadFile(filepath.Join(s.dir, ManifestName))
	if err != nil {
		return int(uploaded.Load()), fmt.Errorf("session has no manifest: %w", err)
	}
	key := path.Join(prefix, s.Session().String(), ManifestName) + remoteSuffix
	if err = remote.Put(ctx, key, enc.EncodeAll(manifest, nil)); err != nil {
		return int(uploaded.Load()), err
	}
	return int(uploaded.Load()), nil
}

// Decompress restores an uploaded object.
func Decompress(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
