package payout

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

// Sink receives the final payout table of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, runID string, table domain.PayoutTable) error
}

// FileSink writes payouts-<runID>.<ext> into a directory.
type FileSink struct {
	dir    string
	format Format
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a file sink.
func NewFileSink(dir string, format Format) *FileSink {
	return &FileSink{dir: dir, format: format}
}

// Name returns "file".
func (s *FileSink) Name() string { return "file" }

// Path returns the output path for runID.
func (s *FileSink) Path(runID string) string {
	return filepath.Join(s.dir, "payouts-"+runID+s.format.Ext())
}

// Write encodes table to a temporary file and renames it into place.
func (s *FileSink) Write(_ context.Context, runID string, table domain.PayoutTable) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, s.format, runID, table); err != nil {
		return err
	}

	path := s.Path(runID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// StoreSink persists payouts into a PayoutStore.
type StoreSink struct {
	store storage.PayoutStore
}

var _ Sink = (*StoreSink)(nil)

// NewStoreSink creates a store sink.
func NewStoreSink(store storage.PayoutStore) *StoreSink {
	return &StoreSink{store: store}
}

// Name returns "store".
func (s *StoreSink) Name() string { return "store" }

// Write inserts table for runID.
func (s *StoreSink) Write(ctx context.Context, runID string, table domain.PayoutTable) error {
	return s.store.InsertTable(ctx, runID, table)
}

// ObjectPutter is the subset of the S3 API used by S3Sink.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads payouts to <prefix>/payouts-<runID>.<ext> in a bucket.
type S3Sink struct {
	client ObjectPutter
	bucket string
	prefix string
	format Format
}

var _ Sink = (*S3Sink)(nil)

// NewS3Sink creates an S3 sink on client.
func NewS3Sink(client ObjectPutter, bucket, prefix string, format Format) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix, format: format}
}

// NewS3Client loads the default AWS configuration for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Name returns "s3".
func (s *S3Sink) Name() string { return "s3" }

// Key returns the object key for runID.
func (s *S3Sink) Key(runID string) string {
	name := "payouts-" + runID + s.format.Ext()
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Write uploads the encoded table.
func (s *S3Sink) Write(ctx context.Context, runID string, table domain.PayoutTable) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s.format, runID, table); err != nil {
		return err
	}

	contentType := "application/json"
	if s.format == FormatCSV {
		contentType = "text/csv"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(runID)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, s.Key(runID), err)
	}
	return nil
}

// WriteAll writes table to every sink in order and stops at the first error.
func WriteAll(ctx context.Context, logger *slog.Logger, runID string, table domain.PayoutTable, sinks ...Sink) error {
	for _, sink := range sinks {
		start := time.Now()
		if err := sink.Write(ctx, runID, table); err != nil {
			return fmt.Errorf("payout sink %s: %w", sink.Name(), err)
		}
		logger.Info("wrote payouts", "sink", sink.Name(), "run_id", runID, "duration", time.Since(start))
	}
	return nil
}
