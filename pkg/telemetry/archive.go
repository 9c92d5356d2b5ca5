package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/rs/zerolog"
)

// ObjectPutter is the subset of the S3 client used by the archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveConfig configures the S3 event archive.
type ArchiveConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string

	// BatchSize is the number of events per uploaded object.
	BatchSize int

	// Kinds limits archival to these event kinds. Empty archives every event.
	Kinds []engine.EventKind
}

// S3Archiver batches events into JSON-lines objects in an S3 bucket. It is
// registered on the EventStore as a subscriber.
type S3Archiver struct {
	client    ObjectPutter
	bucket    string
	prefix    string
	batchSize int

	retry  *engine.RetryExecutor
	policy engine.RetryPolicy
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending []engine.Event
}

// NewS3Archiver creates an archiver with an S3 client built from cfg. Static
// credentials are used when both keys are set; otherwise the default AWS
// credential chain applies.
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig, logger zerolog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3ArchiverWithClient(client, cfg, logger), nil
}

// NewS3ArchiverWithClient creates an archiver over an existing client.
func NewS3ArchiverWithClient(client ObjectPutter, cfg ArchiveConfig, logger zerolog.Logger, opts ...engine.RetryOption) *S3Archiver {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	logger = logger.With().Str("component", "archive").Str("bucket", cfg.Bucket).Logger()

	opts = append([]engine.RetryOption{engine.WithRetryLogger(logger)}, opts...)
	return &S3Archiver{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		batchSize: batch,
		retry:     engine.NewRetryExecutor(opts...),
		policy:    engine.DefaultRetryPolicy("archive-events"),
		logger:    logger,
		now:       time.Now,
	}
}

// Subscriber returns the EventSubscriber to register on an EventStore.
func (a *S3Archiver) Subscriber() EventSubscriber {
	return a.Add
}

// Add buffers an event and uploads a batch when it is full.
func (a *S3Archiver) Add(event engine.Event) {
	a.mu.Lock()
	a.pending = append(a.pending, event)
	if len(a.pending) < a.batchSize {
		a.mu.Unlock()
		return
	}
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := a.upload(ctx, batch); err != nil {
		a.logger.Warn().Err(err).Int("events", len(batch)).Msg("Failed to archive events")
	}
}

// Flush uploads any buffered events. It returns the object key written, or
// "" when nothing was pending.
func (a *S3Archiver) Flush(ctx context.Context) (string, error) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return "", nil
	}
	return a.upload(ctx, batch)
}

// Pending returns the number of buffered events.
func (a *S3Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *S3Archiver) upload(ctx context.Context, batch []engine.Event) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range batch {
		if err := enc.Encode(event); err != nil {
			return "", fmt.Errorf("failed to encode event %s: %w", event.ID, err)
		}
	}

	now := a.now().UTC()
	key := path.Join(a.prefix, now.Format("2006/01/02"), fmt.Sprintf("%s-%s.jsonl", now.Format("20060102T150405Z"), uuid.New().String()))
	data := buf.Bytes()

	err := a.retry.Do(ctx, a.policy, func(ctx context.Context) error {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/x-ndjson"),
		})
		return err
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			a.logger.Warn().Str("code", apiErr.ErrorCode()).Str("key", key).Msg("S3 rejected event archive")
		}
		return "", fmt.Errorf("failed to put object %s in bucket %s: %w", key, a.bucket, err)
	}

	a.logger.Debug().Str("key", key).Int("events", len(batch)).Msg("Archived events")
	return key, nil
}
