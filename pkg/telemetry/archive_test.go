package telemetry

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	fails   []error
	calls   int
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.fails) > 0 {
		err := f.fails[0]
		f.fails = f.fails[1:]
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newArchiver(putter *fakePutter, batch int) *S3Archiver {
	a := NewS3ArchiverWithClient(putter, ArchiveConfig{Bucket: "events", Prefix: "provisioner", BatchSize: batch},
		zerolog.Nop(), engine.WithSleeper(noSleep))
	a.now = func() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC) }
	return a
}

func TestS3Archiver_FlushWritesJSONLines(t *testing.T) {
	putter := &fakePutter{}
	a := newArchiver(putter, 10)

	a.Add(engine.Event{ID: "1", Kind: engine.EventProvisioningStarted})
	a.Add(engine.Event{ID: "2", Kind: engine.EventProvisioningCompleted})
	assert.Equal(t, 2, a.Pending())

	key, err := a.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "provisioner/2026/05/04/20260504T103000Z-"))
	assert.True(t, strings.HasSuffix(key, ".jsonl"))
	assert.Equal(t, 0, a.Pending())

	lines := bytes.Split(bytes.TrimSpace(putter.objects[key]), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestS3Archiver_UploadsFullBatch(t *testing.T) {
	putter := &fakePutter{}
	a := newArchiver(putter, 2)

	a.Add(engine.Event{ID: "1"})
	assert.Equal(t, 0, putter.calls)
	a.Add(engine.Event{ID: "2"})
	assert.Equal(t, 1, putter.calls)
	assert.Equal(t, 0, a.Pending())
}

func TestS3Archiver_FlushEmpty(t *testing.T) {
	putter := &fakePutter{}
	key, err := newArchiver(putter, 2).Flush(context.Background())
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Equal(t, 0, putter.calls)
}

func TestS3Archiver_RetriesThrottling(t *testing.T) {
	putter := &fakePutter{fails: []error{
		&smithy.GenericAPIError{Code: "SlowDown", Message: "reduce request rate"},
	}}
	a := newArchiver(putter, 10)
	a.Add(engine.Event{ID: "1"})

	_, err := a.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, putter.calls)
}

func TestS3Archiver_AccessDeniedIsFatal(t *testing.T) {
	putter := &fakePutter{fails: []error{
		&smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"},
	}}
	a := newArchiver(putter, 10)
	a.Add(engine.Event{ID: "1"})

	_, err := a.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsAuthorization(err))
	assert.Equal(t, 1, putter.calls)
}
