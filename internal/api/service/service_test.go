package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/inference-queue/shared/job"
	"github.com/cuongbtq/inference-queue/shared/rabbitmq"
	"github.com/cuongbtq/inference-queue/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []*job.Envelope
	keys      []string
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, env *job.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, env)
	f.keys = append(f.keys, routingKey)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return redis.NewFromClient(rdb, time.Hour, testLogger()), mr
}

func TestProducer_Submit(t *testing.T) {
	store, mr := newTestStore(t)
	pub := &fakePublisher{}
	producer := NewProducer(pub, store, "pgdb", testLogger())

	sub, err := producer.Submit(context.Background(), []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	assert.Equal(t, job.StatusProcessing, sub.Status)
	assert.Len(t, sub.RequestID, 36)

	// placeholder is written before the job is published
	value, err := mr.Get(sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, job.PlaceholderValue, value)
	assert.Equal(t, time.Hour, mr.TTL(sub.RequestID))

	require.Len(t, pub.published, 1)
	env := pub.published[0]
	assert.Equal(t, "pgdb", pub.keys[0])
	assert.Equal(t, sub.RequestID, env.CorrelationID)
	assert.Equal(t, []byte("png-bytes"), env.Payload)
	assert.Equal(t, "image/png", env.ContentType)
	assert.Equal(t, 0, env.RetryCount)
	assert.Equal(t, job.Persistent, env.DeliveryMode)
}

func TestProducer_SubmitPublishFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "nack", err: errors.New("message delivery failed: nacked")},
		{name: "delivery error", err: rabbitmq.ErrDelivery},
		{name: "not connected", err: rabbitmq.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mr := newTestStore(t)
			producer := NewProducer(&fakePublisher{err: tt.err}, store, "pgdb", testLogger())

			var minted string
			producer.newID = func() string {
				minted = "11111111-1111-4111-8111-111111111111"
				return minted
			}

			sub, err := producer.Submit(context.Background(), []byte("x"), "image/jpeg")
			require.Error(t, err)
			assert.Nil(t, sub)
			assert.ErrorIs(t, err, ErrDelivery)

			// no record survives a failed publish
			assert.False(t, mr.Exists(minted))
		})
	}
}

func TestProducer_SubmitIDCollision(t *testing.T) {
	store, mr := newTestStore(t)
	pub := &fakePublisher{}
	producer := NewProducer(pub, store, "pgdb", testLogger())

	require.NoError(t, mr.Set("taken", "Normal"))

	ids := []string{"taken", "taken", "fresh"}
	producer.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	sub, err := producer.Submit(context.Background(), []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "fresh", sub.RequestID)

	// the existing record is untouched
	value, err := mr.Get("taken")
	require.NoError(t, err)
	assert.Equal(t, "Normal", value)

	t.Run("exhausted", func(t *testing.T) {
		producer.newID = func() string { return "taken" }

		_, err := producer.Submit(context.Background(), []byte("x"), "image/png")
		assert.ErrorIs(t, err, ErrIDExhausted)
		assert.Len(t, pub.published, 1)
	})
}

func TestProducer_SubmitStoreDown(t *testing.T) {
	store, mr := newTestStore(t)
	pub := &fakePublisher{}
	producer := NewProducer(pub, store, "pgdb", testLogger())

	mr.Close()

	_, err := producer.Submit(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDelivery)
	assert.Empty(t, pub.published)
}

func TestProducer_ConcurrentSubmissions(t *testing.T) {
	store, _ := newTestStore(t)
	pub := &fakePublisher{}
	producer := NewProducer(pub, store, "pgdb", testLogger())

	const n = 50
	ids := make([]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := producer.Submit(context.Background(), []byte{byte(i)}, "image/png")
			if assert.NoError(t, err) {
				ids[i] = sub.RequestID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Len(t, pub.published, n)
}

func TestResolver_Resolve(t *testing.T) {
	store, mr := newTestStore(t)
	resolver := NewResolver(store)

	require.NoError(t, mr.Set("processing", job.PlaceholderValue))
	require.NoError(t, mr.Set("completed", "Tuberculosis"))
	require.NoError(t, mr.Set("failed", job.FailedValue))

	tests := []struct {
		name       string
		id         string
		wantStatus job.Status
		wantLabel  string
		wantErr    error
	}{
		{name: "placeholder", id: "processing", wantStatus: job.StatusProcessing},
		{name: "label", id: "completed", wantStatus: job.StatusCompleted, wantLabel: "Tuberculosis"},
		{name: "failed", id: "failed", wantStatus: job.StatusFailed},
		{name: "unknown", id: "never-submitted", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := resolver.Resolve(context.Background(), tt.id)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantLabel, result.Label)
		})
	}
}

type missThenExists struct{}

func (missThenExists) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (missThenExists) Exists(context.Context, string) (bool, error)      { return true, nil }

func TestResolver_ResolveRecordAppearsBetweenReads(t *testing.T) {
	result, err := NewResolver(missThenExists{}).Resolve(context.Background(), "id")
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, result.Status)
}

func TestResolver_ResolveStoreError(t *testing.T) {
	store, mr := newTestStore(t)
	resolver := NewResolver(store)

	mr.Close()

	_, err := resolver.Resolve(context.Background(), "any")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSubmitThenResolve(t *testing.T) {
	store, _ := newTestStore(t)
	producer := NewProducer(&fakePublisher{}, store, "pgdb", testLogger())
	resolver := NewResolver(store)
	ctx := context.Background()

	sub, err := producer.Submit(ctx, []byte("chest-xray"), "image/png")
	require.NoError(t, err)

	result, err := resolver.Resolve(ctx, sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, result.Status)

	written, err := store.SetIfOpen(ctx, sub.RequestID, "Normal")
	require.NoError(t, err)
	require.True(t, written)

	result, err = resolver.Resolve(ctx, sub.RequestID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, result.Status)
	assert.Equal(t, "Normal", result.Label)

	_, err = resolver.Resolve(ctx, "00000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}
