package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/telemetry"
	"github.com/Aleph-Alpha/mediaindex/pkg/logger"
	"github.com/Aleph-Alpha/mediaindex/pkg/rabbit"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	route   string
	body    []byte
	delay   time.Duration
	headers map[string]interface{}
}

type fakeBroker struct {
	mu        sync.Mutex
	published []published
	failNext  error
	msgs      chan rabbit.Message
}

func (b *fakeBroker) record(route string, body []byte, delay time.Duration, headers []map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	var h map[string]interface{}
	if len(headers) > 0 {
		h = headers[0]
	}
	b.published = append(b.published, published{route: route, body: body, delay: delay, headers: h})
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, msg []byte, headers ...map[string]interface{}) error {
	return b.record("work", msg, 0, headers)
}

func (b *fakeBroker) PublishDelayed(_ context.Context, msg []byte, delay time.Duration, headers ...map[string]interface{}) error {
	return b.record("delay", msg, delay, headers)
}

func (b *fakeBroker) PublishQuarantine(_ context.Context, msg []byte, headers ...map[string]interface{}) error {
	return b.record("quarantine", msg, 0, headers)
}

func (b *fakeBroker) Consume(ctx context.Context, wg *sync.WaitGroup) <-chan rabbit.Message {
	out := make(chan rabbit.Message)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-b.msgs:
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (b *fakeBroker) routes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	for i, p := range b.published {
		out[i] = p.route
	}
	return out
}

type fakeDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (d *fakeDeduper) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.keys[key] {
		return false, nil
	}
	d.keys[key] = true
	return true, nil
}

func (d *fakeDeduper) Delete(_ context.Context, keys ...string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		delete(d.keys, k)
	}
	return int64(len(keys)), nil
}

type fakeMessage struct {
	body    []byte
	acked   bool
	nacked  bool
	requeue bool
}

func (m *fakeMessage) AckMsg() error { m.acked = true; return nil }
func (m *fakeMessage) NackMsg(requeue bool) error {
	m.nacked, m.requeue = true, requeue
	return nil
}
func (m *fakeMessage) Body() []byte                   { return m.body }
func (m *fakeMessage) Header() map[string]interface{} { return nil }
func (m *fakeMessage) Redelivered() bool              { return false }

func testPayload(attempt int) media.Payload {
	mediaID := uuid.NewString()
	return media.Payload{
		Kind:           media.PayloadKind,
		JobID:          uuid.NewString(),
		MediaID:        mediaID,
		IdempotencyKey: media.IdempotencyKey(mediaID),
		Attempt:        attempt,
		EnqueuedAt:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestRabbit() (*Rabbit, *fakeBroker, *fakeDeduper) {
	b := &fakeBroker{msgs: make(chan rabbit.Message, 4)}
	d := &fakeDeduper{keys: map[string]bool{}}
	return newRabbit(b, d, Config{}, logger.NewNop(), telemetry.NewNop()), b, d
}

func TestRabbitEnqueueDedupes(t *testing.T) {
	q, b, _ := newTestRabbit()
	ctx := context.Background()
	p := testPayload(1)

	require.NoError(t, q.Enqueue(ctx, p, 0))
	require.NoError(t, q.Enqueue(ctx, p, 0))
	assert.Equal(t, []string{"delay"}, b.routes(), "second enqueue of the same attempt is dropped")

	p.Attempt = 2
	require.NoError(t, q.Enqueue(ctx, p, 4*time.Second))
	require.Len(t, b.published, 2)
	assert.Equal(t, 4*time.Second, b.published[1].delay)
}

func TestRabbitEnqueueForgetsKeyOnPublishFailure(t *testing.T) {
	q, b, d := newTestRabbit()
	ctx := context.Background()
	p := testPayload(1)

	b.failNext = errors.New("channel closed")
	err := q.Enqueue(ctx, p, 0)
	assert.ErrorIs(t, err, media.ErrTransientStore)
	assert.Empty(t, d.keys)

	require.NoError(t, q.Enqueue(ctx, p, 0))
	assert.Len(t, b.published, 1)
}

func TestRabbitEnqueueDedupeUnavailable(t *testing.T) {
	q, b, d := newTestRabbit()
	d.err = errors.New("redis down")

	err := q.Enqueue(context.Background(), testPayload(1), 0)
	assert.ErrorIs(t, err, media.ErrTransientStore)
	assert.Empty(t, b.published)
}

func TestRabbitRepublishBypassesDedupe(t *testing.T) {
	q, b, _ := newTestRabbit()
	ctx := context.Background()
	p := testPayload(1)

	require.NoError(t, q.Enqueue(ctx, p, 0))
	require.NoError(t, q.Republish(ctx, p))
	assert.Equal(t, []string{"delay", "work"}, b.routes())
}

func TestRabbitDeliveries(t *testing.T) {
	q, b, _ := newTestRabbit()
	ctx, cancel := context.WithCancel(context.Background())

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	p := testPayload(1)
	body, err := p.Encode()
	require.NoError(t, err)

	t.Run("Valid", func(t *testing.T) {
		msg := &fakeMessage{body: body}
		b.msgs <- msg
		d := <-deliveries
		require.NoError(t, d.Err())
		assert.Equal(t, p.JobID, d.Payload().JobID)
		require.NoError(t, d.Ack(ctx))
		assert.True(t, msg.acked)
	})

	t.Run("Retry", func(t *testing.T) {
		msg := &fakeMessage{body: body}
		b.msgs <- msg
		d := <-deliveries
		require.NoError(t, d.Retry(ctx))
		assert.True(t, msg.acked)
		assert.Contains(t, b.routes(), "delay")
	})

	t.Run("MalformedIsQuarantined", func(t *testing.T) {
		msg := &fakeMessage{body: []byte(`{"kind":"bogus"}`)}
		b.msgs <- msg
		d := <-deliveries
		assert.ErrorIs(t, d.Err(), media.ErrMalformedPayload)
		require.NoError(t, d.Quarantine(ctx, d.Err().Error()))
		assert.True(t, msg.acked)

		last := b.published[len(b.published)-1]
		assert.Equal(t, "quarantine", last.route)
		assert.Contains(t, last.headers[quarantineReasonHeader], "malformed")
	})

	t.Run("QuarantineFallsBackToDeadLetter", func(t *testing.T) {
		msg := &fakeMessage{body: body}
		b.msgs <- msg
		d := <-deliveries
		b.mu.Lock()
		b.failNext = errors.New("publish failed")
		b.mu.Unlock()
		require.NoError(t, d.Quarantine(ctx, "bad"))
		assert.True(t, msg.nacked)
		assert.False(t, msg.requeue)
	})

	cancel()
	for range deliveries {
	}
	require.NoError(t, q.Close())
}
