package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/interfaces"
)

func TestSubscribeRejectsNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	err := svc.Subscribe(interfaces.EventCommentReceived, nil)
	assert.Error(t, err)
}

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var count atomic.Int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		count.Add(1)
		return nil
	}

	require.NoError(t, svc.Subscribe(interfaces.EventPipelineTransition, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventPipelineTransition, handler))

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventPipelineTransition,
		Payload: "payload",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), count.Load())
}

func TestPublishSyncCollectsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	require.NoError(t, svc.Subscribe(interfaces.EventCommentFailed, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("handler broke")
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventCommentFailed, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventCommentFailed})
	assert.Error(t, err)
}

func TestPublishAsyncDoesNotBlockOnSlowHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	done := make(chan struct{})
	require.NoError(t, svc.Subscribe(interfaces.EventReplySent, func(ctx context.Context, event interfaces.Event) error {
		time.Sleep(200 * time.Millisecond)
		close(done)
		return nil
	}))

	start := time.Now()
	err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventReplySent})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Publish must return before handlers finish")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestPublishDeliversPayload(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var mu sync.Mutex
	var got interface{}
	ran := make(chan struct{})
	require.NoError(t, svc.Subscribe(interfaces.EventMediaAnalyzed, func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		got = event.Payload
		mu.Unlock()
		close(ran)
		return nil
	}))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventMediaAnalyzed,
		Payload: map[string]string{"media_id": "m1"},
	}))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]string{"media_id": "m1"}, got)
}

func TestPublishWithNoSubscribersIsNoOp(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventCommentReceived}))
	assert.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventCommentReceived}))
}

func TestPanickingHandlerDoesNotCrashPublish(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	ran := make(chan struct{})
	require.NoError(t, svc.Subscribe(interfaces.EventReplySent, func(ctx context.Context, event interfaces.Event) error {
		defer close(ran)
		panic("observer bug")
	}))

	assert.NotPanics(t, func() {
		require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventReplySent}))
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestCloseDropsSubscriptions(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var count atomic.Int32
	require.NoError(t, svc.Subscribe(interfaces.EventReplySent, func(ctx context.Context, event interfaces.Event) error {
		count.Add(1)
		return nil
	}))

	require.NoError(t, svc.Close())

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventReplySent}))
	assert.Zero(t, count.Load())

	err := svc.Subscribe(interfaces.EventReplySent, func(ctx context.Context, event interfaces.Event) error { return nil })
	assert.Error(t, err)
}
