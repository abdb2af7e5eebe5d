package queue_test

import (
	"context"
	"testing"
	"time"

	"faceattend/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(4)
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "frame", Body: []byte("a")}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "frame", Body: []byte("b")}))
	assert.Equal(t, 2, q.Len())

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	for _, want := range []string{"a", "b"} {
		select {
		case msg := <-msgs:
			assert.Equal(t, want, string(msg.Body))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestInMemory_ConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewInMemory(1)
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed")
	}
}

func TestInMemory_PublishHonoursContextWhenFull(t *testing.T) {
	q := queue.NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: "frame"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, queue.Message{Type: "frame"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCodec(t *testing.T) {
	raw, err := queue.Encode(queue.Message{Type: "frame", Body: []byte{0, 1, '|', 2}})
	require.NoError(t, err)

	msg, err := queue.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "frame", msg.Type)
	assert.Equal(t, []byte{0, 1, '|', 2}, msg.Body)

	_, err = queue.Decode([]byte{0xc1})
	assert.Error(t, err)
}
