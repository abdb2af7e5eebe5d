// Package capture carries camera frames from an external capture agent to the
// recognition pipeline.
package capture

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"faceattend/internal/logger"
	"faceattend/internal/queue"
)

// MessageType tags frame messages on the queue.
const MessageType = "frame"

// Frame is one captured image. Either ImageURL or Data is set.
type Frame struct {
	Seq        uint64    `msgpack:"seq"`
	DeviceID   string    `msgpack:"device_id"`
	ImageURL   string    `msgpack:"image_url,omitempty"`
	Data       []byte    `msgpack:"data,omitempty"`
	CapturedAt time.Time `msgpack:"captured_at"`
}

// Publish encodes frame and puts it on q.
func Publish(ctx context.Context, q queue.Queue, frame Frame) error {
	body, err := msgpack.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// QueueSource turns queue messages into a numbered frame stream.
type QueueSource struct {
	q       queue.Queue
	log     logger.Logger
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewQueueSource reads frames from q.
func NewQueueSource(q queue.Queue, log logger.Logger) *QueueSource {
	return &QueueSource{q: q, log: log}
}

// Frames streams decoded frames until ctx is done. Frames are renumbered in
// arrival order; messages that do not decode are dropped.
func (s *QueueSource) Frames(ctx context.Context) (<-chan Frame, error) {
	msgs, err := s.q.Consume(ctx)
	if err != nil {
		return nil, fmt.Errorf("consume frames: %w", err)
	}

	out := make(chan Frame)
	go func() {
		defer close(out)
		for msg := range msgs {
			if msg.Type != MessageType {
				continue
			}
			var f Frame
			if err := msgpack.Unmarshal(msg.Body, &f); err != nil {
				s.dropped.Add(1)
				s.log.Warn(ctx, "dropping undecodable frame", logger.Error(err))
				continue
			}
			f.Seq = s.seq.Add(1)
			if f.CapturedAt.IsZero() {
				f.CapturedAt = time.Now()
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Dropped returns how many messages failed to decode.
func (s *QueueSource) Dropped() uint64 { return s.dropped.Load() }
