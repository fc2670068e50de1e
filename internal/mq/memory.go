package mq

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a closed MemoryBroker.
var ErrClosed = errors.New("mq closed")

// MemoryBroker is an in-process Backend. Each channel is a buffered queue
// shared by all subscribers of that channel.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan Message
	closed chan struct{}
	once   sync.Once
	size   int
}

// NewMemoryBroker creates a broker whose channels buffer up to size messages.
func NewMemoryBroker(size int) *MemoryBroker {
	if size <= 0 {
		size = 64
	}
	return &MemoryBroker{
		queues: make(map[string]chan Message),
		closed: make(chan struct{}),
		size:   size,
	}
}

func (b *MemoryBroker) queue(channel string) chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[channel]
	if !ok {
		q = make(chan Message, b.size)
		b.queues[channel] = q
	}
	return q
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if err := checkChannel(channel); err != nil {
		return "", err
	}
	msg := Message{ID: newMessageID(), Data: append([]byte(nil), data...), Attributes: attrs}
	select {
	case <-b.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	case b.queue(channel) <- msg:
		return msg.ID, nil
	}
}

// Subscribe delivers messages until ctx is done or the broker is closed. A
// failed message is redelivered once.
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	q := b.queue(channel)
	for {
		select {
		case <-b.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q:
			if err := handler(ctx, msg); err != nil {
				_ = handler(ctx, msg)
			}
		}
	}
}

func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
