package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/franksops/gofanout/consumer"
	"github.com/franksops/gofanout/store"
)

// StepSize is the growth and shrink increment of the in-memory backlog.
const StepSize = 64

// Consumer is the downstream end of the channel.
type Consumer interface {
	// Available reports whether a reader is attached.
	Available(ctx context.Context) bool
	// Send writes one complete record. consumer.ErrUnavailable means nothing
	// was written and the record should be retried later.
	Send(ctx context.Context, record []byte) error
}

// Buffer hands notifications to a Consumer, keeping a durable FIFO backlog
// for the periods the consumer is away. Notify never blocks on the consumer.
type Buffer struct {
	consumer Consumer
	store    store.MessageStore
	logger   *slog.Logger

	mu      sync.Mutex
	backlog []store.Message
}

// NewBuffer loads any backlog left by a previous run.
func NewBuffer(c Consumer, s store.MessageStore, logger *slog.Logger) (*Buffer, error) {
	pending, err := s.PendingMessages()
	if err != nil {
		return nil, err
	}
	b := &Buffer{
		consumer: c,
		store:    s,
		logger:   logger.With("component", "handoff"),
		backlog:  make([]store.Message, 0, roundUp(len(pending))),
	}
	b.backlog = append(b.backlog, pending...)
	if len(pending) > 0 {
		b.logger.Info("restored message backlog", "messages", len(pending))
	}
	return b, nil
}

// Notify delivers n, after any backlog, or buffers it when the consumer is
// unavailable or not draining. A returned error means the channel is broken
// and the daemon must stop; n has been buffered durably before that error
// is returned.
func (b *Buffer) Notify(ctx context.Context, n Notification) error {
	record, err := n.MarshalBinary()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.consumer.Available(ctx) {
		return b.appendLocked(record)
	}
	err = b.flushLocked(ctx)
	if err == nil {
		err = b.consumer.Send(ctx, record)
		if err == nil {
			return nil
		}
		err = fmt.Errorf("write notification for job %d: %w", n.JobID, err)
	}
	if appendErr := b.appendLocked(record); appendErr != nil {
		return errors.Join(err, appendErr)
	}
	if errors.Is(err, consumer.ErrUnavailable) {
		b.logger.Debug("consumer not draining, buffering", "job", n.JobID, "backlog", len(b.backlog))
		return nil
	}
	return err
}

// Flush drains the backlog if the consumer is available. It stops without
// error when the consumer stops accepting records.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.backlog) == 0 || !b.consumer.Available(ctx) {
		return nil
	}
	if err := b.flushLocked(ctx); err != nil && !errors.Is(err, consumer.ErrUnavailable) {
		return err
	}
	return nil
}

// Backlog returns the number of buffered notifications.
func (b *Buffer) Backlog() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.backlog)
}

func (b *Buffer) appendLocked(record []byte) error {
	seq, err := b.store.AppendMessage(record)
	if err != nil {
		return err
	}
	if len(b.backlog) == cap(b.backlog) {
		grown := make([]store.Message, len(b.backlog), cap(b.backlog)+StepSize)
		copy(grown, b.backlog)
		b.backlog = grown
	}
	b.backlog = append(b.backlog, store.Message{Seq: seq, Data: record})
	return nil
}

func (b *Buffer) flushLocked(ctx context.Context) error {
	if len(b.backlog) == 0 {
		return nil
	}

	sent := 0
	var sendErr error
	for _, msg := range b.backlog {
		if err := b.consumer.Send(ctx, msg.Data); err != nil {
			sendErr = fmt.Errorf("flush buffered message %d: %w", msg.Seq, err)
			break
		}
		sent++
	}

	if sent > 0 {
		seqs := make([]uint64, sent)
		for i := range sent {
			seqs[i] = b.backlog[i].Seq
		}
		if err := b.store.DeleteMessages(seqs...); err != nil {
			// Already delivered; they will be delivered again after a restart.
			b.logger.Error("failed to drop delivered messages", "error", err)
		}
		b.backlog = b.shrink(b.backlog[sent:])
		b.logger.Debug("flushed message backlog", "sent", sent, "remaining", len(b.backlog))
	}
	return sendErr
}

// shrink copies rest into a smaller backing array once it has fallen more
// than two steps below capacity, or resets it when drained.
func (b *Buffer) shrink(rest []store.Message) []store.Message {
	if len(rest) == 0 {
		return make([]store.Message, 0, StepSize)
	}
	if cap(rest)-len(rest) < 2*StepSize {
		return rest
	}
	out := make([]store.Message, len(rest), roundUp(len(rest)))
	copy(out, rest)
	return out
}

func roundUp(n int) int {
	if n == 0 {
		return StepSize
	}
	return ((n + StepSize - 1) / StepSize) * StepSize
}
