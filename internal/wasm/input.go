package wasm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// InputSource supplies values for the read_i32 import.
//
// ReadI32 may block; the guest call blocks with it. Implementations should
// honor ctx so the embedding application can abandon a run.
type InputSource interface {
	ReadI32(ctx context.Context) (int32, error)
}

// QueueInput is a channel-backed InputSource. Values are delivered in Push
// order. After Close, reads drain what is queued and then fail with
// ErrInputExhausted.
type QueueInput struct {
	ch        chan int32
	closeOnce sync.Once
}

// NewQueueInput creates a queue preloaded with values and closed, so a
// program reading more than len(values) integers traps instead of
// blocking forever. Use NewOpenQueueInput for a queue fed while running.
func NewQueueInput(values ...int32) *QueueInput {
	q := &QueueInput{ch: make(chan int32, len(values))}
	for _, v := range values {
		q.ch <- v
	}
	q.Close()
	return q
}

// NewOpenQueueInput creates an open queue with room for size pending values.
func NewOpenQueueInput(size int) *QueueInput {
	return &QueueInput{ch: make(chan int32, size)}
}

// Push enqueues a value. It blocks while the queue is full and panics
// after Close, like a channel send.
func (q *QueueInput) Push(v int32) {
	q.ch <- v
}

// Close marks the end of input.
func (q *QueueInput) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// ReadI32 returns the next queued value.
func (q *QueueInput) ReadI32(ctx context.Context) (int32, error) {
	select {
	case v, ok := <-q.ch:
		if !ok {
			return 0, ErrInputExhausted
		}
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ScannerInput reads whitespace separated decimal integers from a reader,
// typically stdin.
type ScannerInput struct {
	mu sync.Mutex
	sc *bufio.Scanner
}

// NewScannerInput creates an InputSource over r.
func NewScannerInput(r io.Reader) *ScannerInput {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	return &ScannerInput{sc: sc}
}

// ReadI32 parses the next word as an int32. It cannot be interrupted while
// the underlying reader blocks.
func (s *ScannerInput) ReadI32(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return 0, fmt.Errorf("read input: %w", err)
		}
		return 0, ErrInputExhausted
	}
	v, err := strconv.ParseInt(s.sc.Text(), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse input %q: %w", s.sc.Text(), err)
	}
	return int32(v), nil
}

// ConstInput always returns the same value. It is meant for fixtures.
type ConstInput int32

// ReadI32 returns the constant.
func (c ConstInput) ReadI32(context.Context) (int32, error) {
	return int32(c), nil
}
