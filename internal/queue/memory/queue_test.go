package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

type item struct {
	RequestID string
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[item](1)
	result := make(chan item, 1)
	errCh := make(chan error, 1)

	go func() {
		got, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- got
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), item{RequestID: "req-1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.RequestID != "req-1" {
			t.Fatalf("expected req-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](8)
	for i := range 5 {
		if err := q.Enqueue(context.Background(), i); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	for want := range 5 {
		got, err := q.Dequeue(context.Background())
		if err != nil || got != want {
			t.Fatalf("Dequeue() = %d, %v; want %d", got, err, want)
		}
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue[item](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue[item](1)
	if err := qEnqueue.Enqueue(context.Background(), item{RequestID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, item{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue[item](2)
	if err := q.Enqueue(context.Background(), item{RequestID: "pending"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()

	if err := q.Enqueue(context.Background(), item{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue, got %v", err)
	}
	got, err := q.Dequeue(context.Background())
	if err != nil || got.RequestID != "pending" {
		t.Fatalf("expected pending item to drain, got %+v, %v", got, err)
	}
	if _, err := q.Dequeue(context.Background()); err == nil || err.Error() != "queue closed" {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseUnblocksFullEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	if err := q.Enqueue(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- q.Enqueue(context.Background(), 2) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}
}
