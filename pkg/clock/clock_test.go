package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeSleepUntilReturnsImmediatelyWhenAlreadyPast(t *testing.T) {
	f := NewFake(time.Unix(100, 0))
	err := f.SleepUntil(context.Background(), time.Unix(50, 0))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestFakeSleepUntilWakesOnAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	done := make(chan error, 1)
	go func() {
		done <- f.SleepUntil(context.Background(), time.Unix(10, 0))
	}()

	select {
	case <-done:
		t.Fatal("should not have returned before advancing")
	case <-time.After(20 * time.Millisecond):
	}

	f.Advance(10 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SleepUntil did not wake after Advance")
	}
}

func TestFakeSleepUntilCancelledByContext(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.SleepUntil(ctx, time.Unix(10, 0))
	}()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SleepUntil did not observe cancellation")
	}
}
