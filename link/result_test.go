package link_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbocsi/wearlink/link"
)

func TestResult_CompletesOnce(t *testing.T) {
	r := link.NewResult[int]()
	if _, _, ok := r.Peek(); ok {
		t.Error("Expected pending result")
	}
	if !r.Complete(1, nil) {
		t.Error("Expected first Complete to win")
	}
	if r.Complete(2, errors.New("late")) {
		t.Error("Expected second Complete to be ignored")
	}

	val, err, ok := r.Peek()
	if !ok || val != 1 || err != nil {
		t.Errorf("Expected (1, nil, true), got (%d, %v, %t)", val, err, ok)
	}
}

func TestResult_AwaitHonoursContext(t *testing.T) {
	r := link.NewResult[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := r.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}

	go r.Complete("ok", nil)
	val, err := r.Await(context.Background())
	if err != nil || val != "ok" {
		t.Errorf("Expected ok, got %q %v", val, err)
	}
}

func TestResult_OnCompleteRunsOnLoop(t *testing.T) {
	loop := link.NewLoop(nil)
	r := link.NewResult[int]()

	var got []int
	r.OnComplete(loop, func(v int, err error) { got = append(got, v) })
	r.Complete(7, nil)
	if len(got) != 0 {
		t.Error("Expected callback to be deferred to the loop")
	}
	loop.RunPending()

	// registering after completion still dispatches
	r.OnComplete(loop, func(v int, err error) { got = append(got, v*2) })
	loop.RunPending()

	if len(got) != 2 || got[0] != 7 || got[1] != 14 {
		t.Errorf("Expected [7 14], got %v", got)
	}
}

func TestResult_FailureIsAValue(t *testing.T) {
	boom := errors.New("boom")
	r := link.Completed(0, boom)

	var seen error
	r.OnComplete(nil, func(_ int, err error) { seen = err })
	if !errors.Is(seen, boom) {
		t.Errorf("Expected boom, got %v", seen)
	}
}
