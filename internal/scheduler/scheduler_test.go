package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	runs  int32
	block chan struct{} // if set, Run waits for a receive
	err   error
}

func (r *countingRunner) Run(ctx context.Context) error {
	atomic.AddInt32(&r.runs, 1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	return r.err
}

func (r *countingRunner) count() int32 { return atomic.LoadInt32(&r.runs) }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestImmediateFirstTick(t *testing.T) {
	r := &countingRunner{}
	s := New(r, time.Hour, nil)
	s.Start(context.Background())
	defer s.Stop(time.Second)

	waitFor(t, time.Second, func() bool { return r.count() == 1 })
}

func TestPeriodicTicks(t *testing.T) {
	r := &countingRunner{}
	s := New(r, 20*time.Millisecond, nil)
	s.Start(context.Background())
	defer s.Stop(time.Second)

	waitFor(t, 2*time.Second, func() bool { return r.count() >= 3 })
}

func TestStopIsPromptAndIdempotent(t *testing.T) {
	r := &countingRunner{block: make(chan struct{})}
	s := New(r, time.Hour, nil)
	s.Start(context.Background())

	waitFor(t, time.Second, func() bool { return r.count() == 1 })

	start := time.Now()
	s.Stop(2 * time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v, cancellation must unblock the tick", elapsed)
	}

	s.Stop(time.Second)
	s.Stop(time.Second)
}

func TestStartTwiceRunsOneLoop(t *testing.T) {
	r := &countingRunner{}
	s := New(r, time.Hour, nil)
	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop(time.Second)

	time.Sleep(50 * time.Millisecond)
	if got := r.count(); got != 1 {
		t.Errorf("runs = %d, want 1 (double Start must not double the loop)", got)
	}
}

func TestFailureBackoffHonoursCancel(t *testing.T) {
	r := &countingRunner{err: errors.New("store down")}
	s := New(r, time.Hour, nil)
	s.failureBackoff = time.Hour

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return r.count() == 1 })

	start := time.Now()
	s.Stop(2 * time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v while in failure backoff", elapsed)
	}
}

type sleepingRunner struct {
	d time.Duration
}

func (r *sleepingRunner) Run(ctx context.Context) error {
	select {
	case <-time.After(r.d):
	case <-ctx.Done():
	}
	return nil
}

func TestSlowTickWarnsNearDeadline(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := New(&sleepingRunner{d: 60 * time.Millisecond}, 80*time.Millisecond, logger)
	s.deadlineSlack = 40 * time.Millisecond

	s.tick(context.Background())
	if !strings.Contains(buf.String(), "tick approaching interval deadline") {
		t.Errorf("slow tick produced no deadline warning:\n%s", buf.String())
	}

	buf.Reset()
	s.runner = &sleepingRunner{d: time.Millisecond}
	s.tick(context.Background())
	if strings.Contains(buf.String(), "tick approaching interval deadline") {
		t.Errorf("fast tick warned:\n%s", buf.String())
	}
}

func TestParentContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &countingRunner{}
	s := New(r, 10*time.Millisecond, nil)
	s.Start(ctx)

	waitFor(t, time.Second, func() bool { return r.count() >= 1 })
	cancel()
	time.Sleep(50 * time.Millisecond)
	after := r.count()
	time.Sleep(50 * time.Millisecond)
	if r.count() != after {
		t.Error("loop kept ticking after parent context cancel")
	}
	s.Stop(time.Second)
}
