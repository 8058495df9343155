package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrNotQueued, false},
		{errors.New("record not found"), false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{fmt.Errorf("wrapped: %w", driver.ErrBadConn), true},
		{context.DeadlineExceeded, true},
		{errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), true},
		{fmt.Errorf("leave: %w", errConcurrentUpdate), true},
	}
	for _, c := range cases {
		if got := isTransient(c.err); got != c.want {
			t.Errorf("isTransient(%v) = %v; want %v", c.err, got, c.want)
		}
	}
}

func TestRetryPolicy_RetriesTransientThenSucceeds(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Millisecond, MaxElapsed: time.Second}
	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
}

func TestRetryPolicy_LogicalErrorNotRetried(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Millisecond, MaxElapsed: time.Second}
	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return ErrAlreadyQueued
	})
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	if errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("logical errors must not be reported as storage failures")
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
}

func TestRetryPolicy_ExhaustedBecomesStorageUnavailable(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Millisecond, MaxElapsed: 30 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return driver.ErrBadConn
	})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if calls < 2 {
		t.Fatalf("expected several attempts, got %d", calls)
	}
}

func TestRetryPolicy_CanceledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{InitialInterval: 10 * time.Millisecond, MaxElapsed: time.Minute}
	calls := 0
	err := p.Do(ctx, "test", func() error {
		calls++
		cancel()
		return errors.New("database is locked")
	})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable after cancel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.InitialInterval != 50*time.Millisecond || p.MaxElapsed != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}
