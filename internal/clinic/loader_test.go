package clinic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoader_FreshViewIsLoading(t *testing.T) {
	l := NewLoader[PatientPage](zerolog.Nop())
	if !l.Snapshot().Loading {
		t.Error("expected a mounted view to start loading")
	}
}

func TestLoader_Success(t *testing.T) {
	l := NewLoader[[]string](zerolog.Nop())
	snap := l.Load(context.Background(), func(context.Context) ([]string, error) {
		return []string{"a"}, nil
	})
	if snap.Loading || snap.Err != "" || len(snap.Data) != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestLoader_FailureSetsErrorState(t *testing.T) {
	l := NewLoader[int](zerolog.Nop())
	snap := l.Load(context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	if snap.Loading || snap.Err != MsgLoadFailed {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	snap = l.Load(context.Background(), func(context.Context) (int, error) { return 3, nil })
	if snap.Err != "" || snap.Data != 3 {
		t.Errorf("expected a retry to clear the error, got %+v", snap)
	}
}

func TestLoader_CloseAbortsWithoutError(t *testing.T) {
	l := NewLoader[int](zerolog.Nop())
	started := make(chan struct{})
	done := make(chan Snapshot[int], 1)

	go func() {
		done <- l.Load(context.Background(), func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 42, ctx.Err()
		})
	}()

	<-started
	l.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled")
	}
	snap := l.Snapshot()
	if snap.Loading {
		t.Error("expected loading to resolve to false")
	}
	if snap.Err != "" {
		t.Errorf("aborted fetch must not set an error, got %q", snap.Err)
	}
	if snap.Data != 0 {
		t.Errorf("aborted fetch must not write data, got %d", snap.Data)
	}
}

func TestLoader_ParentCancelAbortsWithoutError(t *testing.T) {
	l := NewLoader[int](zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap := l.Load(ctx, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	if snap.Loading || snap.Err != "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestLoader_SupersededResultIsDropped(t *testing.T) {
	l := NewLoader[string](zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	first := make(chan struct{})

	go func() {
		defer close(first)
		l.Load(context.Background(), func(context.Context) (string, error) {
			close(started)
			// Ignores cancellation and answers late.
			<-release
			return "stale", nil
		})
	}()

	<-started
	snap := l.Load(context.Background(), func(context.Context) (string, error) {
		return "fresh", nil
	})
	if snap.Data != "fresh" {
		t.Fatalf("expected fresh data, got %+v", snap)
	}

	close(release)
	<-first
	if got := l.Snapshot(); got.Data != "fresh" || got.Loading {
		t.Errorf("late result overwrote state: %+v", got)
	}
}
