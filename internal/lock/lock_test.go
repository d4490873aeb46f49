package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aalhour/quarrystore/internal/meta"
)

func newStore(t *testing.T) meta.Store {
	t.Helper()
	s := meta.NewMem()
	opts := meta.TableOptions{BlockPerSegment: 4, RowPerBlock: 100, LockEnabled: true}
	if err := s.CreateTable("t1", opts, "snap-0"); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAcquireRelease(t *testing.T) {
	s := newStore(t)

	g, err := Acquire(context.Background(), s, "t1", "writer-a", time.Minute, 0)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	// A second contender with no wait budget times out immediately.
	_, err = Acquire(context.Background(), s, "t1", "writer-b", time.Minute, 0)
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("contended Acquire: err = %v, want ErrLockTimeout", err)
	}

	if err := g.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	g2, err := Acquire(context.Background(), s, "t1", "writer-b", time.Minute, 0)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = g2.Release()
}

func TestAcquireWaitsForRelease(t *testing.T) {
	s := newStore(t)

	g, err := Acquire(context.Background(), s, "t1", "writer-a", time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		g2, err := Acquire(context.Background(), s, "t1", "writer-b", time.Minute, time.Second)
		if err == nil {
			_ = g2.Release()
		}
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	if err := g.Release(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("blocked Acquire finished with error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Acquire never finished")
	}
}

func TestAcquireAfterHolderCrash(t *testing.T) {
	s := newStore(t)

	// The crashed holder's lease has a short ttl and is never released.
	if _, err := Acquire(context.Background(), s, "t1", "crashed", 20*time.Millisecond, 0); err != nil {
		t.Fatal(err)
	}

	g, err := Acquire(context.Background(), s, "t1", "recoverer", time.Minute, time.Second)
	if err != nil {
		t.Fatalf("Acquire after lease expiry: %v", err)
	}
	_ = g.Release()
}

func TestAcquireHonorsContext(t *testing.T) {
	s := newStore(t)

	if _, err := Acquire(context.Background(), s, "t1", "writer-a", time.Minute, 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Acquire(ctx, s, "t1", "writer-b", time.Minute, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("canceled Acquire: err = %v, want context.Canceled", err)
	}
}

func TestReleaseByStaleHolderIsNoop(t *testing.T) {
	s := newStore(t)

	g, err := Acquire(context.Background(), s, "t1", "writer-a", 20*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	g2, err := Acquire(context.Background(), s, "t1", "writer-b", time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}

	// The stale holder releasing must not free writer-b's lease.
	if err := g.Release(); err != nil {
		t.Fatalf("stale Release error: %v", err)
	}
	if _, err := Acquire(context.Background(), s, "t1", "writer-c", time.Minute, 0); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("lease freed by stale holder: err = %v, want ErrLockTimeout", err)
	}
	_ = g2.Release()
}
