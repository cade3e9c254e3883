package realtime

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryMultipleHandles(t *testing.T) {
	r := NewRegistry(testLogger())

	h1 := NewClient("u1", "h1", 8)
	h2 := NewClient("u1", "h2", 8)
	r.Register(h1)
	r.Register(h2)
	r.Register(h2) // idempotent

	if got := len(r.HandlesFor("u1")); got != 2 {
		t.Fatalf("HandlesFor(u1) = %d handles, want 2", got)
	}
	if r.HandleCount() != 2 {
		t.Fatalf("HandleCount = %d, want 2", r.HandleCount())
	}
	if !r.Online("u1") {
		t.Fatalf("Online(u1) = false with live handles")
	}

	if last := r.Unregister("u1", "h1"); last {
		t.Fatalf("Unregister(h1) reported last while h2 is live")
	}
	if last := r.Unregister("u1", "h2"); !last {
		t.Fatalf("Unregister(h2) must report the last handle")
	}
	if r.Online("u1") {
		t.Fatalf("Online(u1) = true after both handles left")
	}

	// Closed on removal.
	select {
	case <-h1.Done():
	default:
		t.Fatalf("h1 not closed after unregister")
	}
}

func TestRegistryUnknownHandle(t *testing.T) {
	r := NewRegistry(testLogger())
	if last := r.Unregister("ghost", "h1"); last {
		t.Fatalf("unregistering an unknown handle must report false")
	}
	if got := r.HandlesFor("ghost"); got != nil {
		t.Fatalf("HandlesFor(ghost) = %v, want nil", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(testLogger())

	const users = 4
	const handlesPerUser = 8

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("u%d", u)
		for h := 0; h < handlesPerUser; h++ {
			wg.Add(1)
			go func(handleID string) {
				defer wg.Done()
				c := NewClient(userID, handleID, 8)
				r.Register(c)
				for _, got := range r.HandlesFor(userID) {
					if got.UserID != userID {
						t.Errorf("HandlesFor(%s) returned a handle owned by %s", userID, got.UserID)
					}
				}
				r.Unregister(userID, handleID)
			}(fmt.Sprintf("h%d-%d", u, h))
		}

		// Readers snapshotting while writers churn.
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < handlesPerUser; i++ {
				_ = r.Online(userID)
				_ = r.HandleCount()
				_ = r.HandlesFor(userID)
			}
		}()
	}
	wg.Wait()

	if n := r.HandleCount(); n != 0 {
		t.Fatalf("HandleCount after all goroutines finished = %d, want 0", n)
	}
	for u := 0; u < users; u++ {
		if r.Online(fmt.Sprintf("u%d", u)) {
			t.Fatalf("u%d still online after every handle unregistered", u)
		}
	}
}

func TestClientTrySendBackpressure(t *testing.T) {
	c := NewClient("u1", "h1", 1)
	if !c.trySend(NewEnvelope("error", nil, time.Now().UTC())) {
		t.Fatalf("first send must fit the queue")
	}
	if c.trySend(NewEnvelope("error", nil, time.Now().UTC())) {
		t.Fatalf("full queue must drop, not block")
	}

	c.Close()
	c.Close() // idempotent
	if c.trySend(NewEnvelope("error", nil, time.Now().UTC())) {
		t.Fatalf("closed client must refuse sends")
	}
}
