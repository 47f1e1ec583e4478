package queue_test

import (
	"testing"

	"github.com/syncwell/pulse/queue"
)

func TestManager_UnconfiguredQueueHasNoLimits(t *testing.T) {
	m := queue.NewManager()

	for i := 0; i < 100; i++ {
		if !m.Acquire("anything", "") {
			t.Fatalf("acquire %d denied on unconfigured queue", i)
		}
	}
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "sync", MaxConcurrency: 2})

	if !m.Acquire("sync", "") {
		t.Fatal("first acquire denied")
	}
	if !m.Acquire("sync", "") {
		t.Fatal("second acquire denied")
	}
	if m.Acquire("sync", "") {
		t.Fatal("third acquire allowed past MaxConcurrency=2")
	}

	m.Release("sync", "")
	if !m.Acquire("sync", "") {
		t.Fatal("acquire denied after release freed a slot")
	}
}

func TestManager_RateLimitBurst(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "sync", RateLimit: 1, RateBurst: 3})

	for i := 0; i < 3; i++ {
		if !m.Acquire("sync", "") {
			t.Fatalf("acquire %d denied within burst", i)
		}
	}
	if m.Acquire("sync", "") {
		t.Fatal("acquire allowed past burst with 1/s refill")
	}
}

func TestManager_DeniedAcquireKeepsRateTokens(t *testing.T) {
	// A ceiling denial must not spend a rate token. With two burst tokens,
	// a negligible refill rate, and a ceiling of one, the slot freed by
	// Release must still find the second token.
	m := queue.NewManager(queue.Config{
		Name:           "sync",
		RateLimit:      0.001,
		RateBurst:      2,
		MaxConcurrency: 1,
	})

	if !m.Acquire("sync", "") {
		t.Fatal("first acquire denied")
	}
	if m.Acquire("sync", "") {
		t.Fatal("acquire allowed past MaxConcurrency=1")
	}
	m.Release("sync", "")
	if !m.Acquire("sync", "") {
		t.Fatal("denied acquire burned a rate token")
	}
}

func TestManager_SourceDenialKeepsQueueTokens(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "sync", RateLimit: 0.001, RateBurst: 2})
	m.SetSourceConfig(queue.SourceConfig{
		Queue:          "sync",
		Source:         "provider-a",
		MaxConcurrency: 1,
	})

	if !m.Acquire("sync", "provider-a") {
		t.Fatal("first acquire denied")
	}
	if m.Acquire("sync", "provider-a") {
		t.Fatal("acquire allowed past source MaxConcurrency=1")
	}
	m.Release("sync", "provider-a")
	if !m.Acquire("sync", "provider-a") {
		t.Fatal("source denial burned the queue's rate token")
	}
}

func TestManager_SourceConcurrency(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "sync"})
	m.SetSourceConfig(queue.SourceConfig{
		Queue:          "sync",
		Source:         "provider-a",
		MaxConcurrency: 1,
	})

	if !m.Acquire("sync", "provider-a") {
		t.Fatal("first provider-a acquire denied")
	}
	if m.Acquire("sync", "provider-a") {
		t.Fatal("second provider-a acquire allowed past MaxConcurrency=1")
	}

	// Other sources on the same queue are unaffected.
	if !m.Acquire("sync", "provider-b") {
		t.Fatal("provider-b acquire denied by provider-a's limit")
	}

	m.Release("sync", "provider-a")
	if !m.Acquire("sync", "provider-a") {
		t.Fatal("provider-a acquire denied after release")
	}
}

func TestManager_ReleaseResetsCounts(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "sync", MaxConcurrency: 1})
	m.SetSourceConfig(queue.SourceConfig{
		Queue:          "sync",
		Source:         "provider-a",
		MaxConcurrency: 1,
	})

	if !m.Acquire("sync", "provider-a") {
		t.Fatal("first acquire denied")
	}
	m.Release("sync", "provider-a")

	if got := m.ActiveCount("sync"); got != 0 {
		t.Fatalf("ActiveCount = %d after release, want 0", got)
	}
	if got := m.SourceActiveCount("sync", "provider-a"); got != 0 {
		t.Fatalf("SourceActiveCount = %d after release, want 0", got)
	}
}

func TestManager_SetQueueConfigPreservesActive(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "sync", MaxConcurrency: 5})

	m.Acquire("sync", "")
	m.Acquire("sync", "")

	m.SetQueueConfig(queue.Config{Name: "sync", MaxConcurrency: 2})

	if got := m.ActiveCount("sync"); got != 2 {
		t.Fatalf("ActiveCount = %d after reconfigure, want 2", got)
	}
	if m.Acquire("sync", "") {
		t.Fatal("acquire allowed past reduced MaxConcurrency=2")
	}
}

func TestManager_ActiveCounts(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "sync"})
	m.SetSourceConfig(queue.SourceConfig{Queue: "sync", Source: "provider-a", MaxConcurrency: 10})

	m.Acquire("sync", "provider-a")
	m.Acquire("sync", "provider-a")
	m.Acquire("sync", "")

	if got := m.ActiveCount("sync"); got != 3 {
		t.Errorf("ActiveCount = %d, want 3", got)
	}
	if got := m.SourceActiveCount("sync", "provider-a"); got != 2 {
		t.Errorf("SourceActiveCount = %d, want 2", got)
	}
	if got := m.ActiveCount("other"); got != 0 {
		t.Errorf("ActiveCount(other) = %d, want 0", got)
	}
}
