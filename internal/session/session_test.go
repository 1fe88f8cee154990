package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()

	h := NewHistory()
	h.Append("s1", Turn{Role: RoleUser, Text: "hello"})
	h.Append("s1", Turn{Role: RoleModel, Text: "hi there"})
	h.Append("s1", Turn{Role: RoleUser, Text: "how are you"})

	got := h.Recent("s1", 2)
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d turns, want 2", len(got))
	}
	if got[0].Text != "hi there" || got[1].Text != "how are you" {
		t.Errorf("Recent(2) = %v, want last two turns in arrival order", got)
	}
}

func TestRecent_ShorterThanK(t *testing.T) {
	t.Parallel()

	h := NewHistory()
	h.Append("s1", Turn{Role: RoleUser, Text: "only one"})

	got := h.Recent("s1", 10)
	if len(got) != 1 {
		t.Fatalf("Recent(10) on one-turn session returned %d turns, want 1", len(got))
	}
	if got[0].Text != "only one" {
		t.Errorf("Recent(10)[0].Text = %q", got[0].Text)
	}
}

func TestRecent_UnknownSession(t *testing.T) {
	t.Parallel()

	h := NewHistory()
	if got := h.Recent("nope", 5); len(got) != 0 {
		t.Errorf("Recent() on unknown session = %v, want empty", got)
	}
}

func TestRecent_NonPositiveK(t *testing.T) {
	t.Parallel()

	h := NewHistory()
	h.Append("s1", Turn{Role: RoleUser, Text: "x"})

	if got := h.Recent("s1", 0); len(got) != 0 {
		t.Errorf("Recent(0) = %v, want empty", got)
	}
	if got := h.Recent("s1", -1); len(got) != 0 {
		t.Errorf("Recent(-1) = %v, want empty", got)
	}
}

func TestRecent_ReturnsCopy(t *testing.T) {
	t.Parallel()

	h := NewHistory()
	h.Append("s1", Turn{Role: RoleUser, Text: "original"})

	got := h.Recent("s1", 1)
	got[0].Text = "mutated"

	if again := h.Recent("s1", 1); again[0].Text != "original" {
		t.Error("Recent() exposed internal state to mutation")
	}
}

func TestConcurrentAppends(t *testing.T) {
	t.Parallel()

	h := NewHistory()

	const goroutines = 16
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				h.Append("shared", Turn{Role: RoleUser, Text: fmt.Sprintf("g%d-%d", g, i)})
			}
		}(g)
	}
	wg.Wait()

	if got := h.Len("shared"); got != goroutines*perGoroutine {
		t.Errorf("Len() = %d after concurrent appends, want %d", got, goroutines*perGoroutine)
	}
}
