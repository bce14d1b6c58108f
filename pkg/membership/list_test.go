package membership

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ryandielhenn/clocknet/pkg/wire"
)

func id(port int) wire.Identity { return wire.Identity{Address: "127.0.0.1", Port: port} }

func TestAddKeepsOrderAndRejectsDuplicates(t *testing.T) {
	l := New()
	if !l.Add(id(3)) || !l.Add(id(1)) || !l.Add(id(2)) {
		t.Fatal("fresh Add returned false")
	}
	if l.Add(id(1)) {
		t.Fatal("duplicate Add returned true")
	}
	got := l.Snapshot()
	want := []wire.Identity{id(3), id(1), id(2)}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
}

func TestRemove(t *testing.T) {
	l := New()
	l.Add(id(1))
	l.Add(id(2))
	l.Add(id(3))

	if !l.Remove(id(2)) {
		t.Fatal("Remove(2) = false")
	}
	if l.Contains(id(2)) {
		t.Fatal("2 should have been removed")
	}
	if !l.Contains(id(1)) || !l.Contains(id(3)) {
		t.Fatal("1 and 3 should still exist")
	}
	if fmt.Sprint(l.Snapshot()) != fmt.Sprint([]wire.Identity{id(1), id(3)}) {
		t.Fatalf("order broken after remove: %v", l.Snapshot())
	}
}

func TestIdempotentRemove(t *testing.T) {
	l := New()
	l.Add(id(1))
	l.Remove(id(1))
	// Removing again should not panic
	if l.Remove(id(1)) {
		t.Fatal("second Remove returned true")
	}
}

func TestRemoveNonExistent(t *testing.T) {
	l := New()
	l.Add(id(1))
	l.Add(id(2))
	before := l.Len()
	l.Remove(id(99))
	if after := l.Len(); after != before {
		t.Fatalf("removing non-existent member changed len: before=%d, after=%d", before, after)
	}
}

func TestReplaceDedupes(t *testing.T) {
	l := New()
	l.Add(id(9))
	l.Replace([]wire.Identity{id(1), id(2), id(1), id(3)})
	want := []wire.Identity{id(1), id(2), id(3)}
	if fmt.Sprint(l.Snapshot()) != fmt.Sprint(want) {
		t.Fatalf("Snapshot = %v, want %v", l.Snapshot(), want)
	}
	if l.Contains(id(9)) {
		t.Fatal("Replace kept an old member")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	l := New()
	l.Add(id(1))
	snap := l.Snapshot()
	snap[0] = id(42)
	if l.Contains(id(42)) || !l.Contains(id(1)) {
		t.Fatal("Snapshot returned a reference, not a copy")
	}
}

func TestClear(t *testing.T) {
	l := New()
	l.Add(id(1))
	l.Clear()
	if l.Len() != 0 || l.Contains(id(1)) {
		t.Fatal("Clear left members behind")
	}
	if !l.Add(id(1)) {
		t.Fatal("Add after Clear returned false")
	}
}

func TestConcurrentMutation(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	const G = 16
	const N = 200
	for g := range G {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range N {
				p := 1 + g*N + i
				l.Add(id(p))
				_ = l.Snapshot()
				if i%2 == 0 {
					l.Remove(id(p))
				}
			}
		}(g)
	}
	wg.Wait()
	if got := l.Len(); got != G*N/2 {
		t.Fatalf("Len = %d, want %d", got, G*N/2)
	}
	seen := map[wire.Identity]bool{}
	for _, m := range l.Snapshot() {
		if seen[m] {
			t.Fatalf("duplicate member %v", m)
		}
		seen[m] = true
	}
}
