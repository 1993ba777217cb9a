package meshmap

import "testing"

func TestMembershipAddExcludesSelf(t *testing.T) {
	ms := NewMembership("self")
	if added := ms.Add("self"); added {
		t.Fatalf("Add(self) reported added=true, want false")
	}
	if ms.Contains("self") {
		t.Fatalf("self must never appear in its own membership")
	}
	if added := ms.Add("peer"); !added {
		t.Fatalf("Add(peer) reported added=false on first add")
	}
	if !ms.Contains("peer") {
		t.Fatalf("expected peer to be a member")
	}
}

func TestMembershipExcludingSelfAndNeverIncludesSelf(t *testing.T) {
	ms := NewMembership("self")
	ms.Add("a")
	ms.Add("b")
	out := ms.ExcludingSelfAnd(nil)
	for _, m := range out {
		if m == "self" {
			t.Fatalf("ExcludingSelfAnd returned self, want it always absent")
		}
	}
	if len(out) != 2 {
		t.Fatalf("ExcludingSelfAnd(nil) len = %d, want 2", len(out))
	}
}

// TestNextBackupIndexTieBreak pins down the exact round-robin arithmetic
// spec.md §4.4 requires: node := cursor; cursor++; if node >= size {
// node = 0; cursor = 1 }.
func TestNextBackupIndexTieBreak(t *testing.T) {
	ms := NewMembership("self")
	ms.Add("a")
	ms.Add("b")
	ms.Add("c") // size = 3

	want := []int{0, 1, 2, 0, 1, 2}
	for i, w := range want {
		got := ms.NextBackupIndex()
		if got != w {
			t.Fatalf("call %d: NextBackupIndex() = %d, want %d", i, got, w)
		}
	}
}

func TestNextBackupIndexEmptyMembership(t *testing.T) {
	ms := NewMembership("self")
	if idx := ms.NextBackupIndex(); idx != -1 {
		t.Fatalf("NextBackupIndex() on empty membership = %d, want -1", idx)
	}
}

// TestNextBackupIndexShrinkWraps exercises the wrap branch explicitly:
// membership shrinking mid-sequence makes the next call's node land past
// size, forcing node=0, cursor=1.
func TestNextBackupIndexShrinkWraps(t *testing.T) {
	ms := NewMembership("self")
	ms.Add("a")
	ms.Add("b")
	ms.Add("c")

	if got := ms.NextBackupIndex(); got != 0 {
		t.Fatalf("first call = %d, want 0", got)
	}
	if got := ms.NextBackupIndex(); got != 1 {
		t.Fatalf("second call = %d, want 1", got)
	}

	ms.Remove("c") // size now 2, cursor sits at 2

	got := ms.NextBackupIndex()
	if got != 0 {
		t.Fatalf("post-shrink call = %d, want 0 (wrap)", got)
	}
}

func TestEvictStale(t *testing.T) {
	ms := NewMembership("self")
	ms.Add("a")
	stale := ms.EvictStale(0) // everything is "stale" at a zero timeout
	if len(stale) != 1 || stale[0] != "a" {
		t.Fatalf("EvictStale(0) = %v, want [a]", stale)
	}
	if ms.Contains("a") {
		t.Fatalf("expected a to be evicted")
	}
}
