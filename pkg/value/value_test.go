package value

import "testing"

func TestBytesDefensiveCopy(t *testing.T) {
	src := []byte("hello")
	b := NewBytes(src)
	src[0] = 'X' // mutate the original after construction
	if string(b.Get()) != "hello" {
		t.Fatalf("Bytes should have copied src at construction, got %q", b.Get())
	}

	got := b.Get()
	got[0] = 'Y' // mutate the returned copy
	if string(b.Get()) != "hello" {
		t.Fatalf("Get() should return a fresh copy each time, got %q", b.Get())
	}
}

func TestBytesEqual(t *testing.T) {
	a := NewBytes([]byte("abc"))
	b := NewBytes([]byte("abc"))
	c := NewBytes([]byte("abcd"))
	if !a.Equal(b) {
		t.Fatalf("expected equal byte values to compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected different-length byte values to compare unequal")
	}
}

func TestCounterAddAndDiff(t *testing.T) {
	c := NewCounter()
	c.Add(3)
	c.Add(4)
	if got := c.Total(); got != 7 {
		t.Fatalf("Total() = %d, want 7", got)
	}

	c.Lock()
	if !c.IsDirty() {
		t.Fatalf("expected counter to be dirty after Add")
	}
	diff, err := c.GetDiff()
	if err != nil {
		t.Fatalf("GetDiff: %v", err)
	}
	c.ResetDiff()
	if c.IsDirty() {
		t.Fatalf("expected counter to be clean after ResetDiff")
	}
	c.Unlock()

	remote := NewCounter()
	remote.Lock()
	if err := remote.ApplyDiff(diff); err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	remote.Unlock()
	if got := remote.Total(); got != 7 {
		t.Fatalf("remote Total() after ApplyDiff = %d, want 7", got)
	}
}

func TestCounterNotAccessReplicate(t *testing.T) {
	c := NewCounter()
	if c.IsAccessReplicate() {
		t.Fatalf("Counter should never request access-replication")
	}
	if !c.IsDiffable() {
		t.Fatalf("Counter must be diffable")
	}
}
