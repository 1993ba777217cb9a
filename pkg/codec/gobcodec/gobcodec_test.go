package gobcodec

import "testing"

func TestRoundTripString(t *testing.T) {
	c := New[string]()
	enc, err := c.Encode("hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "hello" {
		t.Fatalf("Decode() = %q, want hello", got)
	}
}

type point struct {
	X, Y int
}

func TestRoundTripStruct(t *testing.T) {
	c := New[point]()
	enc, err := c.Encode(point{X: 3, Y: 4})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != (point{X: 3, Y: 4}) {
		t.Fatalf("Decode() = %+v, want {3 4}", got)
	}
}

func TestDecodeEmptyReturnsZeroValue(t *testing.T) {
	c := New[string]()
	got, err := c.Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if got != "" {
		t.Fatalf("Decode(nil) = %q, want empty string", got)
	}
}
