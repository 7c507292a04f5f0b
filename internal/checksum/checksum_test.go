package checksum

import "testing"

func TestShort_StableAndDistinct(t *testing.T) {
	a := Short([]byte("/home/u/notes"), 8)
	b := Short([]byte("/home/u/notes"), 8)
	c := Short([]byte("/home/v/notes"), 8)
	if len(a) != 8 {
		t.Fatalf("len = %d, want 8", len(a))
	}
	if a != b {
		t.Errorf("hash not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("distinct inputs collided: %q", a)
	}
}

func TestShort_OutOfRangeReturnsFull(t *testing.T) {
	if got := Short([]byte("x"), 0); len(got) != 64 {
		t.Errorf("len = %d, want 64", len(got))
	}
}
