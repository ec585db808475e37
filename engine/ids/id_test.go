package ids

import "testing"

func TestNewIsTimeOrdered(t *testing.T) {
	a := MustNew()
	b := MustNew()
	if !a.Before(b) && a != b {
		t.Fatalf("expected a minted before b to sort before it: a=%s b=%s", a, b)
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := MustNew()
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != want {
		t.Fatalf("Parse(%s) = %s, want %s", want, got, want)
	}
}

func TestNilIsZeroValue(t *testing.T) {
	var zero ID
	if !zero.IsNil() {
		t.Fatalf("zero value ID should be nil")
	}
	if !Nil.IsNil() {
		t.Fatalf("Nil should be nil")
	}
}

func TestHashPartitionIsDeterministicAndBounded(t *testing.T) {
	id := MustNew()
	const partitionCount = 10000
	first := id.HashPartition(partitionCount)
	for i := 0; i < 100; i++ {
		if got := id.HashPartition(partitionCount); got != first {
			t.Fatalf("HashPartition not deterministic: got %d, want %d", got, first)
		}
	}
	if first < 0 || first >= partitionCount {
		t.Fatalf("HashPartition(%d) = %d, out of [0,%d)", partitionCount, first, partitionCount)
	}
}

func TestHashPartitionZeroCountIsZero(t *testing.T) {
	if got := MustNew().HashPartition(0); got != 0 {
		t.Fatalf("HashPartition(0) = %d, want 0", got)
	}
}

func TestBeforeIsStrictOrderForDistinctIDs(t *testing.T) {
	a := MustNew()
	b := MustNew()
	if a == b {
		t.Skip("two consecutive mints collided, vanishingly unlikely")
	}
	if a.Before(b) == b.Before(a) {
		t.Fatalf("Before must be antisymmetric for distinct ids")
	}
}
