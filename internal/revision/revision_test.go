package revision

import "testing"

func TestNormalizeAbsolute(t *testing.T) {
	r, err := Normalize(Revision(3), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != 3 {
		t.Fatalf("got %d, want 3", r)
	}
}

func TestNormalizeRelative(t *testing.T) {
	r, err := Normalize(HeadRevision, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != 5 {
		t.Fatalf("got %d, want 5 (head)", r)
	}

	r, err = Normalize(Revision(-2), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != 4 {
		t.Fatalf("got %d, want 4", r)
	}
}

func TestNormalizeOutOfRange(t *testing.T) {
	cases := []Revision{0, Revision(6), Revision(-6)}
	for _, r := range cases {
		if r == 0 {
			continue // zero is covered by TestNewRejectsZero
		}
		if _, err := Normalize(r, 5); err == nil {
			t.Fatalf("expected error normalizing %d against head 5", r)
		}
	}
}

func TestNewRejectsZero(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error constructing zero revision")
	}
}

func TestParseHeadSynonym(t *testing.T) {
	r, err := Parse("HEAD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != HeadRevision {
		t.Fatalf("got %d, want HeadRevision", r)
	}
}

func TestRangeOrdersAscending(t *testing.T) {
	lo, hi, err := Range(Revision(5), Revision(1), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lo != 1 || hi != 5 {
		t.Fatalf("got lo=%d hi=%d, want lo=1 hi=5", lo, hi)
	}
}

func TestBackwardSaturates(t *testing.T) {
	if got := Backward(Revision(2), 10); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestForwardSaturates(t *testing.T) {
	if got := Forward(Revision(8), 10, 9); got != 9 {
		t.Fatalf("got %d, want 9", got)
	}
}
