package returns

import "testing"

func TestRecordBootstrap(t *testing.T) {
	s := NewSeries(10)
	if _, ok := s.Record(100, 100_000_000); ok {
		t.Fatal("first call must only store the baseline")
	}
	if s.NonZero() != 0 {
		t.Fatal("baseline must not count as a sample")
	}

	sample, ok := s.Record(110, 101_000_000)
	if !ok {
		t.Fatal("second spaced call must emit a sample")
	}
	// (101-100)/100 = 1% = 10_000 fp.
	if sample.Return != 10_000 {
		t.Fatalf("return = %d, want 10000", sample.Return)
	}
	if s.NonZero() != 1 {
		t.Fatalf("nonzero = %d", s.NonZero())
	}
}

func TestRecordSpacingGate(t *testing.T) {
	s := NewSeries(10)
	s.Record(100, 100_000_000)

	if _, ok := s.Record(105, 200_000_000); ok {
		t.Fatal("call inside the spacing window must be a no-op")
	}
	if s.NonZero() != 0 {
		t.Fatal("gated call must not touch the ring")
	}

	// The gated call must not advance the baseline either: the next
	// spaced sample is measured against the original price.
	sample, ok := s.Record(110, 110_000_000)
	if !ok {
		t.Fatal("expected sample")
	}
	if sample.Return != 100_000 { // +10%
		t.Fatalf("return = %d, want 100000", sample.Return)
	}
}

func TestRecordClamp(t *testing.T) {
	s := NewSeries(1)
	s.Record(1, 100_000_000)

	up, _ := s.Record(2, 200_000_000) // +100%, clamps to +25%
	if up.Return != MaxReturnAbs {
		t.Fatalf("up clamp = %d", up.Return)
	}
	down, _ := s.Record(3, 1_000_000) // -99.5%, clamps to -25%
	if down.Return != -MaxReturnAbs {
		t.Fatalf("down clamp = %d", down.Return)
	}
}

func TestNonZeroCounterMatchesScan(t *testing.T) {
	s := NewSeries(1)
	prices := []int64{
		100_000_000, 101_000_000, 101_000_000, 99_000_000, 99_000_000,
		120_000_000, 120_000_000, 80_000_000, 80_000_000, 80_000_000,
	}
	tick := int64(1)
	for i := 0; i < 12; i++ { // wraps the ring more than three times
		for _, p := range prices {
			s.Record(tick, p)
			tick++
		}
	}

	var scan uint16
	for _, r := range s.Ring() {
		if r != 0 {
			scan++
		}
	}
	if s.NonZero() != scan {
		t.Fatalf("counter %d != scan %d", s.NonZero(), scan)
	}
}

func TestRingWrapOverwritesOldest(t *testing.T) {
	s := NewSeries(1)
	s.Record(0, 100_000_000)
	tick := int64(1)
	price := int64(100_000_000)
	for i := 0; i < Capacity+5; i++ {
		if i%2 == 0 {
			price += 1_000_000
		} else {
			price -= 1_000_000
		}
		if _, ok := s.Record(tick, price); !ok {
			t.Fatalf("sample %d gated unexpectedly", i)
		}
		tick++
	}
	if s.NonZero() != Capacity {
		t.Fatalf("full alternating ring should be saturated, got %d", s.NonZero())
	}
}
