package fixedpoint

import (
	"math"
	"testing"
)

func TestMulDivTruncation(t *testing.T) {
	cases := []struct {
		a, b, den int64
		want      int64
	}{
		{100, 550, BpsDenom, 5},
		{-100, 550, BpsDenom, -5},
		{1_000_000, 1_000_000, Scale, 1_000_000},
		{7, 3, 2, 10},
		{-7, 3, 2, -10},
		{0, 12345, 7, 0},
	}
	for _, c := range cases {
		got, err := MulDiv(c.a, c.b, c.den)
		if err != nil {
			t.Fatalf("MulDiv(%d,%d,%d): %v", c.a, c.b, c.den, err)
		}
		if got != c.want {
			t.Fatalf("MulDiv(%d,%d,%d) = %d, want %d", c.a, c.b, c.den, got, c.want)
		}
	}
}

func TestMulDivOverflow(t *testing.T) {
	if _, err := MulDiv(math.MaxInt64, math.MaxInt64, 1); err != ErrOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := MulDiv(1, 1, 0); err != ErrOverflow {
		t.Fatalf("zero denominator must fail, got %v", err)
	}
	if _, err := MulDiv(1, 1, -5); err != ErrOverflow {
		t.Fatalf("negative denominator must fail, got %v", err)
	}
}

func TestMulDivLargeIntermediate(t *testing.T) {
	// 1e13 * 10_000 overflows int64 in the naive form but not the result.
	got, err := MulDiv(10_000_000_000_000, BpsDenom, BpsDenom)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10_000_000_000_000 {
		t.Fatalf("got %d", got)
	}
}

func TestAddSubChecked(t *testing.T) {
	if _, err := Add(math.MaxInt64, 1); err != ErrOverflow {
		t.Fatal("Add must detect overflow")
	}
	if _, err := Sub(math.MinInt64, 1); err != ErrOverflow {
		t.Fatal("Sub must detect overflow")
	}
	if v, err := Add(40, 2); err != nil || v != 42 {
		t.Fatalf("Add(40,2) = %d, %v", v, err)
	}
}

func TestRelDiffBps(t *testing.T) {
	cases := []struct {
		current, reference int64
		want               uint16
	}{
		{103_000_000, 100_000_000, 300}, // drift example from the hedge gate
		{100_000_000, 100_000_000, 0},
		{97_000_000, 100_000_000, 300},
		{0, 100_000_000, 0},
		{100_000_000, 0, MaxVolBps},
		{300_000_000, 100_000_000, MaxVolBps}, // capped
	}
	for _, c := range cases {
		if got := RelDiffBps(c.current, c.reference); got != c.want {
			t.Fatalf("RelDiffBps(%d,%d) = %d, want %d", c.current, c.reference, got, c.want)
		}
	}
}

func TestSqrt(t *testing.T) {
	cases := []struct{ n, want uint64 }{
		{0, 0}, {1, 1}, {3, 1}, {4, 2}, {99, 9}, {100, 10},
		{10_000_000_000_000_000, 100_000_000},
	}
	for _, c := range cases {
		if got := Sqrt(c.n); got != c.want {
			t.Fatalf("Sqrt(%d) = %d, want %d", c.n, got, c.want)
		}
	}
	for n := uint64(0); n < 5000; n++ {
		r := Sqrt(n)
		if r*r > n || (r+1)*(r+1) <= n {
			t.Fatalf("Sqrt(%d) = %d out of bounds", n, r)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]int32{5, 1, 3}); got != 3 {
		t.Fatalf("odd median = %d", got)
	}
	if got := Median([]int32{4, 1, 3, 2}); got != 2 {
		t.Fatalf("even median = %d, want 2", got)
	}
	if got := Median([]int32{-10, 10}); got != 0 {
		t.Fatalf("centered median = %d, want 0", got)
	}
	in := []int32{9, 7, 8}
	_ = Median(in)
	if in[0] != 9 || in[1] != 7 || in[2] != 8 {
		t.Fatal("Median must not mutate its input")
	}
}

func TestSaturatingCounters(t *testing.T) {
	if got := SatAddU32(math.MaxUint32, 1); got != math.MaxUint32 {
		t.Fatalf("SatAddU32 = %d", got)
	}
	if got := SatAddU32(41, 1); got != 42 {
		t.Fatalf("SatAddU32 = %d", got)
	}
}
