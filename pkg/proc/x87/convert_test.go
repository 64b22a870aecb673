package x87

import (
	"math"
	"math/rand"
	"testing"
)

func TestWidenKnownValues(t *testing.T) {
	testCases := []struct {
		f        float64
		signExp  uint16
		mantissa uint64
	}{
		{1.0, 0x3fff, 0x8000000000000000},
		{-2.0, 0xc000, 0x8000000000000000},
		{0.5, 0x3ffe, 0x8000000000000000},
		{3.0, 0x4000, 0xc000000000000000},
		{math.Inf(1), 0x7fff, 0x8000000000000000},
		{math.Inf(-1), 0xffff, 0x8000000000000000},
		{0, 0, 0},
		{math.Copysign(0, -1), 0x8000, 0},
		// smallest double denormal, 2^-1074
		{math.Float64frombits(1), 0x3bcd, 0x8000000000000000},
		// largest double
		{math.MaxFloat64, 0x43fe, 0xfffffffffffff800},
	}
	for _, tc := range testCases {
		x := FromFloat64(tc.f)
		if x.SignExp != tc.signExp || x.Mantissa != tc.mantissa {
			t.Errorf("FromFloat64(%g) = %#04x %#016x, expected %#04x %#016x", tc.f, x.SignExp, x.Mantissa, tc.signExp, tc.mantissa)
		}
	}
}

func TestNaNs(t *testing.T) {
	qnan := FromFloat64Bits(0x7ff8000000000001)
	if qnan.SignExp != 0x7fff || qnan.Mantissa != 0xffffffffffffffff {
		t.Errorf("quiet NaN widened to %#04x %#016x", qnan.SignExp, qnan.Mantissa)
	}
	snan := FromFloat64Bits(0xfff0000000000001)
	if snan.SignExp != 0xffff || snan.Mantissa != 0xbfffffffffffffff {
		t.Errorf("signaling NaN widened to %#04x %#016x", snan.SignExp, snan.Mantissa)
	}
	if b := qnan.Float64Bits(); b != 0x7fffffffffffffff {
		t.Errorf("quiet NaN narrowed to %#016x", b)
	}
	if b := snan.Float64Bits(); b != 0xfff7ffffffffffff {
		t.Errorf("signaling NaN narrowed to %#016x", b)
	}
	// the payload is dropped
	for _, f := range []uint64{0x7ff8000000000000, 0x7fffffffffffffff, 0x7ffc000000000123} {
		if x := FromFloat64Bits(f); x.Mantissa != 0xffffffffffffffff {
			t.Errorf("quiet NaN %#016x widened to %#016x", f, x.Mantissa)
		}
	}
	neg := FromFloat64Bits(0xfff8000000000000)
	if neg.SignExp != 0xffff || neg.Mantissa != 0xffffffffffffffff {
		t.Errorf("negative quiet NaN widened to %#04x %#016x", neg.SignExp, neg.Mantissa)
	}
	if b := neg.Float64Bits(); b != 0xffffffffffffffff {
		t.Errorf("negative quiet NaN narrowed to %#016x", b)
	}
	// pseudo-infinity and unnormals are invalid operands
	for _, x := range []Extended{{0x7fff, 0}, {0x3fff, 0x4000000000000000}} {
		if b := x.Float64Bits(); b != 0x7fffffffffffffff {
			t.Errorf("%#04x %#016x narrowed to %#016x", x.SignExp, x.Mantissa, b)
		}
	}
}

func roundTrip(t *testing.T, f uint64) {
	t.Helper()
	var f64, f80, back [Size]byte
	for i := 0; i < 8; i++ {
		f64[i] = byte(f >> (8 * i))
	}
	F64ToF80(f64[:], f80[:])
	F80ToF64(f80[:], back[:])
	if back != f64 {
		t.Fatalf("round trip of %#016x: got % x, expected % x", f, back[:8], f64[:8])
	}
}

func TestRoundTrip(t *testing.T) {
	special := []uint64{
		0, 1 << 63, // zeros
		1, 0x000fffffffffffff, 0x8000000000000001, // denormals
		0x0010000000000000,                     // smallest normal
		0x3ff0000000000000, 0x3ff0000000000001, // 1 and next
		0x7fefffffffffffff,                     // largest
		0x7ff0000000000000, 0xfff0000000000000, // infinities
		0x7fffffffffffffff, 0x7ff7ffffffffffff, // default NaNs
		0xffffffffffffffff, 0xfff7ffffffffffff,
	}
	for _, f := range special {
		roundTrip(t, f)
	}
	rng := rand.New(rand.NewSource(0x87))
	for i := 0; i < 10000; i++ {
		f := rng.Uint64()
		if math.IsNaN(math.Float64frombits(f)) {
			continue
		}
		roundTrip(t, f)
	}
}

func TestNarrowRounding(t *testing.T) {
	one := Extended{0x3fff, 0x8000000000000000}
	testCases := []struct {
		name string
		x    Extended
		f    uint64
	}{
		{"below half", Extended{0x3fff, one.Mantissa | 0x3ff}, 0x3ff0000000000000},
		{"tie to even, down", Extended{0x3fff, one.Mantissa | 0x400}, 0x3ff0000000000000},
		{"above half", Extended{0x3fff, one.Mantissa | 0x401}, 0x3ff0000000000001},
		{"tie to even, up", Extended{0x3fff, one.Mantissa | 0xc00}, 0x3ff0000000000002},
		{"carry into exponent", Extended{0x3fff, 0xffffffffffffffff}, 0x4000000000000000},
		{"overflow", Extended{0x43fe, 0xffffffffffffffff}, 0x7ff0000000000000},
		{"too large", Extended{0x4400, 0x8000000000000000}, 0x7ff0000000000000},
		{"deep underflow", Extended{0x0001, 0x8000000000000000}, 0},
		{"negative underflow", Extended{0x8001, 0x8000000000000000}, 1 << 63},
		{"half of smallest denormal", Extended{0x3bcc, 0x8000000000000000}, 0},
		{"above half of smallest denormal", Extended{0x3bcc, 0x8000000000000001}, 1},
		{"extended denormal", Extended{0, 0x0000000000000001}, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			first := tc.x.Float64Bits()
			if first != tc.f {
				t.Errorf("got %#016x, expected %#016x", first, tc.f)
			}
			if again := tc.x.Float64Bits(); again != first {
				t.Errorf("narrowing not deterministic: %#016x then %#016x", first, again)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	x := FromFloat64(-1.5)
	b := x.Bytes()
	want := [Size]byte{0, 0, 0, 0, 0, 0, 0, 0xc0, 0xff, 0xbf}
	if b != want {
		t.Fatalf("got % x, expected % x", b, want)
	}
	if Decode(b[:]) != x {
		t.Fatalf("decode mismatch")
	}
	if f := Decode(b[:]).Float64(); f != -1.5 {
		t.Fatalf("got %g", f)
	}
}
