// Package x87 converts between the 80-bit extended precision format used
// by the x87 data registers and the 64-bit double precision format the
// guest state stores them in.
//
// Both directions work on little endian byte images. Widening is exact.
// Narrowing rounds the 64-bit significand to the 52 bits a double keeps,
// to nearest with ties to even, so it is lossy but deterministic.
// NaN payloads are not preserved: every quiet NaN becomes the default quiet
// NaN and every signaling NaN the default signaling NaN of the target
// format.
package x87

import (
	"encoding/binary"
	"math"
)

// Size is the size in bytes of an extended precision value.
const Size = 10

const (
	signBit80  = 1 << 15
	expMask80  = 1<<15 - 1
	bias80     = 1<<14 - 1 // 16383
	intBit     = 1 << 63
	quietBit80 = 1 << 62

	expMask64  = 1<<11 - 1
	bias64     = 1<<10 - 1 // 1023
	fracBits64 = 52
	fracMask64 = 1<<fracBits64 - 1
	quietBit64 = 1 << 51
)

// Extended is an unpacked extended precision value.
type Extended struct {
	// SignExp holds the sign in bit 15 and the biased exponent in bits 0-14.
	SignExp uint16
	// Mantissa has an explicit integer bit in bit 63.
	Mantissa uint64
}

// Decode reads an extended precision value from the first 10 bytes of b.
func Decode(b []byte) Extended {
	_ = b[Size-1]
	return Extended{
		Mantissa: binary.LittleEndian.Uint64(b[0:8]),
		SignExp:  binary.LittleEndian.Uint16(b[8:10]),
	}
}

// Encode writes x to the first 10 bytes of b.
func (x Extended) Encode(b []byte) {
	_ = b[Size-1]
	binary.LittleEndian.PutUint64(b[0:8], x.Mantissa)
	binary.LittleEndian.PutUint16(b[8:10], x.SignExp)
}

// Bytes returns the 10 byte little endian image of x.
func (x Extended) Bytes() [Size]byte {
	var b [Size]byte
	x.Encode(b[:])
	return b
}

// FromFloat64Bits widens the IEEE-754 double whose bits are f.
func FromFloat64Bits(f uint64) Extended {
	sign := uint16(f>>63) << 15
	exp := int(f>>fracBits64) & expMask64
	frac := f & fracMask64

	switch exp {
	case 0:
		if frac == 0 {
			return Extended{SignExp: sign}
		}
		// Denormal, normalise it. The extended format has enough exponent
		// range to represent every double denormal as a normal number.
		e := 1 - bias64 + bias80
		for frac&(1<<fracBits64) == 0 {
			frac <<= 1
			e--
		}
		return Extended{SignExp: sign | uint16(e), Mantissa: frac << 11}
	case expMask64:
		if frac == 0 {
			return Extended{SignExp: sign | expMask80, Mantissa: intBit}
		}
		// The payload is not kept, every NaN widens to the quiet or the
		// signalling NaN with all fraction bits set.
		if frac&quietBit64 != 0 {
			return Extended{SignExp: sign | expMask80, Mantissa: ^uint64(0)}
		}
		return Extended{SignExp: sign | expMask80, Mantissa: intBit | (quietBit80 - 1)}
	}
	return Extended{
		SignExp:  sign | uint16(exp-bias64+bias80),
		Mantissa: intBit | frac<<11,
	}
}

// FromFloat64 widens f.
func FromFloat64(f float64) Extended {
	return FromFloat64Bits(math.Float64bits(f))
}

const (
	qnan64 = uint64(expMask64)<<fracBits64 | fracMask64
	snan64 = uint64(expMask64)<<fracBits64 | (quietBit64 - 1)
	inf64  = uint64(expMask64) << fracBits64
)

// Float64Bits narrows x to the bits of an IEEE-754 double.
func (x Extended) Float64Bits() uint64 {
	sign := uint64(x.SignExp&signBit80) << 48
	exp := int(x.SignExp & expMask80)
	mant := x.Mantissa

	switch {
	case exp == 0:
		// Zero or extended denormal, both far below the double range.
		return sign
	case exp == expMask80:
		if mant&^intBit == 0 {
			if mant&intBit == 0 {
				// Pseudo-infinity.
				return sign | qnan64
			}
			return sign | inf64
		}
		if mant&quietBit80 != 0 {
			return sign | qnan64
		}
		return sign | snan64
	case mant&intBit == 0:
		// Unnormal, an invalid operand.
		return sign | qnan64
	}

	e := exp - bias80 + bias64
	if e >= expMask64 {
		return sign | inf64
	}
	if e > 0 {
		// Normal result: drop the integer bit and 11 low bits.
		r := roundShift(mant, 11)
		if r>>53 != 0 {
			// Rounding overflowed into the next binade.
			r >>= 1
			e++
			if e >= expMask64 {
				return sign | inf64
			}
		}
		return sign | uint64(e)<<fracBits64 | r&fracMask64
	}
	// Denormal result, a double denormal is frac * 2^-1074.
	shift := uint(12 - e)
	if shift > 64 {
		return sign
	}
	// A result rounded up to 1<<52 lands on the smallest normal, which the
	// plain OR below encodes correctly.
	return sign | roundShift(mant, shift)
}

// Float64 narrows x to a double.
func (x Extended) Float64() float64 {
	return math.Float64frombits(x.Float64Bits())
}

// roundShift returns v >> n rounded to nearest, ties to even. n is between
// 1 and 64.
func roundShift(v uint64, n uint) uint64 {
	var q, rem, half uint64
	if n == 64 {
		q, rem, half = 0, v, intBit
	} else {
		q = v >> n
		rem = v & (1<<n - 1)
		half = 1 << (n - 1)
	}
	if rem > half || (rem == half && q&1 != 0) {
		q++
	}
	return q
}

// F64ToF80 converts the 8 byte little endian double in f64 into the 10
// byte extended value written to f80.
func F64ToF80(f64, f80 []byte) {
	FromFloat64Bits(binary.LittleEndian.Uint64(f64[:8])).Encode(f80)
}

// F80ToF64 converts the 10 byte extended value in f80 into the 8 byte
// little endian double written to f64.
func F80ToF64(f80, f64 []byte) {
	binary.LittleEndian.PutUint64(f64[:8], Decode(f80).Float64Bits())
}
