package guest

import (
	"math/bits"

	"github.com/vgstub/vgregs/pkg/logflags"
)

// CCOp selects how the condition code thunk of AMD64State is turned into
// flag bits. Operations come in groups of four, for 8, 16, 32 and 64-bit
// operands.
type CCOp uint64

const (
	// CCOpCopy means CCDep1 holds the flags themselves.
	CCOpCopy CCOp = iota

	CCOpAddB // CCDep1 = argL, CCDep2 = argR
	CCOpAddW
	CCOpAddL
	CCOpAddQ

	CCOpSubB // CCDep1 = argL, CCDep2 = argR
	CCOpSubW
	CCOpSubL
	CCOpSubQ

	CCOpAdcB // CCDep1 = argL, CCDep2 = argR ^ oldCarry, CCNDep = oldCarry
	CCOpAdcW
	CCOpAdcL
	CCOpAdcQ

	CCOpSbbB // CCDep1 = argL, CCDep2 = argR ^ oldCarry, CCNDep = oldCarry
	CCOpSbbW
	CCOpSbbL
	CCOpSbbQ

	CCOpLogicB // CCDep1 = result
	CCOpLogicW
	CCOpLogicL
	CCOpLogicQ

	CCOpIncB // CCDep1 = result, CCNDep = oldCarry
	CCOpIncW
	CCOpIncL
	CCOpIncQ

	CCOpDecB // CCDep1 = result, CCNDep = oldCarry
	CCOpDecW
	CCOpDecL
	CCOpDecQ

	CCOpShlB // CCDep1 = result, CCDep2 = result shifted by one less
	CCOpShlW
	CCOpShlL
	CCOpShlQ

	CCOpShrB // CCDep1 = result, CCDep2 = result shifted by one less
	CCOpShrW
	CCOpShrL
	CCOpShrQ

	CCOpRolB // CCDep1 = result, CCNDep = old flags
	CCOpRolW
	CCOpRolL
	CCOpRolQ

	CCOpRorB // CCDep1 = result, CCNDep = old flags
	CCOpRorW
	CCOpRorL
	CCOpRorQ

	CCOpUmulB // CCDep1 = argL, CCDep2 = argR
	CCOpUmulW
	CCOpUmulL
	CCOpUmulQ

	CCOpSmulB // CCDep1 = argL, CCDep2 = argR
	CCOpSmulW
	CCOpSmulL
	CCOpSmulQ

	CCOpAndnB // CCDep1 = result
	CCOpAndnW
	CCOpAndnL
	CCOpAndnQ

	CCOpBlsiB // CCDep1 = result, CCDep2 = source
	CCOpBlsiW
	CCOpBlsiL
	CCOpBlsiQ

	CCOpBlsmskB // CCDep1 = result, CCDep2 = source
	CCOpBlsmskW
	CCOpBlsmskL
	CCOpBlsmskQ

	CCOpBlsrB // CCDep1 = result, CCDep2 = source
	CCOpBlsrW
	CCOpBlsrL
	CCOpBlsrQ

	CCOpAdcxB // CCDep1 = argL, CCDep2 = argR ^ oldCarry, CCNDep = old flags
	CCOpAdcxW
	CCOpAdcxL
	CCOpAdcxQ

	CCOpAdoxB // CCDep1 = argL, CCDep2 = argR ^ oldOverflow, CCNDep = old flags
	CCOpAdoxW
	CCOpAdoxL
	CCOpAdoxQ
)

// Flag bits of RFLAGS.
const (
	FlagCF = 1 << 0
	FlagPF = 1 << 2
	FlagAF = 1 << 4
	FlagZF = 1 << 6
	FlagSF = 1 << 7
	FlagDF = 1 << 10
	FlagOF = 1 << 11
	FlagAC = 1 << 18
	FlagID = 1 << 21

	ccMask = FlagCF | FlagPF | FlagAF | FlagZF | FlagSF | FlagOF
)

// RFlags computes the RFLAGS value of s from its condition code thunk and
// the separately kept D, AC and ID flags.
func (s *AMD64State) RFlags() uint64 {
	rflags, ok := calculateFlags(s.CCOp, s.CCDep1, s.CCDep2, s.CCNDep)
	if !ok {
		logflags.TransferLogger().Warnf("unknown condition code operation %d, flags reported as clear", s.CCOp)
	}
	if s.DFlag == ^uint64(0) {
		rflags |= FlagDF
	}
	if s.IDFlag == 1 {
		rflags |= FlagID
	}
	if s.ACFlag == 1 {
		rflags |= FlagAC
	}
	return rflags
}

func calculateFlags(op CCOp, dep1, dep2, ndep uint64) (uint64, bool) {
	if op == CCOpCopy {
		return dep1 & ccMask, true
	}
	if op > CCOpAdoxQ {
		return 0, false
	}

	base := op - (op-1)%4
	width := uint(8) << ((op - 1) % 4)
	mask := ^uint64(0) >> (64 - width)
	sign := uint64(1) << (width - 1)

	var res, cf, af, of uint64
	flag := func(cond bool, bit uint64) uint64 {
		if cond {
			return bit
		}
		return 0
	}

	switch base {
	case CCOpAddB:
		argL, argR := dep1, dep2
		res = argL + argR
		cf = flag(res&mask < argL&mask, FlagCF)
		af = (res ^ argL ^ argR) & FlagAF
		of = flag((argL^argR^mask)&(argL^res)&sign != 0, FlagOF)
	case CCOpSubB:
		argL, argR := dep1, dep2
		res = argL - argR
		cf = flag(argL&mask < argR&mask, FlagCF)
		af = (res ^ argL ^ argR) & FlagAF
		of = flag((argL^argR)&(argL^res)&sign != 0, FlagOF)
	case CCOpAdcB:
		oldC := ndep & FlagCF
		argL, argR := dep1, dep2^oldC
		res = argL + argR + oldC
		if oldC != 0 {
			cf = flag(res&mask <= argL&mask, FlagCF)
		} else {
			cf = flag(res&mask < argL&mask, FlagCF)
		}
		af = (res ^ argL ^ argR) & FlagAF
		of = flag((argL^argR^mask)&(argL^res)&sign != 0, FlagOF)
	case CCOpSbbB:
		oldC := ndep & FlagCF
		argL, argR := dep1, dep2^oldC
		res = argL - argR - oldC
		if oldC != 0 {
			cf = flag(argL&mask <= argR&mask, FlagCF)
		} else {
			cf = flag(argL&mask < argR&mask, FlagCF)
		}
		af = (res ^ argL ^ argR) & FlagAF
		of = flag((argL^argR)&(argL^res)&sign != 0, FlagOF)
	case CCOpLogicB:
		res = dep1
	case CCOpIncB:
		res = dep1
		argL, argR := res-1, uint64(1)
		cf = ndep & FlagCF
		af = (res ^ argL ^ argR) & FlagAF
		of = flag(res&mask == sign, FlagOF)
	case CCOpDecB:
		res = dep1
		argL, argR := res+1, uint64(1)
		cf = ndep & FlagCF
		af = (res ^ argL ^ argR) & FlagAF
		of = flag(res&mask == sign-1, FlagOF)
	case CCOpShlB:
		res = dep1
		cf = (dep2 >> (width - 1)) & FlagCF
		of = flag((dep2^dep1)&sign != 0, FlagOF)
	case CCOpShrB:
		res = dep1
		cf = dep2 & FlagCF
		of = flag((dep2^dep1)&sign != 0, FlagOF)
	case CCOpRolB:
		cf = dep1 & FlagCF
		of = flag((dep1>>(width-1))&1 != dep1&1, FlagOF)
		return ndep&ccMask&^(FlagCF|FlagOF) | cf | of, true
	case CCOpRorB:
		cf = flag(dep1&sign != 0, FlagCF)
		of = flag((dep1>>(width-1))&1 != (dep1>>(width-2))&1, FlagOF)
		return ndep&ccMask&^(FlagCF|FlagOF) | cf | of, true
	case CCOpUmulB:
		var hi uint64
		if width == 64 {
			hi, res = bits.Mul64(dep1, dep2)
		} else {
			res = (dep1 & mask) * (dep2 & mask)
			hi = (res >> width) & mask
		}
		cf = flag(hi != 0, FlagCF)
		of = flag(hi != 0, FlagOF)
	case CCOpSmulB:
		var hi uint64
		if width == 64 {
			hi, res = bits.Mul64(dep1, dep2)
			if int64(dep1) < 0 {
				hi -= dep2
			}
			if int64(dep2) < 0 {
				hi -= dep1
			}
		} else {
			res = uint64(signExtend(dep1, width) * signExtend(dep2, width))
			hi = uint64(int64(res) >> width)
		}
		// The high half must be the sign extension of the low one.
		var ext uint64
		if res&sign != 0 {
			ext = mask
		}
		cf = flag(hi&mask != ext, FlagCF)
		of = flag(hi&mask != ext, FlagOF)
	case CCOpAndnB:
		return flag(dep1&mask == 0, FlagZF) | flag(dep1&sign != 0, FlagSF), true
	case CCOpBlsiB:
		return flag(dep2&mask != 0, FlagCF) | flag(dep1&mask == 0, FlagZF) | flag(dep1&sign != 0, FlagSF), true
	case CCOpBlsmskB:
		return flag(dep2&mask == 0, FlagCF) | flag(dep1&sign != 0, FlagSF), true
	case CCOpBlsrB:
		return flag(dep2&mask == 0, FlagCF) | flag(dep1&mask == 0, FlagZF) | flag(dep1&sign != 0, FlagSF), true
	case CCOpAdcxB, CCOpAdoxB:
		bit := uint64(FlagCF)
		if base == CCOpAdoxB {
			bit = FlagOF
		}
		var old uint64
		if ndep&bit != 0 {
			old = 1
		}
		argL, argR := dep1, dep2^old
		res = argL + argR + old
		carry := res&mask < argL&mask
		if old != 0 {
			carry = res&mask <= argL&mask
		}
		return ndep&ccMask&^bit | flag(carry, bit), true
	}

	pf := flag(bits.OnesCount8(uint8(res))%2 == 0, FlagPF)
	zf := flag(res&mask == 0, FlagZF)
	sf := flag(res&sign != 0, FlagSF)
	return cf | pf | af | zf | sf | of, true
}

// signExtend interprets the low width bits of v as a signed number.
func signExtend(v uint64, width uint) int64 {
	return int64(v<<(64-width)) >> (64 - width)
}
