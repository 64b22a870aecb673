package regxfer

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/vgstub/vgregs/pkg/proc/guest"
)

// x86asm numbers general purpose registers in the same order within each
// width group, this is that order.
var gprOrder = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// Get returns the value of reg, a general purpose register of any width or
// the instruction pointer, in the real view of tid.
func (e *Engine) Get(tid guest.ThreadID, reg x86asm.Reg) (uint64, error) {
	const (
		mask8  = 0xff
		mask16 = 0xffff
		mask32 = 0xffffffff
	)

	s := e.state("get", tid, guest.Real)
	gpr := func(i int) uint64 {
		return *gprFields[gprOrder[i]](s)
	}

	switch {
	case reg >= x86asm.AH && reg <= x86asm.BH:
		// Legacy high byte registers of rax, rcx, rdx and rbx.
		return (gpr(int(reg-x86asm.AH)) >> 8) & mask8, nil
	case reg >= x86asm.AL && reg <= x86asm.BL:
		return gpr(int(reg-x86asm.AL)) & mask8, nil
	case reg >= x86asm.SPB && reg <= x86asm.R15B:
		// SPB comes after the high byte registers.
		return gpr(int(reg-x86asm.SPB)+4) & mask8, nil
	case reg >= x86asm.AX && reg <= x86asm.R15W:
		return gpr(int(reg-x86asm.AX)) & mask16, nil
	case reg >= x86asm.EAX && reg <= x86asm.R15L:
		return gpr(int(reg-x86asm.EAX)) & mask32, nil
	case reg >= x86asm.RAX && reg <= x86asm.R15:
		return gpr(int(reg - x86asm.RAX)), nil
	case reg == x86asm.IP:
		return s.RIP & mask16, nil
	case reg == x86asm.EIP:
		return s.RIP & mask32, nil
	case reg == x86asm.RIP:
		return s.RIP, nil
	}

	return 0, fmt.Errorf("unknown register %v", reg)
}
