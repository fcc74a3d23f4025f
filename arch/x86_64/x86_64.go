// Package x86_64 implements the x86-64 architecture adapter: single-byte
// INT3 traps and TF-driven single stepping.
package x86_64

import (
	"github.com/wnxd/gdbstub/arch"
)

// INT3
const TrapInstruction = 0xCC

// TF bit in eflags
const trapFlag = 0x100

const regEflags = 17

// registerFile declares the wire layout of the register block. Field order
// is descriptor order; eflags and the segment registers travel as 32-bit
// values.
type registerFile struct {
	Rax, Rbx, Rcx, Rdx, Rsi, Rdi, Rbp, Rsp uint64
	R8, R9, R10, R11, R12, R13, R14, R15   uint64
	Rip                                    uint64
	Eflags                                 uint32
	Cs, Ss, Ds, Es, Fs, Gs                 uint32
}

type x8664 struct {
	arch.RegisterSet
}

var _ = arch.Register(arch.X86_64, New)

func New() arch.Adapter {
	set, err := arch.NewRegisterSet(&registerFile{})
	if err != nil {
		panic(err)
	}
	return &x8664{RegisterSet: set}
}

func (a *x8664) Name() string {
	return "i386:x86-64"
}

func (a *x8664) ReadRegisters(ctx arch.Context) ([]byte, error) {
	var file registerFile
	return a.Capture(ctx, &file)
}

func (a *x8664) WriteRegisters(ctx arch.Context, data []byte) error {
	var file registerFile
	return a.Restore(ctx, &file, data)
}

func (a *x8664) SetBreakpoint(mem arch.Memory, bp *arch.Breakpoint) error {
	if bp.Kind != arch.BreakSoftware {
		return arch.ErrBreakpointKind
	}
	var orig [1]byte
	if err := mem.ReadAt(bp.Addr, orig[:]); err != nil {
		return err
	}
	if err := mem.WriteAt(bp.Addr, []byte{TrapInstruction}); err != nil {
		return err
	}
	bp.Original = orig[:]
	bp.Enabled = true
	return nil
}

func (a *x8664) ClearBreakpoint(mem arch.Memory, bp *arch.Breakpoint) error {
	if bp.Kind != arch.BreakSoftware {
		return arch.ErrBreakpointKind
	}
	if !bp.Enabled {
		return nil
	}
	if err := mem.WriteAt(bp.Addr, bp.Original); err != nil {
		return err
	}
	bp.Enabled = false
	return nil
}

func (a *x8664) IsTrapInstruction(mem arch.Memory, addr uint64) bool {
	var insn [1]byte
	if err := mem.ReadAt(addr, insn[:]); err != nil {
		return false
	}
	return insn[0] == TrapInstruction
}

func (a *x8664) SingleStep(ctx arch.Context) error {
	flags, err := ctx.RegRead(regEflags)
	if err != nil {
		return err
	}
	return ctx.RegWrite(regEflags, flags|trapFlag)
}

func (a *x8664) TargetXML() string {
	return `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target version="1.0">
  <architecture>i386:x86-64</architecture>
  <feature name="org.gnu.gdb.i386.core">
    <reg name="rax" bitsize="64" type="int64"/>
    <reg name="rbx" bitsize="64" type="int64"/>
    <reg name="rcx" bitsize="64" type="int64"/>
    <reg name="rdx" bitsize="64" type="int64"/>
    <reg name="rsi" bitsize="64" type="int64"/>
    <reg name="rdi" bitsize="64" type="int64"/>
    <reg name="rbp" bitsize="64" type="data_ptr"/>
    <reg name="rsp" bitsize="64" type="data_ptr"/>
    <reg name="r8" bitsize="64" type="int64"/>
    <reg name="r9" bitsize="64" type="int64"/>
    <reg name="r10" bitsize="64" type="int64"/>
    <reg name="r11" bitsize="64" type="int64"/>
    <reg name="r12" bitsize="64" type="int64"/>
    <reg name="r13" bitsize="64" type="int64"/>
    <reg name="r14" bitsize="64" type="int64"/>
    <reg name="r15" bitsize="64" type="int64"/>
    <reg name="rip" bitsize="64" type="code_ptr"/>
    <reg name="eflags" bitsize="32" type="i386_eflags"/>
    <reg name="cs" bitsize="32" type="int32"/>
    <reg name="ss" bitsize="32" type="int32"/>
    <reg name="ds" bitsize="32" type="int32"/>
    <reg name="es" bitsize="32" type="int32"/>
    <reg name="fs" bitsize="32" type="int32"/>
    <reg name="gs" bitsize="32" type="int32"/>
  </feature>
</target>`
}
