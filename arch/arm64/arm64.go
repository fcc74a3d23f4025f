// Package arm64 implements the AArch64 architecture adapter. Traps are the
// fixed-width BRK #0 instruction; breakpoint removal restores the literal
// captured instruction bytes. The architecture offers no software
// single-step path, so stepping reports unsupported.
package arm64

import (
	"encoding/binary"

	"github.com/wnxd/gdbstub/arch"
)

// BRK #0
const TrapInstruction = 0xD4200000

const trapSize = 4

type registerFile struct {
	X0, X1, X2, X3, X4, X5, X6, X7          uint64
	X8, X9, X10, X11, X12, X13, X14, X15    uint64
	X16, X17, X18, X19, X20, X21, X22, X23  uint64
	X24, X25, X26, X27, X28, X29, X30       uint64
	Sp, Pc                                  uint64
	Cpsr                                    uint32
}

type arm64 struct {
	arch.RegisterSet
}

var _ = arch.Register(arch.ARM64, New)

func New() arch.Adapter {
	set, err := arch.NewRegisterSet(&registerFile{})
	if err != nil {
		panic(err)
	}
	return &arm64{RegisterSet: set}
}

func (a *arm64) Name() string {
	return "aarch64"
}

func (a *arm64) ReadRegisters(ctx arch.Context) ([]byte, error) {
	var file registerFile
	return a.Capture(ctx, &file)
}

func (a *arm64) WriteRegisters(ctx arch.Context, data []byte) error {
	var file registerFile
	return a.Restore(ctx, &file, data)
}

func (a *arm64) SetBreakpoint(mem arch.Memory, bp *arch.Breakpoint) error {
	if bp.Kind != arch.BreakSoftware {
		return arch.ErrBreakpointKind
	}
	orig := make([]byte, trapSize)
	if err := mem.ReadAt(bp.Addr, orig); err != nil {
		return err
	}
	var trap [trapSize]byte
	binary.LittleEndian.PutUint32(trap[:], TrapInstruction)
	if err := mem.WriteAt(bp.Addr, trap[:]); err != nil {
		return err
	}
	bp.Original = orig
	bp.Enabled = true
	return nil
}

func (a *arm64) ClearBreakpoint(mem arch.Memory, bp *arch.Breakpoint) error {
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

func (a *arm64) IsTrapInstruction(mem arch.Memory, addr uint64) bool {
	var insn [trapSize]byte
	if err := mem.ReadAt(addr, insn[:]); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(insn[:]) == TrapInstruction
}

func (a *arm64) SingleStep(ctx arch.Context) error {
	return arch.ErrSingleStepUnsupported
}

func (a *arm64) TargetXML() string {
	return `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target version="1.0">
  <architecture>aarch64</architecture>
  <feature name="org.gnu.gdb.aarch64.core">
    <reg name="x0" bitsize="64" type="int64"/>
    <reg name="x1" bitsize="64" type="int64"/>
    <reg name="x2" bitsize="64" type="int64"/>
    <reg name="x3" bitsize="64" type="int64"/>
    <reg name="x4" bitsize="64" type="int64"/>
    <reg name="x5" bitsize="64" type="int64"/>
    <reg name="x6" bitsize="64" type="int64"/>
    <reg name="x7" bitsize="64" type="int64"/>
    <reg name="x8" bitsize="64" type="int64"/>
    <reg name="x9" bitsize="64" type="int64"/>
    <reg name="x10" bitsize="64" type="int64"/>
    <reg name="x11" bitsize="64" type="int64"/>
    <reg name="x12" bitsize="64" type="int64"/>
    <reg name="x13" bitsize="64" type="int64"/>
    <reg name="x14" bitsize="64" type="int64"/>
    <reg name="x15" bitsize="64" type="int64"/>
    <reg name="x16" bitsize="64" type="int64"/>
    <reg name="x17" bitsize="64" type="int64"/>
    <reg name="x18" bitsize="64" type="int64"/>
    <reg name="x19" bitsize="64" type="int64"/>
    <reg name="x20" bitsize="64" type="int64"/>
    <reg name="x21" bitsize="64" type="int64"/>
    <reg name="x22" bitsize="64" type="int64"/>
    <reg name="x23" bitsize="64" type="int64"/>
    <reg name="x24" bitsize="64" type="int64"/>
    <reg name="x25" bitsize="64" type="int64"/>
    <reg name="x26" bitsize="64" type="int64"/>
    <reg name="x27" bitsize="64" type="int64"/>
    <reg name="x28" bitsize="64" type="int64"/>
    <reg name="x29" bitsize="64" type="int64"/>
    <reg name="x30" bitsize="64" type="int64"/>
    <reg name="sp" bitsize="64" type="data_ptr"/>
    <reg name="pc" bitsize="64" type="code_ptr"/>
    <reg name="cpsr" bitsize="32" type="int32"/>
  </feature>
</target>`
}
