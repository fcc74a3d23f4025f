package arm64

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/wnxd/gdbstub/arch"
)

type sliceMemory struct {
	data []byte
}

func (m *sliceMemory) ReadAt(addr uint64, p []byte) error {
	if int(addr)+len(p) > len(m.data) {
		return errors.New("out of range")
	}
	copy(p, m.data[addr:])
	return nil
}

func (m *sliceMemory) WriteAt(addr uint64, p []byte) error {
	if int(addr)+len(p) > len(m.data) {
		return errors.New("out of range")
	}
	copy(m.data[addr:], p)
	return nil
}

func TestRegisterBlockSize(t *testing.T) {
	a := New()
	// 31 general registers, sp, pc, and 32-bit cpsr.
	if got := a.RegisterBlockSize(); got != 268 {
		t.Errorf("block size = %d, want 268", got)
	}
	if got := len(a.Registers()); got != 34 {
		t.Errorf("register count = %d, want 34", got)
	}
}

func TestRegisterDescriptors(t *testing.T) {
	regs := New().Registers()
	if regs[0].Name != "x0" || regs[0].Size != 8 {
		t.Errorf("x0 descriptor = %+v", regs[0])
	}
	if regs[32].Name != "pc" || regs[32].Offset != 256 {
		t.Errorf("pc descriptor = %+v", regs[32])
	}
	if regs[33].Name != "cpsr" || regs[33].Size != 4 {
		t.Errorf("cpsr descriptor = %+v", regs[33])
	}
}

func TestRegisterBlockRoundTrip(t *testing.T) {
	a := New()
	ctx := arch.NewFile()
	ctx.RegWrite(0, 0xcafef00d)  // x0
	ctx.RegWrite(32, 0x40080000) // pc
	ctx.RegWrite(33, 0x60000000) // cpsr

	block, err := a.ReadRegisters(ctx)
	if err != nil {
		t.Fatalf("ReadRegisters: %v", err)
	}
	other := arch.NewFile()
	if err := a.WriteRegisters(other, block); err != nil {
		t.Fatalf("WriteRegisters: %v", err)
	}
	for _, index := range []int{0, 32, 33} {
		want, _ := ctx.RegRead(index)
		got, _ := other.RegRead(index)
		if got != want {
			t.Errorf("register %d = %#x, want %#x", index, got, want)
		}
	}
}

func TestBreakpointRestoresCapturedBytes(t *testing.T) {
	a := New()
	// A 4-byte instruction followed by unrelated memory.
	original := []byte{0xfd, 0x7b, 0xbf, 0xa9, 0x11, 0x22, 0x33, 0x44}
	mem := &sliceMemory{data: append([]byte(nil), original...)}
	bp := &arch.Breakpoint{Kind: arch.BreakSoftware, Addr: 0, Length: 4}

	if err := a.SetBreakpoint(mem, bp); err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}
	if got := binary.LittleEndian.Uint32(mem.data); got != TrapInstruction {
		t.Errorf("trap word = %#x", got)
	}
	if !a.IsTrapInstruction(mem, 0) {
		t.Error("planted trap not recognized")
	}

	// Removal puts back the exact captured bytes, not a recomputed value.
	if !bytes.Equal(bp.Original, original[:4]) {
		t.Fatalf("captured %x, want %x", bp.Original, original[:4])
	}
	if err := a.ClearBreakpoint(mem, bp); err != nil {
		t.Fatalf("ClearBreakpoint: %v", err)
	}
	if !bytes.Equal(mem.data, original) {
		t.Errorf("memory after clear = %x, want %x", mem.data, original)
	}
}

func TestSingleStepUnsupported(t *testing.T) {
	a := New()
	err := a.SingleStep(arch.NewFile())
	if !errors.Is(err, arch.ErrSingleStepUnsupported) {
		t.Fatalf("err = %v, want ErrSingleStepUnsupported", err)
	}
}

func TestIsTrapInstructionShortRead(t *testing.T) {
	a := New()
	mem := &sliceMemory{data: []byte{0x00, 0x00}}
	if a.IsTrapInstruction(mem, 0) {
		t.Error("short read must not report a trap")
	}
}
