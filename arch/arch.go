// Package arch defines the capability interface between the protocol engine
// and a target instruction set: register layout and marshaling, trap
// instruction handling, and single-step control. Implementations register a
// constructor for their ID and are selected at construction time.
package arch

import "errors"

type ID int

const (
	Unknown ID = iota
	X86_64
	ARM64
)

var (
	ErrArchUnsupported       = errors.New("architecture unsupported")
	ErrRegisterIndex         = errors.New("register index out of range")
	ErrRegisterSize          = errors.New("register data size mismatch")
	ErrBreakpointKind        = errors.New("breakpoint kind unsupported")
	ErrSingleStepUnsupported = errors.New("single step unsupported")
)

// RegisterInfo describes one register of the fixed-layout register block.
// The enumeration order is the wire order of the whole-block encoding.
type RegisterInfo struct {
	Name   string
	Size   int
	Offset int
}

type BreakpointKind int

const (
	BreakSoftware BreakpointKind = iota
	BreakHardware
	WatchWrite
	WatchRead
	WatchAccess
)

// Breakpoint is owned by the engine's breakpoint table. For an enabled
// software breakpoint, Original holds the literal bytes that were at Addr
// before the trap instruction was written; removal restores exactly those
// bytes.
type Breakpoint struct {
	Kind     BreakpointKind
	Addr     uint64
	Length   int
	Original []byte
	Enabled  bool
}

// Memory is the raw byte-access primitive adapters patch trap instructions
// through. Bounds and permission validation is the provider's concern.
type Memory interface {
	ReadAt(addr uint64, p []byte) error
	WriteAt(addr uint64, p []byte) error
}

// Adapter is implemented once per instruction set.
type Adapter interface {
	Name() string
	Registers() []RegisterInfo
	RegisterBlockSize() int

	ReadRegisters(ctx Context) ([]byte, error)
	WriteRegisters(ctx Context, data []byte) error
	ReadRegister(ctx Context, index int) ([]byte, error)
	WriteRegister(ctx Context, index int, data []byte) error

	SetBreakpoint(mem Memory, bp *Breakpoint) error
	ClearBreakpoint(mem Memory, bp *Breakpoint) error
	IsTrapInstruction(mem Memory, addr uint64) bool

	SingleStep(ctx Context) error
	TargetXML() string
}

type Ctor func() Adapter

var archMap = make(map[ID]Ctor)

func Register(id ID, ctor Ctor) bool {
	if _, ok := archMap[id]; ok {
		return false
	}
	archMap[id] = ctor
	return true
}

func New(id ID) (Adapter, error) {
	if ctor, ok := archMap[id]; ok {
		return ctor(), nil
	}
	return nil, ErrArchUnsupported
}
