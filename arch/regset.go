package arch

import (
	"encoding/binary"
	"reflect"

	"github.com/wnxd/gdbstub/encoding"
)

// RegisterSet carries the descriptor table shared by adapter
// implementations. The table is derived from the adapter's register-file
// struct, so descriptor order, sizes and offsets always agree with the
// packed wire encoding of that struct.
type RegisterSet struct {
	regs []RegisterInfo
	size int
}

func NewRegisterSet(file any) (RegisterSet, error) {
	fields, err := encoding.Fields(file)
	if err != nil {
		return RegisterSet{}, err
	}
	set := RegisterSet{regs: make([]RegisterInfo, len(fields))}
	for i, f := range fields {
		set.regs[i] = RegisterInfo{Name: f.Name, Size: f.Size, Offset: f.Offset}
		set.size += f.Size
	}
	return set, nil
}

func (s *RegisterSet) Registers() []RegisterInfo {
	return s.regs
}

func (s *RegisterSet) RegisterBlockSize() int {
	return s.size
}

// Capture reads every register through ctx into the register-file struct,
// one field per descriptor in order, and returns the packed block.
func (s *RegisterSet) Capture(ctx Context, file any) ([]byte, error) {
	rv := reflect.ValueOf(file).Elem()
	for i, reg := range s.regs {
		v, err := ctx.RegRead(i)
		if err != nil {
			return nil, err
		}
		rv.Field(i).SetUint(v & mask(reg.Size))
	}
	return encoding.Marshal(file)
}

// Restore unpacks a whole register block into the register-file struct and
// writes every field back through ctx.
func (s *RegisterSet) Restore(ctx Context, file any, data []byte) error {
	if len(data) != s.size {
		return ErrRegisterSize
	}
	if err := encoding.Unmarshal(data, file); err != nil {
		return err
	}
	rv := reflect.ValueOf(file).Elem()
	for i := range s.regs {
		if err := ctx.RegWrite(i, rv.Field(i).Uint()); err != nil {
			return err
		}
	}
	return nil
}

func (s *RegisterSet) ReadRegister(ctx Context, index int) ([]byte, error) {
	if index < 0 || index >= len(s.regs) {
		return nil, ErrRegisterIndex
	}
	v, err := ctx.RegRead(index)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf[:s.regs[index].Size], nil
}

func (s *RegisterSet) WriteRegister(ctx Context, index int, data []byte) error {
	if index < 0 || index >= len(s.regs) {
		return ErrRegisterIndex
	}
	if len(data) != s.regs[index].Size {
		return ErrRegisterSize
	}
	buf := make([]byte, 8)
	copy(buf, data)
	return ctx.RegWrite(index, binary.LittleEndian.Uint64(buf))
}

func mask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*size) - 1
}
