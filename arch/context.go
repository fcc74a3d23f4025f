package arch

import "sync"

// Context exposes a thread's saved register state to an adapter, addressed
// by descriptor index in the order returned by Registers.
type Context interface {
	RegRead(index int) (uint64, error)
	RegWrite(index int, value uint64) error
}

// File is a mutex-guarded register file backing a Context, for targets that
// snapshot register state into the stub rather than exposing live hardware
// context.
type File struct {
	mu   sync.Mutex
	regs map[int]uint64
}

func NewFile() *File {
	return &File{regs: make(map[int]uint64)}
}

func (f *File) RegRead(index int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[index], nil
}

func (f *File) RegWrite(index int, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[index] = value
	return nil
}
