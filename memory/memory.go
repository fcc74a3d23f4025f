// Package memory binds the engine's raw memory-access primitive: a flat RAM
// region for self-hosted targets, and a validation wrapper that keeps a
// hostile or buggy access from taking down the debug session.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/constraints"
)

// MaxAccess caps a single read or write. It matches the PacketSize the
// engine advertises, so no well-formed client request ever exceeds it.
const MaxAccess = 4096

const pageSize = 4096

var (
	ErrNullAddress = errors.New("memory: null address")
	ErrZeroLength  = errors.New("memory: zero length")
	ErrTooLarge    = errors.New("memory: access exceeds limit")
	ErrOutOfRange  = errors.New("memory: address out of range")
	ErrFault       = errors.New("memory: access fault")
)

// Memory is the raw byte-access primitive.
type Memory interface {
	ReadAt(addr uint64, p []byte) error
	WriteAt(addr uint64, p []byte) error
}

func Align[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

// Region describes one mapped range for the memory-map document. The
// permission flags are recorded but not yet enforced by Checked; full
// permission-aware validation against the target's real map is a known,
// required hardening step.
type Region struct {
	Start      uint64
	Length     uint64
	Readable   bool
	Writable   bool
	Executable bool
}

// MapXML renders the memory-map document served via the paged memory-map
// query.
func MapXML(regions []Region) string {
	doc := "<?xml version=\"1.0\"?>\n" +
		"<!DOCTYPE memory-map PUBLIC \"+//IDN gnu.org//DTD GDB Memory Map V1.0//EN\" \"http://sourceware.org/gdb/gdb-memory-map.dtd\">\n" +
		"<memory-map>\n"
	for _, r := range regions {
		doc += fmt.Sprintf("  <memory type=\"ram\" start=\"%#x\" length=\"%#x\"/>\n", r.Start, r.Length)
	}
	return doc + "</memory-map>"
}

// RAM is a page-aligned flat region backed by a byte slice.
type RAM struct {
	base uint64

	mu   sync.Mutex
	data []byte
}

func NewRAM(base, size uint64) *RAM {
	return &RAM{base: base, data: make([]byte, Align(size, uint64(pageSize)))}
}

func (r *RAM) Region() Region {
	return Region{Start: r.base, Length: uint64(len(r.data)), Readable: true, Writable: true, Executable: true}
}

func (r *RAM) ReadAt(addr uint64, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	off, err := r.offset(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(p, r.data[off:])
	return nil
}

func (r *RAM) WriteAt(addr uint64, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	off, err := r.offset(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(r.data[off:], p)
	return nil
}

func (r *RAM) offset(addr, size uint64) (uint64, error) {
	if addr < r.base || addr-r.base > uint64(len(r.data)) || uint64(len(r.data))-(addr-r.base) < size {
		return 0, ErrOutOfRange
	}
	return addr - r.base, nil
}

// Checked wraps a Memory with the validation policy the protocol engine
// relies on: zero and oversized lengths and null addresses are rejected
// before the underlying access runs, and a panic out of that access is
// converted into ErrFault instead of unwinding the session.
type Checked struct {
	m Memory
}

func NewChecked(m Memory) *Checked {
	return &Checked{m: m}
}

func (c *Checked) ReadAt(addr uint64, p []byte) (err error) {
	if err = validate(addr, len(p)); err != nil {
		return err
	}
	defer recoverFault(&err)
	return c.m.ReadAt(addr, p)
}

func (c *Checked) WriteAt(addr uint64, p []byte) (err error) {
	if err = validate(addr, len(p)); err != nil {
		return err
	}
	defer recoverFault(&err)
	return c.m.WriteAt(addr, p)
}

func validate(addr uint64, size int) error {
	switch {
	case addr == 0:
		return ErrNullAddress
	case size == 0:
		return ErrZeroLength
	case size > MaxAccess:
		return ErrTooLarge
	}
	return nil
}

func recoverFault(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrFault, r)
	}
}
