// Package encoding marshals flat register-file structs into the packed
// little-endian layout the wire protocol expects. Field widths on the wire
// are the declared widths; Go struct padding never leaks into the encoding.
package encoding

import (
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"unsafe"

	"github.com/modern-go/reflect2"
)

var (
	ErrType = errors.New("encoding: type not packable")
	ErrSize = errors.New("encoding: data size mismatch")
)

// Field describes one packed struct field: the lowercased field name, its
// wire width in bytes, and its offset into the packed blob.
type Field struct {
	Name   string
	Size   int
	Offset int
}

type fieldOp struct {
	wire int
	size int
	off  uintptr
}

type codec struct {
	size   int
	fields []Field
	ops    []fieldOp
}

func width(k reflect.Kind) int {
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32:
		return 4
	case reflect.Int, reflect.Uint, reflect.Int64, reflect.Uint64, reflect.Uintptr:
		return 8
	}
	return 0
}

func compile(t reflect.Type) (*codec, error) {
	if t.Kind() != reflect.Struct {
		return nil, ErrType
	}
	c := &codec{}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		w := width(field.Type.Kind())
		if w == 0 {
			return nil, ErrType
		}
		c.fields = append(c.fields, Field{
			Name:   strings.ToLower(field.Name),
			Size:   w,
			Offset: c.size,
		})
		c.ops = append(c.ops, fieldOp{wire: c.size, size: w, off: field.Offset})
		c.size += w
	}
	return c, nil
}

func (c *codec) encode(b []byte, p unsafe.Pointer) {
	for _, op := range c.ops {
		fp := unsafe.Add(p, op.off)
		switch op.size {
		case 1:
			b[op.wire] = *(*byte)(fp)
		case 2:
			binary.LittleEndian.PutUint16(b[op.wire:], *(*uint16)(fp))
		case 4:
			binary.LittleEndian.PutUint32(b[op.wire:], *(*uint32)(fp))
		case 8:
			binary.LittleEndian.PutUint64(b[op.wire:], *(*uint64)(fp))
		}
	}
}

func (c *codec) decode(b []byte, p unsafe.Pointer) {
	for _, op := range c.ops {
		fp := unsafe.Add(p, op.off)
		switch op.size {
		case 1:
			*(*byte)(fp) = b[op.wire]
		case 2:
			*(*uint16)(fp) = binary.LittleEndian.Uint16(b[op.wire:])
		case 4:
			*(*uint32)(fp) = binary.LittleEndian.Uint32(b[op.wire:])
		case 8:
			*(*uint64)(fp) = binary.LittleEndian.Uint64(b[op.wire:])
		}
	}
}

func codecOf(v any) (*codec, unsafe.Pointer, error) {
	ptrType, ok := reflect2.TypeOf(v).(*reflect2.UnsafePtrType)
	if !ok {
		return nil, nil, ErrType
	}
	c, err := compile(ptrType.Elem().Type1())
	if err != nil {
		return nil, nil, err
	}
	return c, reflect2.PtrOf(v), nil
}

// PackedSize returns the wire size of the struct pointed to by v.
func PackedSize(v any) (int, error) {
	c, _, err := codecOf(v)
	if err != nil {
		return 0, err
	}
	return c.size, nil
}

// Fields enumerates the packed layout of the struct pointed to by v, in
// declaration order.
func Fields(v any) ([]Field, error) {
	c, _, err := codecOf(v)
	if err != nil {
		return nil, err
	}
	return c.fields, nil
}

// Marshal packs the struct pointed to by v.
func Marshal(v any) ([]byte, error) {
	c, p, err := codecOf(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, c.size)
	c.encode(b, p)
	return b, nil
}

// Unmarshal unpacks data into the struct pointed to by v. The data length
// must match the packed size exactly.
func Unmarshal(data []byte, v any) error {
	c, p, err := codecOf(v)
	if err != nil {
		return err
	}
	if len(data) != c.size {
		return ErrSize
	}
	c.decode(data, p)
	return nil
}
