// Package execmem provides memory regions that are written once and then
// made executable. A region is never writable and executable at the same
// time: Seal drops write access before execute access is granted.
package execmem

import (
	"errors"
	"fmt"
	"unsafe"
)

var (
	ErrSealed      = errors.New("execmem: region is sealed")
	ErrClosed      = errors.New("execmem: region is closed")
	ErrUnsupported = errors.New("execmem: executable memory is not supported on this platform")
)

// Region is a page-aligned mapping holding generated code.
type Region struct {
	mem    []byte
	size   int
	sealed bool
	closed bool
}

// Alloc maps at least size bytes of read-write memory.
func Alloc(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("execmem: invalid size %d", size)
	}
	page := pageSize()
	n := (size + page - 1) / page * page
	mem, err := mapRW(n)
	if err != nil {
		return nil, fmt.Errorf("execmem: map %d bytes: %w", n, err)
	}
	return &Region{mem: mem, size: size}, nil
}

// Bytes returns the writable view of the requested size. It is nil once the
// region is sealed or closed.
func (r *Region) Bytes() []byte {
	if r.sealed || r.closed {
		return nil
	}
	return r.mem[:r.size]
}

// Len is the mapped size, a multiple of the page size.
func (r *Region) Len() int { return len(r.mem) }

// Addr is the address of the first byte, or 0 after Close.
func (r *Region) Addr() uintptr {
	if r.closed {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

func (r *Region) Sealed() bool { return r.sealed }

// Seal makes the region read-execute. It can be called once.
func (r *Region) Seal() error {
	switch {
	case r.closed:
		return ErrClosed
	case r.sealed:
		return ErrSealed
	}
	if err := protectRX(r.mem); err != nil {
		return fmt.Errorf("execmem: protect: %w", err)
	}
	r.sealed = true
	return nil
}

// Close unmaps the region. No code in it may be running.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	mem := r.mem
	r.mem = nil
	if err := unmap(mem); err != nil {
		return fmt.Errorf("execmem: unmap: %w", err)
	}
	return nil
}
