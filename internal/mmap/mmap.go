// Package mmap wraps a read-only file mapping so an HTTP response body
// can be handed to a gathered write without a userspace copy.
package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is a read-only memory-mapped region backed by an open file.
// The zero value is not usable; construct with Map.
type Mapping struct {
	data []byte
}

// Map maps the whole of f read-only. size must be the file's current
// size (from a prior Stat); mapping a zero-length file returns a
// Mapping with an empty Bytes() rather than erroring, since mmap(2)
// itself rejects zero-length mappings.
func Map(f *os.File, size int64) (*Mapping, error) {
	if size == 0 {
		return &Mapping{data: []byte{}}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped region. The slice is only valid until Close.
func (m *Mapping) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Close unmaps the region. Safe to call on an already-closed or nil
// Mapping.
func (m *Mapping) Close() error {
	if m == nil || len(m.data) == 0 {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}
