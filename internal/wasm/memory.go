package wasm

import (
	"bytes"
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"
)

// PageSize is the size of one wasm memory page (64KiB).
const PageSize = 65536

// wasmMaxPages is the architectural ceiling for 32-bit memories (4GiB).
const wasmMaxPages = 65536

// LinearMemory is the bounds-checked accessor for an instance's memory.
//
// Every host-to-guest transfer goes through it. Offsets are always guest
// offsets, never host addresses. Reads return copies so the host never holds
// a view that a later grow could invalidate. Growth is explicit: reads and
// writes never resize.
//
// LinearMemory belongs to exactly one Instance and shares its threading
// rules: it is not safe for concurrent use.
type LinearMemory struct {
	mem api.Memory // nil when the module defines no memory

	maxPages uint32
}

// newLinearMemory wraps mem. maxPageCount caps Grow; it is clamped to the
// architectural limit.
func newLinearMemory(mem api.Memory, maxPageCount uint32) *LinearMemory {
	if maxPageCount == 0 || maxPageCount > wasmMaxPages {
		maxPageCount = wasmMaxPages
	}
	return &LinearMemory{mem: mem, maxPages: maxPageCount}
}

// Size returns the current size in bytes.
func (m *LinearMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Pages returns the current size in pages.
func (m *LinearMemory) Pages() uint32 {
	return uint32(uint64(m.Size()) / PageSize)
}

// MaxPages returns the growth cap in pages.
func (m *LinearMemory) MaxPages() uint32 {
	return m.maxPages
}

// check validates [offset, offset+length) against the current size.
func (m *LinearMemory) check(op string, offset uint32, length uint64) error {
	size := m.Size()
	if offset >= size || uint64(offset)+length > uint64(size) {
		return &MemoryAccessError{
			Operation: op,
			Address:   offset,
			Length:    length,
			Size:      size,
			Err:       ErrOutOfBounds,
		}
	}
	return nil
}

// ReadBytes returns a copy of length bytes starting at offset.
func (m *LinearMemory) ReadBytes(offset, length uint32) ([]byte, error) {
	if err := m.check("read", offset, uint64(length)); err != nil {
		return nil, err
	}
	view, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: offset, Length: uint64(length), Size: m.Size(), Err: ErrOutOfBounds}
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// WriteBytes copies data into memory starting at offset.
func (m *LinearMemory) WriteBytes(offset uint32, data []byte) error {
	if err := m.check("write", offset, uint64(len(data))); err != nil {
		return err
	}
	if !m.mem.Write(offset, data) {
		return &MemoryAccessError{Operation: "write", Address: offset, Length: uint64(len(data)), Size: m.Size(), Err: ErrOutOfBounds}
	}
	return nil
}

// ReadCString reads bytes from offset up to, not including, the first zero
// byte. The scan never passes the current memory size; if no zero byte is
// found before the end of memory the result is ErrUnterminatedString.
func (m *LinearMemory) ReadCString(offset uint32) ([]byte, error) {
	size := m.Size()
	if err := m.check("read_c_string", offset, 0); err != nil {
		return nil, err
	}
	view, ok := m.mem.Read(offset, size-offset)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read_c_string", Address: offset, Size: size, Err: ErrOutOfBounds}
	}
	end := bytes.IndexByte(view, 0)
	if end < 0 {
		return nil, &MemoryAccessError{
			Operation: "read_c_string",
			Address:   offset,
			Length:    uint64(len(view)),
			Size:      size,
			Err:       ErrUnterminatedString,
		}
	}
	out := make([]byte, end)
	copy(out, view[:end])
	return out, nil
}

// ReadUint32Le reads a little-endian uint32 at offset.
func (m *LinearMemory) ReadUint32Le(offset uint32) (uint32, error) {
	buf, err := m.ReadBytes(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// WriteUint32Le writes v little-endian at offset.
func (m *LinearMemory) WriteUint32Le(offset, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return m.WriteBytes(offset, buf[:])
}

// Grow adds pages to the memory and returns the new size in pages.
// It fails without side effects when the result would pass MaxPages.
func (m *LinearMemory) Grow(pages uint32) (uint32, error) {
	current := m.Pages()
	if uint64(current)+uint64(pages) > uint64(m.maxPages) || (m.mem == nil && pages > 0) {
		return current, &GrowLimitError{Current: current, Requested: pages, Max: m.maxPages}
	}
	if m.mem == nil {
		return current, nil
	}
	// The engine applies the new size in one step, so no access can see a
	// partially grown memory.
	if _, ok := m.mem.Grow(pages); !ok {
		return current, &GrowLimitError{Current: current, Requested: pages, Max: m.maxPages}
	}
	return m.Pages(), nil
}
