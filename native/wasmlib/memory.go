package wasmlib

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/go-tokenizers/errors"
)

// maxCString bounds the scan for a terminating NUL.
const maxCString = 1 << 24

// guestMemory reads and writes the guest's linear memory.
type guestMemory struct {
	mem api.Memory
}

func (m guestMemory) read(ptr, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(ptr, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseUnmarshal, ptr, length)
	}
	return data, nil
}

func (m guestMemory) write(ptr uint32, data []byte) error {
	if !m.mem.Write(ptr, data) {
		return errors.OutOfBounds(errors.PhaseMarshal, ptr, uint32(len(data)))
	}
	return nil
}

func (m guestMemory) readU32(ptr uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(ptr)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseUnmarshal, ptr, 4)
	}
	return v, nil
}

// fits reports whether n elements of size bytes can lie in guest memory.
// Lengths come from the guest and are not trusted.
func (m guestMemory) fits(n, size uint32) bool {
	return uint64(n)*uint64(size) <= uint64(m.mem.Size())
}

// readU32s copies n little-endian u32 values starting at ptr.
func (m guestMemory) readU32s(ptr, n uint32) ([]uint32, error) {
	if !m.fits(n, 4) {
		return nil, errors.New(errors.PhaseUnmarshal, errors.KindOutOfBounds).
			Detail("%d values at %d exceed guest memory", n, ptr).
			Build()
	}
	out := make([]uint32, n)
	if n == 0 {
		return out, nil
	}
	raw, err := m.read(ptr, n*4)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out, nil
}

// readCString copies the NUL-terminated string at ptr.
func (m guestMemory) readCString(ptr uint32) (string, error) {
	size := m.mem.Size()
	if ptr >= size {
		return "", errors.OutOfBounds(errors.PhaseUnmarshal, ptr, 1)
	}
	limit := size - ptr
	if limit > maxCString {
		limit = maxCString
	}
	raw, err := m.read(ptr, limit)
	if err != nil {
		return "", err
	}
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), nil
		}
	}
	return "", errors.New(errors.PhaseUnmarshal, errors.KindOutOfBounds).
		Detail("unterminated string at %d", ptr).
		Build()
}

func encodeU32s(values []uint32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// allocator calls the guest's malloc and free exports.
type allocator struct {
	malloc api.Function
	free   api.Function
	logger *zap.Logger
}

func (a allocator) alloc(ctx context.Context, size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	res, err := a.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseMarshal, errors.KindAllocation, err, "malloc trapped")
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseMarshal, size)
	}
	return ptr, nil
}

func (a allocator) release(ctx context.Context, ptr uint32) {
	if ptr == 0 {
		return
	}
	if _, err := a.free.Call(ctx, uint64(ptr)); err != nil {
		a.logger.Warn("guest free trapped", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

// allocationList tracks guest allocations made for one call so they can be
// freed together.
type allocationList struct {
	ptrs []uint32
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &allocationList{ptrs: make([]uint32, 0, 4)}
	},
}

const maxPooledAllocations = 64

func newAllocationList() *allocationList {
	return allocationListPool.Get().(*allocationList)
}

func (al *allocationList) add(ptr uint32) {
	al.ptrs = append(al.ptrs, ptr)
}

// freeAndRelease frees every allocation and returns the list to the pool.
// The list must not be used afterwards.
func (al *allocationList) freeAndRelease(ctx context.Context, a allocator) {
	for _, p := range al.ptrs {
		a.release(ctx, p)
	}
	al.ptrs = al.ptrs[:0]
	if cap(al.ptrs) <= maxPooledAllocations {
		allocationListPool.Put(al)
	}
}

// push allocates and writes data, recording the allocation.
func (al *allocationList) push(ctx context.Context, a allocator, m guestMemory, data []byte) (uint32, error) {
	ptr, err := a.alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	al.add(ptr)
	if len(data) == 0 {
		return ptr, nil
	}
	if err := m.write(ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

// pushCString writes s with a terminating NUL.
func (al *allocationList) pushCString(ctx context.Context, a allocator, m guestMemory, s string) (uint32, error) {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return al.push(ctx, a, m, buf)
}
