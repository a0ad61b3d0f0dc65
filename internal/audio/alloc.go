package audio

import "fmt"

// Allocator provides the byte regions owned by a RingBuffer.
// Regions are requested only while initializing and handed back exactly once.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// DefaultAllocator caps a single region at 256 MiB.
var DefaultAllocator Allocator = HeapAllocator{Limit: 256 << 20}

// HeapAllocator allocates regions from the Go heap.
type HeapAllocator struct {
	Limit int // maximum region size in bytes, 0 for no limit
}

// Alloc returns a zeroed region of size bytes
func (a HeapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid region size %d", ErrAllocation, size)
	}
	if a.Limit > 0 && size > a.Limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrAllocation, size, a.Limit)
	}
	return make([]byte, size), nil
}

// Free is a no-op; the garbage collector reclaims the region.
func (HeapAllocator) Free([]byte) {}

// region is a byte slice together with the allocator that owns it.
type region struct {
	buf   []byte
	alloc Allocator
}

func allocRegion(a Allocator, size int) (region, error) {
	buf, err := a.Alloc(size)
	if err != nil {
		return region{}, err
	}
	if len(buf) < size {
		a.Free(buf)
		return region{}, fmt.Errorf("%w: allocator returned %d of %d bytes", ErrAllocation, len(buf), size)
	}
	return region{buf: buf[:size], alloc: a}, nil
}

func (r *region) live() bool {
	return r.buf != nil
}

// release hands the region back to its allocator. Safe to call twice.
func (r *region) release() {
	if r.buf == nil {
		return
	}
	r.alloc.Free(r.buf)
	r.buf = nil
	r.alloc = nil
}
