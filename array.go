package raystack

import (
	"fmt"
	"unsafe"
)

// ArrayView describes host memory as a three-dimensional array of engine
// elements. The view does not own the memory; the caller must keep the
// backing array alive while the view, or any shared buffer made from it,
// is in use.
//
// Rank is always normalized to exactly 3: an original rank r in {0,1,2,3}
// maps to shapes (1,1,1), (n,1,1), (n,m,1) and (n,m,k). Dimension 0 is the
// fastest-varying; strides are byte strides and must reflect the actual
// memory layout, contiguous or not.
type ArrayView struct {
	Type    DataType
	Shape   [3]int
	Strides [3]int
	Ptr     unsafe.Pointer
}

// NumElements returns the product of the three extents.
func (v ArrayView) NumElements() int {
	return v.Shape[0] * v.Shape[1] * v.Shape[2]
}

// ViewOf builds a contiguous ArrayView over data, reinterpreted as elements
// of type t with the given dimensions. With no dims the view is rank 1 over
// every element the slice holds. A rank above 3 fails with
// ErrUnsupportedRank before any engine resource is touched.
//
// The byte size of data must divide evenly into elements of t, and the
// product of dims must equal the element count.
func ViewOf[T any](data []T, t DataType, dims ...int) (ArrayView, error) {
	if len(dims) > 3 {
		return ArrayView{}, fmt.Errorf("%w: got rank %d", ErrUnsupportedRank, len(dims))
	}
	esz := t.Size()
	if esz == 0 {
		return ArrayView{}, fmt.Errorf("cannot view data as %s", t)
	}
	if len(data) == 0 {
		return ArrayView{}, ErrNilPointer
	}
	total := len(data) * int(unsafe.Sizeof(data[0]))
	if total%esz != 0 {
		return ArrayView{}, fmt.Errorf("%d bytes of data do not divide into %s elements of %d bytes", total, t, esz)
	}
	count := total / esz
	if len(dims) == 0 {
		dims = []int{count}
	}
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return ArrayView{}, fmt.Errorf("non-positive extent %d", d)
		}
		n *= d
	}
	if n != count {
		return ArrayView{}, fmt.Errorf("shape %v holds %d elements, data holds %d", dims, n, count)
	}

	shape := [3]int{1, 1, 1}
	copy(shape[:], dims)
	return ArrayView{
		Type:    t,
		Shape:   shape,
		Strides: contiguousStrides(t, shape),
		Ptr:     unsafe.Pointer(&data[0]),
	}, nil
}

// ViewWithStrides builds an ArrayView with an explicit, possibly
// non-contiguous layout. Shape entries for absent dimensions must be 1.
func ViewWithStrides(ptr unsafe.Pointer, t DataType, shape, strides [3]int) (ArrayView, error) {
	if ptr == nil {
		return ArrayView{}, ErrNilPointer
	}
	for i, d := range shape {
		if d <= 0 {
			return ArrayView{}, fmt.Errorf("non-positive extent %d in dimension %d", d, i)
		}
	}
	return ArrayView{Type: t, Shape: shape, Strides: strides, Ptr: ptr}, nil
}

func contiguousStrides(t DataType, shape [3]int) [3]int {
	esz := t.Size()
	return [3]int{esz, esz * shape[0], esz * shape[0] * shape[1]}
}

// MakeBuffer turns an ArrayView into a committed engine buffer.
//
// With share true the returned handle aliases the view's memory: the caller
// must keep the backing array alive and unchanged for the handle's
// lifetime. With share false the engine allocates an independent buffer of
// identical extents, the contents are copied into it, and the host memory
// may be freed or mutated afterward.
//
// On success the buffer's contents are element-for-element identical to the
// view's contents under its element type. On failure no engine resources
// remain allocated.
func MakeBuffer(eng Engine, v ArrayView, share bool) (Handle, error) {
	if v.Ptr == nil {
		return NilHandle, ErrNilPointer
	}

	src, err := eng.NewSharedBuffer(v.Ptr, v.Type, v.Shape, v.Strides)
	if err != nil {
		return NilHandle, foreignErr("NewSharedBuffer", err)
	}
	if err := eng.Commit(src); err != nil {
		_ = eng.Release(src)
		return NilHandle, foreignErr("Commit", err)
	}
	if share {
		return src, nil
	}

	dst, err := eng.NewOwnedBuffer(v.Type, v.Shape)
	if err != nil {
		_ = eng.Release(src)
		return NilHandle, foreignErr("NewOwnedBuffer", err)
	}
	if err := copyChecked(eng, src, dst, v.Shape); err != nil {
		_ = eng.Release(dst)
		_ = eng.Release(src)
		return NilHandle, err
	}
	if err := eng.Release(src); err != nil {
		_ = eng.Release(dst)
		return NilHandle, foreignErr("Release", err)
	}
	return dst, nil
}

// copyChecked commits dst, copies src into it at offset (0,0,0) and commits
// again. The destination extents are validated against want before the
// engine copy primitive runs; a mismatch is a programming error and fails
// loudly instead of handing the engine a misshapen copy.
func copyChecked(eng Engine, src, dst Handle, want [3]int) error {
	got, err := eng.BufferExtents(dst)
	if err != nil {
		return foreignErr("BufferExtents", err)
	}
	if got != want {
		return &ExtentMismatchError{Src: want, Dst: got}
	}
	if err := eng.Commit(dst); err != nil {
		return foreignErr("Commit", err)
	}
	if err := eng.CopyBuffer(src, dst, [3]int{}); err != nil {
		return foreignErr("CopyBuffer", err)
	}
	if err := eng.Commit(dst); err != nil {
		return foreignErr("Commit", err)
	}
	return nil
}

// MakeHandleBuffer turns a sequence of engine object handles into a
// committed buffer of handle-sized unsigned integers. Handle sequences are
// always copied, never shared: the backing slice is transient and must not
// be aliased by the engine.
//
// Handle collections are their own entry point rather than a branch inside
// MakeBuffer: the element type must be an object reference type, and every
// element must be a live handle. Mixing handles into a numeric buffer, or
// plain values into a handle buffer, cannot be expressed.
func MakeHandleBuffer(eng Engine, t DataType, handles []Handle) (Handle, error) {
	if !t.IsObject() {
		return NilHandle, fmt.Errorf("%s is not an object reference type", t)
	}
	if len(handles) == 0 {
		return NilHandle, fmt.Errorf("empty handle sequence")
	}
	raw := make([]uint64, len(handles))
	for i, h := range handles {
		if h == NilHandle {
			return NilHandle, fmt.Errorf("nil handle at index %d in handle sequence", i)
		}
		raw[i] = uint64(h)
	}
	v, err := ViewOf(raw, t)
	if err != nil {
		return NilHandle, err
	}
	return MakeBuffer(eng, v, false)
}
