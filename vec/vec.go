// Package vec provides the two vector flavors of the embedding API.
//
// A vector has a size (allocated slots) and a length (populated slots).
// Plain vectors hold values and copy them shallowly. Owning vectors hold
// owned elements: Copy duplicates every element through its own Copy method
// and Delete deletes every element.
//
// Constructing an owning vector from existing elements with NewOwning
// transfers ownership of those elements into the vector; it does not copy
// them.
package vec

// Element is implemented by values an owning vector can duplicate and release.
type Element[T any] interface {
	Copy() (T, error)
	Delete()
}

// Plain is a vector of values.
type Plain[T any] struct {
	data []T
	n    int
}

// EmptyPlain returns a vector with no storage.
func EmptyPlain[T any]() Plain[T] {
	return Plain[T]{}
}

// UninitializedPlain returns a vector of size n with no populated elements.
func UninitializedPlain[T any](n int) Plain[T] {
	if n <= 0 {
		return Plain[T]{}
	}
	return Plain[T]{data: make([]T, n)}
}

// NewPlain returns a vector of size n. When data is non-nil its first n
// values are copied in and the vector is fully populated. A data slice
// shorter than n yields the empty vector.
func NewPlain[T any](n int, data []T) Plain[T] {
	if n <= 0 {
		return Plain[T]{}
	}
	if data == nil {
		return UninitializedPlain[T](n)
	}
	if len(data) < n {
		return Plain[T]{}
	}
	v := Plain[T]{data: make([]T, n), n: n}
	copy(v.data, data[:n])
	return v
}

// PlainOf returns a populated vector holding a copy of values.
func PlainOf[T any](values ...T) Plain[T] {
	return NewPlain(len(values), values)
}

// Size returns the number of allocated slots.
func (v Plain[T]) Size() int { return len(v.data) }

// Len returns the number of populated slots.
func (v Plain[T]) Len() int { return v.n }

// At returns the i-th populated element. It panics when i is out of range.
func (v Plain[T]) At(i int) T {
	if i < 0 || i >= v.n {
		panic("vec: index out of range")
	}
	return v.data[i]
}

// Slice returns the populated elements. The result aliases the vector.
func (v Plain[T]) Slice() []T {
	return v.data[:v.n]
}

// Set overwrites the i-th populated element. It panics when i is out of range.
func (v Plain[T]) Set(i int, e T) {
	if i < 0 || i >= v.n {
		panic("vec: index out of range")
	}
	v.data[i] = e
}

// Append populates the next free slot. It reports false when the vector is full.
func (v *Plain[T]) Append(e T) bool {
	if v.n >= len(v.data) {
		return false
	}
	v.data[v.n] = e
	v.n++
	return true
}

// Copy returns an independent vector with the same size and elements.
func (v Plain[T]) Copy() Plain[T] {
	if len(v.data) == 0 {
		return Plain[T]{}
	}
	out := Plain[T]{data: make([]T, len(v.data)), n: v.n}
	copy(out.data, v.data)
	return out
}

// Delete releases the storage and leaves v empty.
func (v *Plain[T]) Delete() {
	*v = Plain[T]{}
}

// Owning is a vector that owns its elements.
type Owning[T Element[T]] struct {
	data []T
	n    int
}

// EmptyOwning returns a vector with no storage.
func EmptyOwning[T Element[T]]() Owning[T] {
	return Owning[T]{}
}

// UninitializedOwning returns a vector of size n with no populated elements.
func UninitializedOwning[T Element[T]](n int) Owning[T] {
	if n <= 0 {
		return Owning[T]{}
	}
	return Owning[T]{data: make([]T, n)}
}

// NewOwning returns a vector of size n. When data is non-nil the vector
// takes ownership of its first n elements as-is. A data slice shorter than
// n yields the empty vector.
func NewOwning[T Element[T]](n int, data []T) Owning[T] {
	if n <= 0 {
		return Owning[T]{}
	}
	if data == nil {
		return UninitializedOwning[T](n)
	}
	if len(data) < n {
		return Owning[T]{}
	}
	v := Owning[T]{data: make([]T, n), n: n}
	copy(v.data, data[:n])
	return v
}

// OwningOf returns a populated vector owning elems.
func OwningOf[T Element[T]](elems ...T) Owning[T] {
	return NewOwning(len(elems), elems)
}

// Size returns the number of allocated slots.
func (v Owning[T]) Size() int { return len(v.data) }

// Len returns the number of populated slots.
func (v Owning[T]) Len() int { return v.n }

// At returns the i-th populated element without transferring ownership.
// It panics when i is out of range.
func (v Owning[T]) At(i int) T {
	if i < 0 || i >= v.n {
		panic("vec: index out of range")
	}
	return v.data[i]
}

// Slice returns the populated elements. The vector keeps ownership.
func (v Owning[T]) Slice() []T {
	return v.data[:v.n]
}

// Append moves e into the next free slot. It reports false when the vector
// is full, in which case the caller keeps ownership of e.
func (v *Owning[T]) Append(e T) bool {
	if v.n >= len(v.data) {
		return false
	}
	v.data[v.n] = e
	v.n++
	return true
}

// Copy duplicates every element. If any element copy fails, the copies made
// so far are deleted and the empty vector is returned with the error.
func (v Owning[T]) Copy() (Owning[T], error) {
	if len(v.data) == 0 {
		return Owning[T]{}, nil
	}
	out := Owning[T]{data: make([]T, len(v.data))}
	for i := 0; i < v.n; i++ {
		c, err := v.data[i].Copy()
		if err != nil {
			out.Delete()
			return Owning[T]{}, err
		}
		out.data[i] = c
		out.n++
	}
	return out, nil
}

// Delete deletes every populated element, releases the storage and leaves v empty.
func (v *Owning[T]) Delete() {
	for i := 0; i < v.n; i++ {
		v.data[i].Delete()
	}
	*v = Owning[T]{}
}
