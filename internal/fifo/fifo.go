package fifo

// Circular Fifo object used for the controller receive queues.
// Holds up to capacity elements, writing to a full fifo drops the
// new element and flags an overrun.
type Fifo[T any] struct {
	buffer   []T
	writePos int
	readPos  int
	overrun  bool
}

func NewFifo[T any](capacity uint16) *Fifo[T] {
	f := &Fifo[T]{
		// One slot is always kept empty to distinguish full from empty
		buffer:   make([]T, int(capacity)+1),
		writePos: 0,
		readPos:  0,
	}
	return f
}

func (f *Fifo[T]) Reset() {
	var zero T
	for i := range f.buffer {
		f.buffer[i] = zero
	}
	f.readPos = 0
	f.writePos = 0
	f.overrun = false
}

func (f *Fifo[T]) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

func (f *Fifo[T]) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write element to fifo, returns false if fifo was full
func (f *Fifo[T]) Write(element T) bool {
	writePosNext := f.writePos + 1
	if writePosNext == len(f.buffer) {
		writePosNext = 0
	}
	if writePosNext == f.readPos {
		f.overrun = true
		return false
	}
	f.buffer[f.writePos] = element
	f.writePos = writePosNext
	return true
}

// Read oldest element from fifo
func (f *Fifo[T]) Read() (T, bool) {
	var zero T
	if f.readPos == f.writePos {
		return zero, false
	}
	element := f.buffer[f.readPos]
	f.buffer[f.readPos] = zero
	f.readPos++
	if f.readPos == len(f.buffer) {
		f.readPos = 0
	}
	return element, true
}

// Returns whether an overrun happened since last call and clears the flag
func (f *Fifo[T]) TakeOverrun() bool {
	overrun := f.overrun
	f.overrun = false
	return overrun
}
