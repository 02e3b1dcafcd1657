// Package ringbuffer provides a blocking ring buffer that hands samples from
// a producer goroutine to a consumer goroutine.
package ringbuffer

import "sync"

// RingBuffer is a concurrent-safe ring buffer. One slot is kept free to tell
// a full buffer from an empty one.
type RingBuffer[T any] struct {
	buf        []T
	size       int
	readIndex  int
	writeIndex int
	closed     bool
	mu         sync.Mutex
	cond       *sync.Cond
}

// New creates a RingBuffer holding up to size-1 elements.
func New[T any](size int) *RingBuffer[T] {
	rb := &RingBuffer[T]{
		buf:  make([]T, size),
		size: size,
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// availableWrite returns the free space. The caller holds mu.
func (rb *RingBuffer[T]) availableWrite() int {
	if rb.writeIndex >= rb.readIndex {
		return rb.size - (rb.writeIndex - rb.readIndex) - 1
	}
	return rb.readIndex - rb.writeIndex - 1
}

// availableRead returns the buffered element count. The caller holds mu.
func (rb *RingBuffer[T]) availableRead() int {
	if rb.writeIndex >= rb.readIndex {
		return rb.writeIndex - rb.readIndex
	}
	return rb.size - rb.readIndex + rb.writeIndex
}

// Len returns the number of buffered elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.availableRead()
}

// Close marks the buffer as closed and wakes every waiting reader and writer.
func (rb *RingBuffer[T]) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
}

// Reset discards buffered data. Writers blocked on a full buffer resume.
func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readIndex = 0
	rb.writeIndex = 0
	rb.cond.Broadcast()
}

// Write adds data to the buffer, blocking until space is available. It
// returns false if the buffer is closed before all of data is written.
func (rb *RingBuffer[T]) Write(data []T) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := 0; i < len(data); {
		for !rb.closed && rb.availableWrite() == 0 {
			rb.cond.Wait()
		}
		if rb.closed {
			return false
		}

		// Copy in one or two chunks.
		var written int
		if rb.writeIndex >= rb.readIndex {
			end := rb.size
			if rb.readIndex == 0 {
				end = rb.size - 1
			}
			written = copy(rb.buf[rb.writeIndex:end], data[i:])
		} else {
			written = copy(rb.buf[rb.writeIndex:rb.readIndex-1], data[i:])
		}
		rb.writeIndex = (rb.writeIndex + written) % rb.size
		i += written
		rb.cond.Broadcast()
	}
	return true
}

// Read retrieves n elements, blocking until they are available. Once the
// buffer is closed it returns whatever is left, and nil when drained.
func (rb *RingBuffer[T]) Read(n int) []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for !rb.closed && rb.availableRead() < n {
		rb.cond.Wait()
	}

	readSize := min(n, rb.availableRead())
	if readSize == 0 {
		return nil
	}

	data := make([]T, readSize)
	if rb.readIndex+readSize <= rb.size {
		copy(data, rb.buf[rb.readIndex:rb.readIndex+readSize])
	} else {
		part1 := rb.size - rb.readIndex
		copy(data, rb.buf[rb.readIndex:])
		copy(data[part1:], rb.buf[0:readSize-part1])
	}
	rb.readIndex = (rb.readIndex + readSize) % rb.size
	rb.cond.Broadcast()
	return data
}
