// Package heap provides a generic binary min-heap ordered by a
// caller-supplied less function, used as the scheduler's deadline
// queue.
package heap

// PriorityQueue holds items of type T, with the minimum (per lessFunc)
// always at the front.
type PriorityQueue[T any] struct {
	items    []T
	lessFunc func(a, b T) bool
}

// NewPriorityQueue builds an empty queue ordered by lessFunc.
func NewPriorityQueue[T any](lessFunc func(a, b T) bool) *PriorityQueue[T] {
	return &PriorityQueue[T]{lessFunc: lessFunc}
}

// Len reports the number of queued items.
func (pq *PriorityQueue[T]) Len() int { return len(pq.items) }

// Enqueue adds value, restoring the heap order.
func (pq *PriorityQueue[T]) Enqueue(value T) {
	pq.items = append(pq.items, value)
	pq.siftUp(len(pq.items) - 1)
}

// Dequeue removes and returns the minimum item, reporting false when
// the queue is empty.
func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	if len(pq.items) == 0 {
		var zero T
		return zero, false
	}

	min := pq.items[0]
	last := len(pq.items) - 1
	pq.items[0] = pq.items[last]
	var zero T
	pq.items[last] = zero
	pq.items = pq.items[:last]
	if len(pq.items) > 0 {
		pq.siftDown(0)
	}
	return min, true
}

// Peek returns the minimum item without removing it.
func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if len(pq.items) == 0 {
		var zero T
		return zero, false
	}
	return pq.items[0], true
}

func (pq *PriorityQueue[T]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.lessFunc(pq.items[i], pq.items[parent]) {
			return
		}
		pq.items[i], pq.items[parent] = pq.items[parent], pq.items[i]
		i = parent
	}
}

func (pq *PriorityQueue[T]) siftDown(i int) {
	n := len(pq.items)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		smallest := left
		if right := left + 1; right < n && pq.lessFunc(pq.items[right], pq.items[left]) {
			smallest = right
		}
		if !pq.lessFunc(pq.items[smallest], pq.items[i]) {
			return
		}
		pq.items[i], pq.items[smallest] = pq.items[smallest], pq.items[i]
		i = smallest
	}
}
