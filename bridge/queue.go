package bridge

// descriptor locates one completed frame in a session's buffer
type descriptor struct {
	offset int
	seq    uint64
}

// frameQueue is the FIFO of completed frames awaiting a consumer.
// It is not safe for concurrent use; the registry mutex guards it.
type frameQueue struct {
	items []descriptor
}

func (q *frameQueue) push(d descriptor) {
	q.items = append(q.items, d)
}

func (q *frameQueue) pop() (descriptor, bool) {
	if len(q.items) == 0 {
		return descriptor{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}
	return d, true
}

func (q *frameQueue) reset() {
	q.items = q.items[:0]
}

func (q *frameQueue) len() int {
	return len(q.items)
}
