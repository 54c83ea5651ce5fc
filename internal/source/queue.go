package source

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// chunk is the unit flowing between the downloading producer and the
// parsing consumer. A chunk carries either bytes or the error that
// ended the transfer.
type chunk struct {
	data []byte
	err  error
}

// chunkQueue is a bounded FIFO of byte chunks. put blocks when the
// queue is full, which is what throttles the producer: buffered bytes
// never exceed capacity times the chunk size.
type chunkQueue struct {
	ch       chan chunk
	buffered atomic.Int64
}

func newChunkQueue(capacity int) *chunkQueue {
	return &chunkQueue{ch: make(chan chunk, capacity)}
}

func (q *chunkQueue) put(ctx context.Context, c chunk) error {
	select {
	case q.ch <- c:
		q.buffered.Add(int64(len(c.data)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *chunkQueue) get(ctx context.Context) (chunk, error) {
	select {
	case c, ok := <-q.ch:
		if !ok {
			return chunk{}, io.EOF
		}
		q.buffered.Add(-int64(len(c.data)))
		return c, nil
	case <-ctx.Done():
		return chunk{}, ctx.Err()
	}
}

func (q *chunkQueue) close() {
	close(q.ch)
}

// bufferedBytes reports bytes currently enqueued.
func (q *chunkQueue) bufferedBytes() int64 {
	return q.buffered.Load()
}

// orderedQueueWriter adapts the download manager's concurrent WriteAt
// calls into in order queue chunks. Fragments ahead of the watermark
// are stashed until the gap below them fills; no writer ever waits on
// a predecessor, so a failed part cannot deadlock the worker pool.
// Stashed bytes are bounded by the transfer's in flight parts.
type orderedQueueWriter struct {
	ctx       context.Context
	queue     *chunkQueue
	chunkSize int

	mu        sync.Mutex
	watermark int64            // next byte offset to release
	stash     map[int64][]byte // fragment start offset -> bytes
}

func newOrderedQueueWriter(ctx context.Context, q *chunkQueue, chunkSize int) *orderedQueueWriter {
	return &orderedQueueWriter{
		ctx:       ctx,
		queue:     q,
		chunkSize: chunkSize,
		stash:     make(map[int64][]byte),
	}
}

func (w *orderedQueueWriter) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	written := len(p)

	// a retried part rewrites bytes already released; drop the overlap,
	// the content is identical
	if off+int64(len(p)) <= w.watermark {
		return written, nil
	}
	if off < w.watermark {
		p = p[w.watermark-off:]
		off = w.watermark
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	w.stash[off] = buf

	// release the contiguous head
	for {
		data, ok := w.stash[w.watermark]
		if !ok {
			return written, nil
		}
		delete(w.stash, w.watermark)
		w.watermark += int64(len(data))

		for len(data) > 0 {
			n := len(data)
			if n > w.chunkSize {
				n = w.chunkSize
			}
			if err := w.queue.put(w.ctx, chunk{data: data[:n:n]}); err != nil {
				return 0, err
			}
			data = data[n:]
		}
	}
}

// queueReader exposes the queue as an io.Reader for the csv layer. A
// chunk carrying an error is surfaced once its predecessors have been
// consumed, then the reader is poisoned.
type queueReader struct {
	ctx   context.Context
	queue *chunkQueue
	rest  []byte
	err   error
}

func newQueueReader(ctx context.Context, q *chunkQueue) *queueReader {
	return &queueReader{ctx: ctx, queue: q}
}

func (r *queueReader) Read(p []byte) (int, error) {
	if len(r.rest) == 0 && r.err != nil {
		return 0, r.err
	}

	for len(r.rest) == 0 {
		c, err := r.queue.get(r.ctx)
		if err != nil {
			r.err = err
			return 0, err
		}
		if c.err != nil {
			r.err = c.err
			return 0, r.err
		}
		r.rest = c.data
	}

	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}
