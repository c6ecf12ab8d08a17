package session

import (
	"context"
	"sync"
)

// broadcastCapacity bounds the output fan-out ring: the PTY reader never
// blocks on a slow subscriber, so the buffer is fixed-size and the oldest
// entry is simply overwritten once it fills.
const broadcastCapacity = 4096

// broadcast is a single-producer (the PTY reader), multi-consumer
// byte-buffer channel with lag tolerance: a monotonic sequence number per
// published chunk, and subscribers that detect falling behind the ring's
// capacity and skip forward, observing a lag count rather than blocking
// the producer.
type broadcast struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    [][]byte
	seq    uint64 // sequence number of the next chunk to be written
	closed bool
}

func newBroadcast() *broadcast {
	b := &broadcast{buf: make([][]byte, broadcastCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// publish appends a chunk, overwriting the oldest buffered chunk once the
// ring is full. Never blocks.
func (b *broadcast) publish(chunk []byte) {
	b.mu.Lock()
	b.buf[b.seq%broadcastCapacity] = chunk
	b.seq++
	b.mu.Unlock()
	b.cond.Broadcast()
}

// close marks the broadcast permanently closed; outstanding and future
// subscribers observe end-of-stream once they drain any buffered chunks.
func (b *broadcast) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// subscriber is a receive-only handle into a broadcast, positioned at "now"
// when created.
type subscriber struct {
	b   *broadcast
	pos uint64
}

func (b *broadcast) subscribe() *subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &subscriber{b: b, pos: b.seq}
}

// recv blocks until the next chunk is available, the broadcast closes, or
// ctx is done. lag reports how many chunks were skipped because the
// subscriber fell behind the ring's capacity; ok is false once the
// broadcast is closed and fully drained, or ctx ended.
func (s *subscriber) recv(ctx context.Context) (chunk []byte, lag int, ok bool) {
	b := s.b

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for s.pos == b.seq && !b.closed && ctx.Err() == nil {
		b.cond.Wait()
	}

	if ctx.Err() != nil {
		return nil, 0, false
	}
	if s.pos == b.seq && b.closed {
		return nil, 0, false
	}

	var oldestAvailable uint64
	if b.seq > broadcastCapacity {
		oldestAvailable = b.seq - broadcastCapacity
	}
	if s.pos < oldestAvailable {
		lag = int(oldestAvailable - s.pos)
		s.pos = oldestAvailable
	}

	chunk = b.buf[s.pos%broadcastCapacity]
	s.pos++
	return chunk, lag, true
}
