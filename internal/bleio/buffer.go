package bleio

import (
	"time"

	"github.com/srg/dcdl/internal/device"
)

type readResult struct {
	data []byte
	err  error
}

type pendingRead struct {
	size     int
	data     []byte
	deadline time.Time // zero means no deadline
	last     time.Time // arrival of the latest chunk appended to data
	reply    chan<- readResult
}

func (r *pendingRead) full() bool {
	return len(r.data) >= r.size
}

// PacketBuffer holds received notification chunks in arrival order together
// with the reads waiting for them. Pending reads only exist while no chunk is
// buffered. It is owned by the bridge loop and is not safe for concurrent use.
type PacketBuffer struct {
	chunks [][]byte
	reads  []*pendingRead

	// burstGap is how long a partially filled read waits for the next chunk
	// of the same notification burst before it completes as a short read.
	burstGap time.Duration
}

// NewPacketBuffer returns an empty buffer. burstGap is normally the bridge tick.
func NewPacketBuffer(burstGap time.Duration) *PacketBuffer {
	return &PacketBuffer{burstGap: burstGap}
}

// Push appends a chunk at the back.
func (b *PacketBuffer) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
}

// PushFront puts a chunk back at the head so it is served next.
func (b *PacketBuffer) PushFront(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, nil)
	copy(b.chunks[1:], b.chunks)
	b.chunks[0] = chunk
}

// Empty reports whether no chunk is buffered.
func (b *PacketBuffer) Empty() bool {
	return len(b.chunks) == 0
}

// Chunks returns the number of buffered chunks.
func (b *PacketBuffer) Chunks() int {
	return len(b.chunks)
}

// Buffered returns the number of buffered bytes.
func (b *PacketBuffer) Buffered() int {
	n := 0
	for _, c := range b.chunks {
		n += len(c)
	}
	return n
}

// Take pops up to size bytes from the head chunk. A larger chunk is split and
// its remainder pushed back to the front; a smaller one is returned whole as a
// short read. Take never coalesces chunks.
func (b *PacketBuffer) Take(size int) []byte {
	if len(b.chunks) == 0 || size <= 0 {
		return nil
	}
	head := b.chunks[0]
	b.chunks[0] = nil
	b.chunks = b.chunks[1:]

	if len(head) > size {
		b.PushFront(head[size:])
		return head[:size:size]
	}
	return head
}

// AddPending queues a read for size bytes. The read completes once size bytes
// arrived, or with whatever accumulated when deadline passes.
func (b *PacketBuffer) AddPending(size int, deadline time.Time, reply chan<- readResult) {
	b.reads = append(b.reads, &pendingRead{size: size, deadline: deadline, reply: reply})
}

// Pending returns the number of queued reads.
func (b *PacketBuffer) Pending() int {
	return len(b.reads)
}

// Deliver feeds a notification received at now to the queued reads, oldest
// first. A read completes once full; a partially filled one keeps collecting
// until ExpireReads sees no chunk for burstGap. Whatever no read takes is
// buffered. It returns the number of reads completed.
func (b *PacketBuffer) Deliver(chunk []byte, now time.Time) int {
	completed := 0
	data := chunk
	for len(data) > 0 && len(b.reads) > 0 {
		r := b.reads[0]
		n := min(r.size-len(r.data), len(data))
		r.data = append(r.data, data[:n]...)
		r.last = now
		data = data[n:]

		if r.full() {
			resolveRead(r.reply, readResult{data: r.data})
			b.reads[0] = nil
			b.reads = b.reads[1:]
			completed++
		}
	}

	// The buffer is empty while reads are queued, so the front is also the tail.
	b.PushFront(data)
	return completed
}

// ExpireReads resolves queued reads that are done waiting at now. A read
// holding bytes completes as a short read once its burst went quiet for
// burstGap or its deadline passed; an empty one fails with ErrTimeout at its
// deadline.
func (b *PacketBuffer) ExpireReads(now time.Time) int {
	expired := 0
	kept := b.reads[:0]
	for _, r := range b.reads {
		overdue := !r.deadline.IsZero() && !now.Before(r.deadline)
		switch {
		case len(r.data) > 0 && (overdue || now.Sub(r.last) >= b.burstGap):
			resolveRead(r.reply, readResult{data: r.data})
		case len(r.data) == 0 && overdue:
			resolveRead(r.reply, readResult{err: device.ErrTimeout})
		default:
			kept = append(kept, r)
			continue
		}
		expired++
	}
	clear(b.reads[len(kept):])
	b.reads = kept
	return expired
}

// FailPending resolves every queued read with err and returns how many there
// were. Bytes a read already collected are returned alongside err.
func (b *PacketBuffer) FailPending(err error) int {
	n := len(b.reads)
	for _, r := range b.reads {
		resolveRead(r.reply, readResult{data: r.data, err: err})
	}
	b.reads = nil
	return n
}

func resolveRead(reply chan<- readResult, res readResult) {
	select {
	case reply <- res:
	default:
	}
}
