// Package buffer implements a growable byte buffer with independent read
// and write cursors, tuned for the accept-read-parse-respond cycle of an
// HTTP connection: one append-heavy producer (the socket read), one
// drain-heavy consumer (the line parser), sharing a single backing array.
package buffer

import (
	"golang.org/x/sys/unix"
)

// initialCap is the default backing array size for a new Buffer.
const initialCap = 1024

// spillSize is the size of the overflow segment ReadFd hands the kernel
// alongside the buffer's own writable tail. A single readv(2) can then
// drain a full kernel receive-buffer burst regardless of how much room
// is currently writable, without pre-growing the buffer for the common
// case where the kernel has less queued than that.
const spillSize = 64 * 1024

// Buffer is a contiguous byte store with read_pos <= write_pos <= cap.
// It is single-owner: callers are responsible for not sharing a Buffer
// across goroutines without external synchronization (the reactor's
// one-shot re-arm discipline is what makes that safe in this codebase).
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New allocates a Buffer with the given initial capacity. A non-positive
// size falls back to the default.
func New(initialSize int) *Buffer {
	if initialSize <= 0 {
		initialSize = initialCap
	}
	return &Buffer{buf: make([]byte, initialSize)}
}

// ReadableBytes returns the number of unread bytes.
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes returns the number of bytes that can be appended without
// compacting or growing the backing array.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writePos }

// PrependableBytes returns the number of already-consumed bytes at the
// front of the backing array, available for reuse by compaction.
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable slice [readPos, writePos). The slice aliases
// the buffer's backing array and is only valid until the next mutating
// call.
func (b *Buffer) Peek() []byte { return b.buf[b.readPos:b.writePos] }

// Retrieve advances the read cursor by n bytes. Precondition: n <=
// ReadableBytes(); violating it panics, since it indicates a parser bug
// rather than a recoverable runtime condition.
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		panic("buffer: Retrieve past write cursor")
	}
	b.readPos += n
}

// RetrieveUntil advances the read cursor up to (but not past) end, an
// index into the slice returned by Peek measured from the start of that
// slice (i.e. end is relative to readPos, matching "a pointer inside the
// readable slice" in the spec this buffer implements).
func (b *Buffer) RetrieveUntil(end int) {
	b.Retrieve(end)
}

// RetrieveAll consumes every readable byte, returns it as a string, and
// resets both cursors to zero.
func (b *Buffer) RetrieveAll() string {
	s := string(b.Peek())
	b.readPos = 0
	b.writePos = 0
	return s
}

// EnsureWritable guarantees at least n writable bytes are available,
// compacting the buffer (sliding [readPos,writePos) to offset 0) when
// that alone suffices, and only growing the backing array when even
// writable+prependable space is insufficient.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	b.makeSpace(n)
}

// Append copies p into the buffer, growing or compacting first if
// necessary, and advances the write cursor.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.EnsureWritable(len(p))
	copy(b.buf[b.writePos:], p)
	b.writePos += len(p)
}

// AppendString is a convenience wrapper around Append for string data.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// makeSpace implements the spec's growth policy: if writable+prependable
// space still can't satisfy len, grow the backing array to
// writePos+len+1; otherwise compact in place.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.writePos+n+1)
		copy(grown, b.buf[:b.writePos])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// ReadFd performs a single scatter read from fd: one segment is the
// buffer's writable tail, the other a 64KiB stack spill, so one syscall
// can drain a full burst even when the buffer currently has little
// writable room. If the kernel returned no more than the writable tail,
// only the write cursor advances; otherwise the tail is filled, the
// cursor is pinned at capacity, and the overflow is appended (forcing
// EnsureWritable's compact-or-grow path).
//
// Returns the number of bytes read and any error from the underlying
// Readv call; on error the buffer is left in a consistent state.
func (b *Buffer) ReadFd(fd int) (int, error) {
	writable := b.WritableBytes()
	spill := make([]byte, spillSize)

	iov := make([]unix.Iovec, 2)
	if writable > 0 {
		iov[0].Base = &b.buf[b.writePos]
		iov[0].SetLen(writable)
	} else {
		// No writable tail to hand the kernel a pointer into; point at
		// the spill buffer with a zero length instead of indexing past
		// the backing array.
		iov[0].Base = &spill[0]
		iov[0].SetLen(0)
	}
	iov[1].Base = &spill[0]
	iov[1].SetLen(spillSize)

	n, err := unix.Readv(fd, iov)
	if n <= 0 {
		return n, err
	}

	if n <= writable {
		b.writePos += n
	} else {
		b.writePos = len(b.buf)
		b.Append(spill[:n-writable])
	}
	return n, err
}

// WriteFd issues a single write of the readable slice to fd and advances
// the read cursor by the number of bytes actually written.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.readPos += n
	}
	return n, err
}
