// Package conn implements spec.md §4.7's HttpConn: the per-connection
// driver that owns a read buffer, a write buffer, the incremental
// parser and response builder, and performs the gathered write across
// header bytes and an mmap'd body. Grounded on
// original_source/code/http/httpconn.h's field layout and
// read/process/write/Close method set, and on the teacher's
// http11/connection.go for the Go-idiomatic state-machine/atomics
// style.
package conn

import (
	"context"
	"fmt"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/yourusername/voltaic/internal/auth"
	"github.com/yourusername/voltaic/internal/buffer"
	"github.com/yourusername/voltaic/internal/httpproto"
)

// Outcome reports what a Conn stage produced, so the reactor knows how
// to re-arm without this package knowing anything about epoll.
type Outcome int

const (
	OutcomeNeedMoreData Outcome = iota // re-arm for read
	OutcomeResponseReady                // re-arm for write
	OutcomeWriteComplete                // keep-alive: reset, re-arm for read
	OutcomeClose                         // write failed or wrote zero bytes
)

// Conn is one accepted connection's state. Not safe for concurrent use;
// spec.md §5 guarantees at most one worker touches a given Conn at a
// time, serialized by the reactor's one-shot re-arm discipline.
type Conn struct {
	fd     int
	addr   netip.AddrPort
	srcDir string
	isET   bool

	closed bool

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer

	request  *httpproto.Request
	response *httpproto.Response

	iovHeader []byte
	iovBody   []byte

	backend auth.Backend
	users   *atomic.Int64
}

// New wraps fd (already accepted and set nonblocking by the caller)
// into a Conn. users is the process-wide connection counter (spec §3's
// "one atomic, process-wide"); New increments it and Close decrements
// it exactly once.
func New(fd int, addr netip.AddrPort, srcDir string, isET bool, backend auth.Backend, users *atomic.Int64) *Conn {
	users.Add(1)
	return &Conn{
		fd:       fd,
		addr:     addr,
		srcDir:   srcDir,
		isET:     isET,
		readBuf:  buffer.New(1024),
		writeBuf: buffer.New(1024),
		request:  httpproto.New(),
		backend:  backend,
		users:    users,
	}
}

// Fd returns the underlying socket descriptor.
func (c *Conn) Fd() int { return c.fd }

// Addr returns the peer's address.
func (c *Conn) Addr() netip.AddrPort { return c.addr }

// IsKeepAlive reports whether the most recently parsed request asked to
// keep the connection open.
func (c *Conn) IsKeepAlive() bool { return c.request.IsKeepAlive() }

// ToWriteBytes reports how many bytes remain across both gather-write
// segments.
func (c *Conn) ToWriteBytes() int { return len(c.iovHeader) + len(c.iovBody) }

// Read repeatedly scatter-reads from fd into readBuf until a
// non-positive result (edge-triggered) or once (level-triggered),
// aggregating the byte count, per spec.md §4.7.
func (c *Conn) Read() (int, error) {
	total := 0
	for {
		n, err := c.readBuf.ReadFd(c.fd)
		if n > 0 {
			total += n
		}
		if err != nil {
			if isWouldBlock(err) {
				return total, nil
			}
			return total, err
		}
		if n <= 0 {
			return total, nil
		}
		if !c.isET {
			return total, nil
		}
	}
}

// Process drives the parser. It returns OutcomeNeedMoreData when the
// request is incomplete (caller re-arms for read), OutcomeResponseReady
// once a full response has been built into the write buffer and iov
// segments (caller re-arms for write). A parse error also yields
// OutcomeResponseReady, with a 400 response (Connection: close) built in
// place of the requested file.
func (c *Conn) Process(ctx context.Context) Outcome {
	done, err := c.request.Parse(ctx, c.readBuf, c.backend)
	if err != nil {
		c.buildErrorResponse(httpproto.StatusBadRequest)
		return OutcomeResponseReady
	}
	if !done {
		return OutcomeNeedMoreData
	}
	c.buildResponse()
	return OutcomeResponseReady
}

func (c *Conn) buildResponse() {
	resp := httpproto.NewResponse(c.srcDir, c.request.Path, c.request.IsKeepAlive(), -1)
	c.finishResponse(resp)
}

func (c *Conn) buildErrorResponse(code int) {
	resp := httpproto.NewResponse(c.srcDir, c.request.Path, false, code)
	c.finishResponse(resp)
}

func (c *Conn) finishResponse(resp *httpproto.Response) {
	if c.response != nil {
		c.response.Close()
	}
	c.response = resp
	_ = resp.MakeResponse(c.writeBuf)
	c.iovHeader = []byte(c.writeBuf.RetrieveAll())
	c.iovBody = resp.Body()
}

// Write issues one gathered write across the header and body segments,
// draining segment 0 (headers) fully before reducing segment 1 (body),
// looping on edge-triggered sockets until EAGAIN or all bytes drained.
// It returns OutcomeWriteComplete when both segments are empty,
// OutcomeResponseReady if more remains (the socket would block, or a
// level-triggered socket's single write left bytes), or OutcomeClose on
// an unrecoverable write error.
func (c *Conn) Write() (Outcome, error) {
	for {
		if len(c.iovHeader) == 0 && len(c.iovBody) == 0 {
			return OutcomeWriteComplete, nil
		}

		n, err := c.writev()
		if err != nil {
			if isWouldBlock(err) {
				return OutcomeResponseReady, nil
			}
			return OutcomeClose, err
		}
		if n == 0 {
			return OutcomeClose, fmt.Errorf("conn: zero-length write")
		}
		c.advance(n)

		if !c.isET {
			if len(c.iovHeader) == 0 && len(c.iovBody) == 0 {
				return OutcomeWriteComplete, nil
			}
			return OutcomeResponseReady, nil
		}
	}
}

func (c *Conn) writev() (int, error) {
	var iovs []unix.Iovec
	if len(c.iovHeader) > 0 {
		iovs = append(iovs, unix.Iovec{Base: &c.iovHeader[0]})
		iovs[len(iovs)-1].SetLen(len(c.iovHeader))
	}
	if len(c.iovBody) > 0 {
		iovs = append(iovs, unix.Iovec{Base: &c.iovBody[0]})
		iovs[len(iovs)-1].SetLen(len(c.iovBody))
	}
	if len(iovs) == 0 {
		return 0, nil
	}
	return unix.Writev(c.fd, iovs)
}

// advance drops n written bytes, fully draining the header segment
// before touching the body segment, matching the source's iov_[0]-then-
// iov_[1] drain order.
func (c *Conn) advance(n int) {
	if n <= 0 {
		return
	}
	if len(c.iovHeader) > 0 {
		if n < len(c.iovHeader) {
			c.iovHeader = c.iovHeader[n:]
			return
		}
		n -= len(c.iovHeader)
		c.iovHeader = nil
	}
	if n > 0 {
		if n >= len(c.iovBody) {
			c.iovBody = nil
		} else {
			c.iovBody = c.iovBody[n:]
		}
	}
}

// ResetForNextRequest clears parsed/response state after a keep-alive
// write completes, leaving the Conn ready for another request/process/
// write cycle on the same fd.
func (c *Conn) ResetForNextRequest() {
	if c.response != nil {
		c.response.Close()
		c.response = nil
	}
	c.request.Reset()
	c.iovHeader = nil
	c.iovBody = nil
}

// Close releases the mmap mapping (if any), closes the socket, and
// decrements the shared connection counter. Safe to call more than
// once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.response != nil {
		c.response.Close()
	}
	c.users.Add(-1)
	return unix.Close(c.fd)
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
