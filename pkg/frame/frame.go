// Package frame implements the length-prefixed request/response
// framing that carries the cluster wire protocol over a single TCP
// connection per client (spec §4.1). Each frame is:
//
//	4 bytes  payload length (big endian)
//	4 bytes  counter (monotonic per direction, pairs responses to requests)
//	N bytes  payload: "<command> <body>" (one ASCII space separates them)
//
// A frame with an empty body still carries the separating space so the
// split is unambiguous.
package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cuemby/wazuh-cluster/pkg/clustererr"
)

// MaxPayload bounds a single frame's payload to guard against a
// corrupt length prefix turning into an unbounded allocation.
const MaxPayload = 256 << 20 // 256 MiB, generous for a merged archive chunk

// Frame is one decoded message.
type Frame struct {
	Counter uint32
	Command string
	Body    []byte
}

// Conn wraps a net.Conn with frame-level read/write and per-direction
// counters. Reads and writes are independently synchronized so the
// handler's request/response loop can be interleaved with other
// goroutines writing unsolicited frames (e.g. a worker streaming an
// archive) without corrupting the wire.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader

	writeMu sync.Mutex
	sendCtr uint32
}

// NewConn wraps an established TCP connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReaderSize(nc, 64<<10)}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// RemoteAddr returns the connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Encode joins command and body into one "<command> <body>" payload.
// Commands never contain a space, so the first space is always the
// separator.
func Encode(command string, body []byte) []byte {
	buf := make([]byte, 0, len(command)+1+len(body))
	buf = append(buf, command...)
	buf = append(buf, ' ')
	buf = append(buf, body...)
	return buf
}

// Split parses a raw frame payload into command and body.
func Split(payload []byte) (command string, body []byte, err error) {
	idx := bytes.IndexByte(payload, ' ')
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: missing command separator", clustererr.ErrMalformedFrame)
	}
	return string(payload[:idx]), payload[idx+1:], nil
}

// WriteFrame writes one frame, using the next counter value for this
// connection's send direction, and returns the counter it used.
func (c *Conn) WriteFrame(command string, body []byte) (uint32, error) {
	ctr := atomic.AddUint32(&c.sendCtr, 1)
	if err := c.writeFrameWithCounter(ctr, command, body); err != nil {
		return 0, err
	}
	return ctr, nil
}

// WriteResponse writes a frame pairing it with a counter previously
// read from the peer, so the peer can match request to response.
func (c *Conn) WriteResponse(counter uint32, command string, body []byte) error {
	return c.writeFrameWithCounter(counter, command, body)
}

func (c *Conn) writeFrameWithCounter(counter uint32, command string, body []byte) error {
	payload := Encode(command, body)
	if len(payload) > MaxPayload {
		return fmt.Errorf("frame: payload of %d bytes exceeds max %d", len(payload), MaxPayload)
	}

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], counter)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.nc.Write(header); err != nil {
		return fmt.Errorf("frame: writing header: %w", err)
	}
	if _, err := c.nc.Write(payload); err != nil {
		return fmt.Errorf("frame: writing payload: %w", err)
	}
	return nil
}

// ReadFrame blocks until one full frame has been read.
func (c *Conn) ReadFrame() (*Frame, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(c.r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading header: %v", clustererr.ErrMalformedFrame, err)
	}

	length := binary.BigEndian.Uint32(header[0:4])
	counter := binary.BigEndian.Uint32(header[4:8])
	if length > MaxPayload {
		return nil, fmt.Errorf("%w: payload length %d exceeds max %d", clustererr.ErrMalformedFrame, length, MaxPayload)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", clustererr.ErrMalformedFrame, err)
	}

	command, body, err := Split(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Counter: counter, Command: command, Body: body}, nil
}
