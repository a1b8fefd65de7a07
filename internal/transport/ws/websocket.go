// Package ws implements the server side of the RFC 6455 framing this relay
// speaks: a hijack-based upgrade, text frames in both directions, ping/pong
// and close handling.
package ws

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	opText  = 0x1
	opClose = 0x8
	opPing  = 0x9
	opPong  = 0xA

	// maxFramePayload bounds a single inbound frame. Events on this protocol
	// are small JSON documents; anything larger is a broken or hostile peer.
	maxFramePayload = 1 << 20

	writeTimeout = 10 * time.Second
)

// Conn is one upgraded connection. Reads must come from a single goroutine;
// writes are serialized internally so control replies and outbound events may
// interleave safely.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	mu   sync.Mutex
}

// Accept upgrades an HTTP request to a websocket connection. On failure the
// response has already been written.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if !strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, fmt.Errorf("missing upgrade header")
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, fmt.Errorf("invalid upgrade value")
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, fmt.Errorf("missing websocket key")
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return nil, fmt.Errorf("hijacking not supported")
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}
	response := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n", computeAccept(key))
	if _, err := rw.WriteString(response); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Conn{conn: conn, r: rw.Reader, w: bufio.NewWriter(conn)}, nil
}

// ReadMessage returns the next text payload. Ping frames are answered with
// pongs in place; a close frame or any transport error surfaces as io.EOF or
// the underlying error.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		opcode, payload, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		switch opcode {
		case opText:
			return payload, nil
		case opClose:
			c.mu.Lock()
			_ = c.writeFrameLocked(opClose, nil)
			c.mu.Unlock()
			return nil, io.EOF
		case opPing:
			c.mu.Lock()
			err := c.writeFrameLocked(opPong, payload)
			c.mu.Unlock()
			if err != nil {
				return nil, err
			}
		case opPong:
			// ignore
		default:
			// ignore other opcodes
		}
	}
}

// WriteMessage sends one text frame.
func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFrameLocked(opText, data)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) readFrame() (byte, []byte, error) {
	first, err := c.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	fin := first&0x80 != 0
	opcode := first & 0x0F
	second, err := c.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	masked := second&0x80 != 0
	length := int(second & 0x7F)
	switch length {
	case 126:
		var ext uint16
		if err := binary.Read(c.r, binary.BigEndian, &ext); err != nil {
			return 0, nil, err
		}
		length = int(ext)
	case 127:
		var ext uint64
		if err := binary.Read(c.r, binary.BigEndian, &ext); err != nil {
			return 0, nil, err
		}
		if ext > maxFramePayload {
			return 0, nil, fmt.Errorf("frame too large")
		}
		length = int(ext)
	}
	if length > maxFramePayload {
		return 0, nil, fmt.Errorf("frame too large")
	}
	if !masked {
		// Clients must mask; an unmasked frame means a broken peer.
		return 0, nil, fmt.Errorf("unmasked client frame")
	}
	var mask [4]byte
	if _, err := io.ReadFull(c.r, mask[:]); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return 0, nil, err
	}
	for i := range payload {
		payload[i] ^= mask[i%4]
	}
	if !fin {
		return 0, nil, fmt.Errorf("fragmented frames not supported")
	}
	return opcode, payload, nil
}

func (c *Conn) writeFrameLocked(opcode byte, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := c.w.WriteByte(0x80 | opcode); err != nil {
		return err
	}
	length := len(payload)
	switch {
	case length <= 125:
		if err := c.w.WriteByte(byte(length)); err != nil {
			return err
		}
	case length < 65536:
		if err := c.w.WriteByte(126); err != nil {
			return err
		}
		if err := binary.Write(c.w, binary.BigEndian, uint16(length)); err != nil {
			return err
		}
	default:
		if err := c.w.WriteByte(127); err != nil {
			return err
		}
		if err := binary.Write(c.w, binary.BigEndian, uint64(length)); err != nil {
			return err
		}
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	return c.w.Flush()
}

func computeAccept(key string) string {
	const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	sum := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}
