package relayclient

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"e2ee-relay/internal/domain"
	"e2ee-relay/internal/dto"
)

const (
	wsOpText  = 0x1
	wsOpClose = 0x8
	wsOpPing  = 0x9
	wsOpPong  = 0xA
)

// Conn is one live event-stream connection. ReadEvent must be called from a
// single goroutine; sends are serialized internally.
type Conn struct {
	conn net.Conn
	rw   *bufio.ReadWriter
	mu   sync.Mutex
}

// Dial connects to the relay's websocket endpoint derived from baseURL.
func Dial(baseURL string) (*Conn, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	conn, err := openConn(u)
	if err != nil {
		return nil, err
	}
	rw, key, err := sendHandshake(conn, u)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := verifyServerHandshake(rw, key); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Conn{conn: conn, rw: rw}, nil
}

// Authenticate submits the token and waits for the relay's verdict, returning
// the history replay on success.
func (c *Conn) Authenticate(token string) (*dto.AuthenticatedEvent, error) {
	if err := c.sendJSON(dto.AuthenticateEvent{Type: dto.EventAuthenticate, Token: token}); err != nil {
		return nil, err
	}
	for {
		typ, raw, err := c.ReadEvent()
		if err != nil {
			return nil, err
		}
		switch typ {
		case dto.EventAuthenticated:
			var ev dto.AuthenticatedEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, err
			}
			return &ev, nil
		case dto.EventError:
			var ev dto.ErrorEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, err
			}
			return nil, errors.New(ev.Message)
		default:
			// presence chatter may arrive before the verdict
		}
	}
}

// SendMessage submits one message and waits for the relay's ack.
func (c *Conn) SendMessage(to, body string, env *domain.Envelope) (*dto.MessageSentEvent, error) {
	ev := dto.PrivateMessageEvent{Type: dto.EventPrivateMessage, To: to, Message: body, Envelope: env}
	if err := c.sendJSON(ev); err != nil {
		return nil, err
	}
	for {
		typ, raw, err := c.ReadEvent()
		if err != nil {
			return nil, err
		}
		switch typ {
		case dto.EventMessageSent:
			var ack dto.MessageSentEvent
			if err := json.Unmarshal(raw, &ack); err != nil {
				return nil, err
			}
			return &ack, nil
		case dto.EventError:
			var ee dto.ErrorEvent
			if err := json.Unmarshal(raw, &ee); err != nil {
				return nil, err
			}
			return nil, errors.New(ee.Message)
		default:
			// skip unrelated traffic while waiting for the ack
		}
	}
}

// ReadEvent returns the next event's type tag and raw payload.
func (c *Conn) ReadEvent() (string, json.RawMessage, error) {
	payload, err := c.readText()
	if err != nil {
		return "", nil, err
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", nil, err
	}
	return head.Type, payload, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeFrame(wsOpText, data)
}

func (c *Conn) readText() ([]byte, error) {
	for {
		opcode, payload, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		switch opcode {
		case wsOpText:
			return payload, nil
		case wsOpClose:
			return nil, io.EOF
		case wsOpPing:
			if err := c.writeFrame(wsOpPong, payload); err != nil {
				return nil, err
			}
		case wsOpPong:
			// ignore
		default:
			// ignore other opcodes
		}
	}
}

func openConn(u *url.URL) (net.Conn, error) {
	host := u.Host
	switch strings.ToLower(u.Scheme) {
	case "ws":
		if !strings.Contains(host, ":") {
			host += ":80"
		}
		return net.Dial("tcp", host)
	case "wss":
		if !strings.Contains(host, ":") {
			host += ":443"
		}
		return tls.Dial("tcp", host, &tls.Config{MinVersion: tls.VersionTLS12})
	default:
		return nil, fmt.Errorf("unsupported websocket scheme %s", u.Scheme)
	}
}

func sendHandshake(conn net.Conn, u *url.URL) (*bufio.ReadWriter, string, error) {
	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, "", err
	}
	key := base64.StdEncoding.EncodeToString(keyBytes)
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: %s\r\nSec-WebSocket-Version: 13\r\n\r\n", path, u.Host, key)
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	if _, err := rw.WriteString(req); err != nil {
		return nil, "", err
	}
	if err := rw.Flush(); err != nil {
		return nil, "", err
	}
	return rw, key, nil
}

func verifyServerHandshake(rw *bufio.ReadWriter, key string) error {
	status, err := rw.ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.Contains(status, "101") {
		return fmt.Errorf("websocket handshake failed: %s", strings.TrimSpace(status))
	}
	accept, err := readAcceptHeader(rw)
	if err != nil {
		return err
	}
	if accept != computeAccept(key) {
		return fmt.Errorf("websocket handshake validation failed")
	}
	return nil
}

func readAcceptHeader(rw *bufio.ReadWriter) (string, error) {
	var accept string
	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 && strings.EqualFold(strings.TrimSpace(parts[0]), "Sec-WebSocket-Accept") {
			accept = strings.TrimSpace(parts[1])
		}
	}
	if accept == "" {
		return "", fmt.Errorf("websocket handshake validation failed")
	}
	return accept, nil
}

func (c *Conn) readFrame() (byte, []byte, error) {
	first, err := c.rw.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	fin := first&0x80 != 0
	opcode := first & 0x0F
	second, err := c.rw.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	masked := second&0x80 != 0
	length := int(second & 0x7F)
	switch length {
	case 126:
		var ext uint16
		if err := binary.Read(c.rw, binary.BigEndian, &ext); err != nil {
			return 0, nil, err
		}
		length = int(ext)
	case 127:
		var ext uint64
		if err := binary.Read(c.rw, binary.BigEndian, &ext); err != nil {
			return 0, nil, err
		}
		if ext > (1<<31 - 1) {
			return 0, nil, fmt.Errorf("frame too large")
		}
		length = int(ext)
	}
	var mask [4]byte
	if masked {
		if _, err := io.ReadFull(c.rw, mask[:]); err != nil {
			return 0, nil, err
		}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		return 0, nil, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= mask[i%4]
		}
	}
	if !fin {
		return 0, nil, fmt.Errorf("fragmented frames not supported")
	}
	return opcode, payload, nil
}

func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := c.rw.WriteByte(0x80 | opcode); err != nil {
		return err
	}
	length := len(payload)
	switch {
	case length <= 125:
		if err := c.rw.WriteByte(0x80 | byte(length)); err != nil {
			return err
		}
	case length < 65536:
		if err := c.rw.WriteByte(0x80 | 126); err != nil {
			return err
		}
		if err := binary.Write(c.rw, binary.BigEndian, uint16(length)); err != nil {
			return err
		}
	default:
		if err := c.rw.WriteByte(0x80 | 127); err != nil {
			return err
		}
		if err := binary.Write(c.rw, binary.BigEndian, uint64(length)); err != nil {
			return err
		}
	}
	var mask [4]byte
	if _, err := rand.Read(mask[:]); err != nil {
		return err
	}
	if _, err := c.rw.Write(mask[:]); err != nil {
		return err
	}
	masked := make([]byte, length)
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}
	if _, err := c.rw.Write(masked); err != nil {
		return err
	}
	return c.rw.Flush()
}

func computeAccept(key string) string {
	const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	sum := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func websocketURL(base string) (string, error) {
	base = normalizeBaseURL(base)
	if base == "" {
		return "", fmt.Errorf("relay base URL missing")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
