package stomp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/logger"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// BrokerError is a fatal ERROR frame from the broker (bad credentials,
// protocol violation). It is not retried.
type BrokerError struct {
	Message string
	Body    string
}

func (e *BrokerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stomp: broker error: %s: %s", e.Message, e.Body)
	}
	return fmt.Sprintf("stomp: broker error: %s", e.Message)
}

// Conn is one STOMP session over a WebSocket connection. Reads must come
// from a single goroutine; writes are serialized internally.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	// Negotiated heartbeats; zero disables the respective direction.
	sendInterval time.Duration
	readTimeout  time.Duration
}

// Dial opens the WebSocket transport. The STOMP handshake is a separate
// Connect call so that transport and protocol failures stay distinguishable.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stomp: dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stomp: dial %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

// Connect performs the STOMP handshake. heartbeat is offered for both
// directions (0 disables). A broker ERROR response is returned as
// *BrokerError; transport failures as ordinary errors.
func (c *Conn) Connect(host, token string, heartbeat time.Duration) error {
	hb := fmt.Sprintf("%d,%d", heartbeat.Milliseconds(), heartbeat.Milliseconds())
	f := NewFrame(CmdConnect,
		"accept-version", "1.2",
		"host", host,
		"heart-beat", hb,
	)
	if token != "" {
		f.AddHeader("Authorization", "Bearer "+token)
	}
	if err := c.SendFrame(f); err != nil {
		return err
	}

	deadline := time.Now().Add(handshakeTimeout)
	for {
		if err := c.ws.SetReadDeadline(deadline); err != nil {
			return err
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("stomp: connect read: %w", err)
		}
		resp, err := Unmarshal(data)
		if err != nil {
			return err
		}
		if resp == nil {
			continue // heartbeat
		}
		switch resp.Command {
		case CmdConnected:
			c.negotiateHeartbeat(heartbeat, resp.Header("heart-beat"))
			return nil
		case CmdError:
			return &BrokerError{Message: resp.Header("message"), Body: string(resp.Body)}
		default:
			return fmt.Errorf("stomp: unexpected %s during handshake", resp.Command)
		}
	}
}

// negotiateHeartbeat applies the STOMP rule: each direction runs at the
// slower of what one side offers and the other expects.
func (c *Conn) negotiateHeartbeat(ours time.Duration, server string) {
	sx, sy := int64(0), int64(0)
	if parts := strings.SplitN(server, ",", 2); len(parts) == 2 {
		sx, _ = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		sy, _ = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	}
	ms := ours.Milliseconds()
	if ms > 0 && sy > 0 {
		c.sendInterval = time.Duration(max(ms, sy)) * time.Millisecond
	}
	if ms > 0 && sx > 0 {
		// Double the interval as slack before declaring the peer dead.
		c.readTimeout = 2 * time.Duration(max(ms, sx)) * time.Millisecond
	}
}

// SendInterval is how often SendHeartbeat must be called; zero means never.
func (c *Conn) SendInterval() time.Duration {
	return c.sendInterval
}

// ReadFrame returns the next protocol frame, skipping heartbeats and
// dropping malformed payloads. It blocks until a frame arrives, the
// heartbeat window lapses, or the transport fails.
func (c *Conn) ReadFrame() (*Frame, error) {
	for {
		if c.readTimeout > 0 {
			if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				return nil, err
			}
		} else {
			if err := c.ws.SetReadDeadline(time.Time{}); err != nil {
				return nil, err
			}
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := Unmarshal(data)
		if err != nil {
			logger.Warnf("stomp: dropping malformed frame (%d bytes)", len(data))
			continue
		}
		if f == nil {
			continue // heartbeat
		}
		return f, nil
	}
}

// SendFrame writes one frame. Safe for concurrent use.
func (c *Conn) SendFrame(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, Marshal(f))
}

// SendHeartbeat writes a bare EOL keep-alive.
func (c *Conn) SendHeartbeat() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte("\n"))
}

// Close tears down the transport. Any blocked ReadFrame returns with an error.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
