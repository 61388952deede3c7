// Package stomp implements the STOMP 1.2 framing used by the backend broker,
// carried over a WebSocket message transport.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

var ErrMalformedFrame = errors.New("stomp: malformed frame")

// Header is one STOMP header line. Headers keep insertion order; on lookup
// the first occurrence wins, as the protocol requires.
type Header struct {
	Name  string
	Value string
}

// Frame is one STOMP frame. A nil body is serialized as an empty body.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// NewFrame builds a frame from alternating header name/value pairs.
func NewFrame(command string, headers ...string) *Frame {
	f := &Frame{Command: command}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers = append(f.Headers, Header{Name: headers[i], Value: headers[i+1]})
	}
	return f
}

// Header returns the value of the first header with the given name.
func (f *Frame) Header(name string) string {
	for _, h := range f.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// AddHeader appends a header.
func (f *Frame) AddHeader(name, value string) {
	f.Headers = append(f.Headers, Header{Name: name, Value: value})
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

func unescapeHeader(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", ErrMalformedFrame
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			// Undefined escape sequences are fatal per STOMP 1.2.
			return "", ErrMalformedFrame
		}
	}
	return b.String(), nil
}

// escaped reports whether the frame's headers use escape sequences; the
// CONNECT/CONNECTED handshake predates escaping and is exempt.
func escaped(command string) bool {
	return command != CmdConnect && command != CmdConnected
}

// Marshal serializes the frame, NUL-terminated.
func Marshal(f *Frame) []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for _, h := range f.Headers {
		if escaped(f.Command) {
			b.WriteString(headerEscaper.Replace(h.Name))
			b.WriteByte(':')
			b.WriteString(headerEscaper.Replace(h.Value))
		} else {
			b.WriteString(h.Name)
			b.WriteByte(':')
			b.WriteString(h.Value)
		}
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		b.WriteString(fmt.Sprintf("content-length:%d\n", len(f.Body)))
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Unmarshal parses one frame. Heartbeats (a bare EOL or empty payload)
// return (nil, nil).
func Unmarshal(data []byte) (*Frame, error) {
	data = bytes.TrimPrefix(data, []byte("\r\n"))
	if len(data) == 0 || (len(data) == 1 && data[0] == '\n') {
		return nil, nil
	}

	head, body, found := bytes.Cut(data, []byte("\n\n"))
	if !found {
		head, body, found = bytes.Cut(data, []byte("\r\n\r\n"))
		if !found {
			return nil, ErrMalformedFrame
		}
	}
	body = bytes.TrimSuffix(body, []byte{0})

	lines := strings.Split(string(head), "\n")
	f := &Frame{Command: strings.TrimSuffix(lines[0], "\r")}
	if f.Command == "" {
		return nil, ErrMalformedFrame
	}
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return nil, ErrMalformedFrame
		}
		if escaped(f.Command) {
			var err error
			if name, err = unescapeHeader(name); err != nil {
				return nil, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, err
			}
		}
		f.Headers = append(f.Headers, Header{Name: name, Value: value})
	}
	if len(body) > 0 {
		f.Body = body
	}
	return f, nil
}
