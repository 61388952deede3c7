// Package broker maintains the single long-lived STOMP session to the
// message broker, multiplexing topic subscriptions and publishes over it.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/stomp"
)

const dialTimeout = 10 * time.Second

// Config wires a Manager. Token is read on every (re)connect so a refreshed
// credential is picked up without rebuilding the manager.
type Config struct {
	URL   string
	Token func() string

	// ReconnectDelay between attempts after unexpected closure. Retries are
	// unbounded until Disconnect. Default 5s.
	ReconnectDelay time.Duration
	// Heartbeat offered to the broker in both directions; 0 disables.
	Heartbeat time.Duration
}

type subscription struct {
	id      string
	handler func(model.Event)
}

// Manager owns at most one live broker session. All methods are safe for
// concurrent use. Topic handlers run on the manager's read goroutine: one
// handler per topic at a time, events delivered in wire order.
//
// Subscribing a topic twice with different handlers without unsubscribing
// first is a caller error; which handler fires is undefined.
type Manager struct {
	cfg  Config
	host string

	mu        sync.Mutex
	conn      *stomp.Conn
	connected bool
	closing   bool
	dialing   bool
	retry     *time.Timer
	subs      map[string]*subscription
	nextSub   int

	onConnected func()
	onError     func(error)
}

// New builds a manager; no I/O happens until Connect.
func New(cfg Config) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	host := "localhost"
	if u, err := url.Parse(cfg.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return &Manager{
		cfg:  cfg,
		host: host,
		subs: make(map[string]*subscription),
	}
}

// Connected reports whether a live session exists right now.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Connect establishes the session. Idempotent: when already connected,
// onConnected fires immediately. Transport failures are retried forever at
// the configured delay; broker-level errors (bad credentials, protocol) are
// fatal and reported once via onError — the caller re-authenticates and
// calls Connect again.
func (m *Manager) Connect(onConnected func(), onError func(error)) {
	m.mu.Lock()
	m.closing = false
	if onConnected != nil {
		m.onConnected = onConnected
	}
	if onError != nil {
		m.onError = onError
	}
	if m.connected {
		cb := m.onConnected
		m.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	if m.dialing {
		m.mu.Unlock()
		return
	}
	m.dialing = true
	m.mu.Unlock()

	go m.dial(false)
}

func (m *Manager) dial(isRetry bool) {
	m.mu.Lock()
	if m.closing {
		m.dialing = false
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if isRetry {
		metrics.Reconnects.Inc()
	}

	var token string
	if m.cfg.Token != nil {
		token = m.cfg.Token()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := stomp.Dial(ctx, m.cfg.URL, nil)
	cancel()
	if err != nil {
		logger.Warnf("broker: dial failed: %v", err)
		m.scheduleReconnect()
		return
	}

	if err := conn.Connect(m.host, token, m.cfg.Heartbeat); err != nil {
		conn.Close()
		var be *stomp.BrokerError
		if errors.As(err, &be) {
			m.fail(err)
			return
		}
		logger.Warnf("broker: handshake failed: %v", err)
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if m.closing {
		m.dialing = false
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.connected = true
	m.dialing = false
	for topic, sub := range m.subs {
		if err := conn.SendFrame(subscribeFrame(sub.id, topic)); err != nil {
			logger.Errorf("broker: resubscribe %s: %v", topic, err)
		}
	}
	cb := m.onConnected
	m.mu.Unlock()

	logger.Infof("broker: connected to %s", m.cfg.URL)
	go m.readLoop(conn)
	go m.heartbeatLoop(conn)
	if cb != nil {
		cb()
	}
}

// fail reports a fatal error and stops retrying.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.connected = false
	m.dialing = false
	m.conn = nil
	cb := m.onError
	m.mu.Unlock()

	logger.Errorf("broker: fatal: %v", err)
	if cb != nil {
		cb(err)
	}
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialing = false
	if m.closing || m.retry != nil {
		return
	}
	m.retry = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		m.retry = nil
		if m.closing || m.connected || m.dialing {
			m.mu.Unlock()
			return
		}
		m.dialing = true
		m.mu.Unlock()
		m.dial(true)
	})
}

func (m *Manager) readLoop(conn *stomp.Conn) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			m.connectionLost(conn, err)
			return
		}
		switch f.Command {
		case stomp.CmdMessage:
			m.dispatch(f)
		case stomp.CmdError:
			m.mu.Lock()
			current := m.conn == conn
			if current {
				m.conn = nil
				m.connected = false
			}
			m.mu.Unlock()
			conn.Close()
			if current {
				m.fail(&stomp.BrokerError{Message: f.Header("message"), Body: string(f.Body)})
			}
			return
		case stomp.CmdReceipt:
			// Receipts are not requested; ignore.
		default:
			logger.Debugf("broker: ignoring %s frame", f.Command)
		}
	}
}

// connectionLost handles an unexpected closure: transient, retried forever.
func (m *Manager) connectionLost(conn *stomp.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn || m.closing {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connected = false
	m.mu.Unlock()

	conn.Close()
	logger.Warnf("broker: connection lost: %v", err)
	m.scheduleReconnect()
}

func (m *Manager) heartbeatLoop(conn *stomp.Conn) {
	interval := conn.SendInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		live := m.conn == conn
		m.mu.Unlock()
		if !live {
			return
		}
		if err := conn.SendHeartbeat(); err != nil {
			return
		}
	}
}

func (m *Manager) dispatch(f *stomp.Frame) {
	topic := f.Header("destination")
	m.mu.Lock()
	sub := m.subs[topic]
	if sub == nil {
		// Some brokers omit destination on MESSAGE; fall back to the
		// subscription id.
		if id := f.Header("subscription"); id != "" {
			for _, s := range m.subs {
				if s.id == id {
					sub = s
					break
				}
			}
		}
	}
	m.mu.Unlock()
	if sub == nil {
		logger.Debugf("broker: no subscription for %s", topic)
		return
	}

	var ev model.Event
	if err := json.Unmarshal(f.Body, &ev); err != nil {
		logger.Warnf("broker: dropping undecodable event on %s: %v", topic, err)
		return
	}
	sub.handler(ev)
}

// Subscribe registers handler for topic. No-op when disconnected or when the
// topic already has a subscription.
func (m *Manager) Subscribe(topic string, handler func(model.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected || m.subs[topic] != nil {
		return
	}
	m.nextSub++
	sub := &subscription{id: fmt.Sprintf("sub-%d", m.nextSub), handler: handler}
	if err := m.conn.SendFrame(subscribeFrame(sub.id, topic)); err != nil {
		logger.Errorf("broker: subscribe %s: %v", topic, err)
		return
	}
	m.subs[topic] = sub
}

// Unsubscribe releases the topic's subscription if present.
func (m *Manager) Unsubscribe(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := m.subs[topic]
	if sub == nil {
		return
	}
	delete(m.subs, topic)
	if m.connected && m.conn != nil {
		if err := m.conn.SendFrame(stomp.NewFrame(stomp.CmdUnsubscribe, "id", sub.id)); err != nil {
			logger.Errorf("broker: unsubscribe %s: %v", topic, err)
		}
	}
}

// Publish serializes payload as JSON and sends it to destination. When
// disconnected the call is dropped with a warning; callers needing
// guaranteed delivery check Connected first and use their own fallback.
func (m *Manager) Publish(destination string, payload any) {
	m.mu.Lock()
	conn := m.conn
	connected := m.connected
	m.mu.Unlock()

	if !connected || conn == nil {
		logger.Warnf("broker: not connected, dropping publish to %s", destination)
		metrics.PublishDropped.Inc()
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("broker: marshal publish to %s: %v", destination, err)
		return
	}
	f := stomp.NewFrame(stomp.CmdSend,
		"destination", destination,
		"content-type", "application/json",
	)
	f.Body = body
	if err := conn.SendFrame(f); err != nil {
		logger.Errorf("broker: publish to %s: %v", destination, err)
	}
}

// Disconnect unsubscribes all topics, closes the session and stops any
// pending reconnect. Idempotent. A later Connect starts fresh.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	conn := m.conn
	subs := m.subs
	m.conn = nil
	m.connected = false
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	if conn == nil {
		return
	}
	for _, sub := range subs {
		if err := conn.SendFrame(stomp.NewFrame(stomp.CmdUnsubscribe, "id", sub.id)); err != nil {
			break
		}
	}
	if err := conn.SendFrame(stomp.NewFrame(stomp.CmdDisconnect)); err == nil {
		// Give the frame a moment to flush before tearing the socket down.
		time.Sleep(50 * time.Millisecond)
	}
	conn.Close()
	logger.Info("broker: disconnected")
}

func subscribeFrame(id, topic string) *stomp.Frame {
	return stomp.NewFrame(stomp.CmdSubscribe,
		"id", id,
		"destination", topic,
		"ack", "auto",
	)
}
