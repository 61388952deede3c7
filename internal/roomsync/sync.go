// Package roomsync merges a one-time history fetch with a live subscription
// feed into one ordered, deduplicated view of the active conversation, and
// owns sending, typing emission and receipt/reaction state.
package roomsync

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
)

const (
	topicPrefix    = "/topic/room."
	destSend       = "/app/chat.sendMessage"
	destTyping     = "/app/chat.typing"
	destStopTyping = "/app/chat.stopTyping"
	destReaction   = "/app/chat.reaction"

	defaultTypingTimeout = 3 * time.Second
)

var (
	ErrClosed       = errors.New("roomsync: synchronizer closed")
	ErrNoActiveRoom = errors.New("roomsync: no active conversation")
	ErrEmptyMessage = errors.New("roomsync: empty message")
)

// State of the synchronizer's conversation lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateSubscribed State = "subscribed"
	StateClosed     State = "closed"
)

// Broker is the slice of the connection manager the synchronizer uses. It
// never touches connection internals directly.
type Broker interface {
	Connected() bool
	Subscribe(topic string, handler func(model.Event))
	Unsubscribe(topic string)
	Publish(destination string, payload any)
}

// Backend is the slice of the REST client the synchronizer uses.
type Backend interface {
	Messages(ctx context.Context, roomID string) ([]model.Message, error)
	PostMessage(ctx context.Context, msg model.Message) (model.Message, error)
	UploadFile(ctx context.Context, r io.Reader, filename, userID, roomID string, size int64) (model.FileMetadata, error)
	FileMetadata(ctx context.Context, fileID string) (model.FileMetadata, error)
}

// History is an optional local write-through cache of the merged view.
type History interface {
	ReplaceRoom(roomID string, msgs []model.Message) error
	Append(msg model.Message) error
	Load(roomID string) ([]model.Message, error)
}

// User identifies the local participant.
type User struct {
	ID   string
	Name string
}

// Config carries the synchronizer's optional collaborators.
type Config struct {
	History       History
	TypingTimeout time.Duration
	// OnUpdate fires after every change to the merged view; the rendering
	// layer pulls Messages()/TypingUser() in response. Runs on the calling
	// or broker-read goroutine — keep it cheap.
	OnUpdate func()
}

// Attachment is a to-be-uploaded file handed to SendMessage.
type Attachment struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Synchronizer keeps the merged message view for at most one conversation
// at a time. All exported methods are safe for concurrent use.
type Synchronizer struct {
	api    Backend
	broker Broker
	user   User
	cfg    Config

	mu     sync.Mutex
	state  State
	roomID string
	// gen tags each history fetch; a late result for an abandoned room is
	// discarded when its tag no longer matches.
	gen int

	msgs       []model.Message
	byID       map[string]int
	byClientID map[string]int

	typingUser   string
	typingTimer  *time.Timer
	typingActive bool

	fileMeta     map[string]model.FileMetadata
	fileFetching map[string]bool
}

// New wires a synchronizer. Collaborators are injected; the synchronizer
// owns no process-wide state.
func New(api Backend, br Broker, user User, cfg Config) *Synchronizer {
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = defaultTypingTimeout
	}
	return &Synchronizer{
		api:          api,
		broker:       br,
		user:         user,
		cfg:          cfg,
		state:        StateIdle,
		byID:         make(map[string]int),
		byClientID:   make(map[string]int),
		fileMeta:     make(map[string]model.FileMetadata),
		fileFetching: make(map[string]bool),
	}
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the active conversation ID, empty when idle.
func (s *Synchronizer) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Messages returns a snapshot of the merged view.
func (s *Synchronizer) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// TypingUser returns the display name of the remote participant currently
// typing, empty when nobody is.
func (s *Synchronizer) TypingUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingUser
}

// FileMeta returns cached metadata for an attachment reference.
func (s *Synchronizer) FileMeta(fileID string) (model.FileMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.fileMeta[fileID]
	return meta, ok
}

// CachedHistory returns the locally cached history for a room, for rendering
// before Open's fetch resolves. Nil without a configured cache.
func (s *Synchronizer) CachedHistory(roomID string) []model.Message {
	if s.cfg.History == nil {
		return nil
	}
	msgs, err := s.cfg.History.Load(roomID)
	if err != nil {
		logger.Warnf("roomsync: load cached history %s: %v", roomID, err)
		return nil
	}
	return msgs
}

// Open activates a conversation: unsubscribes the previous topic first,
// fetches history, installs it as the local view, then subscribes to the
// room's topic. A fetch failure surfaces to the caller and leaves the
// synchronizer in Loading; the caller retries or opens another room.
// Opening another room while a fetch is in flight abandons the stale result.
func (s *Synchronizer) Open(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateSubscribed {
		if s.roomID == roomID {
			s.mu.Unlock()
			return nil
		}
		// Unsubscribe before loading the next room so no event of the old
		// conversation leaks into the new view.
		s.broker.Unsubscribe(topicPrefix + s.roomID)
	}
	s.stopTypingTimerLocked()
	s.typingUser = ""
	s.typingActive = false
	s.roomID = roomID
	s.state = StateLoading
	s.resetViewLocked(nil)
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.notify()

	history, err := s.api.Messages(ctx, roomID)

	s.mu.Lock()
	if s.gen != gen || s.state == StateClosed {
		// The room was switched or the synchronizer torn down while the
		// fetch was in flight; this result belongs to an abandoned room.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.resetViewLocked(history)
	s.state = StateSubscribed
	s.broker.Subscribe(topicPrefix+roomID, s.handleEvent)
	var refs []string
	for _, m := range history {
		refs = append(refs, s.missingFileRefsLocked(m)...)
	}
	s.mu.Unlock()

	if s.cfg.History != nil {
		if err := s.cfg.History.ReplaceRoom(roomID, history); err != nil {
			logger.Warnf("roomsync: cache history %s: %v", roomID, err)
		}
	}
	s.fetchFileMeta(refs)
	s.notify()
	return nil
}

// Close is terminal: unsubscribes, stops timers and discards local state.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state == StateSubscribed {
		s.broker.Unsubscribe(topicPrefix + s.roomID)
	}
	s.stopTypingTimerLocked()
	s.state = StateClosed
	s.roomID = ""
	s.resetViewLocked(nil)
	s.mu.Unlock()
}

// SendMessage sends content with an optional attachment. While connected the
// message is published to the broker only; the broadcast echo populates the
// view (no optimistic append, so the echo cannot duplicate it). While
// disconnected it is persisted over REST and the response, carrying the
// backend-assigned ID, is appended immediately since no echo will arrive.
func (s *Synchronizer) SendMessage(ctx context.Context, content string, att *Attachment) (model.Message, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return model.Message{}, ErrClosed
	}
	if s.state != StateSubscribed || s.roomID == "" {
		s.mu.Unlock()
		return model.Message{}, ErrNoActiveRoom
	}
	roomID := s.roomID
	s.mu.Unlock()

	msg := model.Message{
		ClientID:   uuid.NewString(),
		ChatRoomID: roomID,
		SenderID:   s.user.ID,
		SenderName: s.user.Name,
		Content:    content,
		Type:       model.EventChat,
		Timestamp:  time.Now().UTC(),
	}

	if att != nil {
		meta, err := s.api.UploadFile(ctx, att.Reader, att.Name, s.user.ID, roomID, att.Size)
		if err != nil {
			// No partial send: the message is never built around a failed
			// upload.
			return model.Message{}, err
		}
		msg.Type = model.EventFile
		msg.Attachments = []string{meta.FileID}
		s.mu.Lock()
		s.fileMeta[meta.FileID] = meta
		s.mu.Unlock()
	}

	if msg.IsEmpty() {
		return model.Message{}, ErrEmptyMessage
	}

	if s.broker.Connected() {
		s.broker.Publish(destSend, msg)
		metrics.SendsTotal.WithLabelValues("broker").Inc()
		return msg, nil
	}

	persisted, err := s.api.PostMessage(ctx, msg)
	if err != nil {
		return model.Message{}, err
	}
	metrics.SendsTotal.WithLabelValues("rest").Inc()

	s.mu.Lock()
	if s.roomID == roomID && s.state == StateSubscribed {
		s.appendLocked(persisted)
	}
	s.mu.Unlock()
	s.cacheAppend(persisted)
	s.notify()
	return persisted, nil
}

// SendReaction publishes a reaction for an existing message. Fire-and-forget
// like any publish; the authoritative reaction map arrives as an event.
func (s *Synchronizer) SendReaction(messageID, emoji string) {
	s.mu.Lock()
	roomID := s.roomID
	active := s.state == StateSubscribed
	s.mu.Unlock()
	if !active {
		return
	}
	s.broker.Publish(destReaction, map[string]string{
		"messageId":  messageID,
		"chatRoomId": roomID,
		"senderId":   s.user.ID,
		"emoji":      emoji,
	})
}

// Typing reports local input activity. The first call of a burst publishes
// TYPING; each call resets the silence timer, and only its expiry publishes
// STOP_TYPING — debounced, one start and one stop per burst.
func (s *Synchronizer) Typing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubscribed {
		return
	}
	roomID := s.roomID
	gen := s.gen

	if !s.typingActive {
		s.typingActive = true
		s.broker.Publish(destTyping, s.presencePayload(roomID, model.EventTyping))
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingTimeout, func() {
		s.mu.Lock()
		if s.state == StateClosed || s.gen != gen || !s.typingActive {
			s.mu.Unlock()
			return
		}
		s.typingActive = false
		s.typingTimer = nil
		s.mu.Unlock()
		s.broker.Publish(destStopTyping, s.presencePayload(roomID, model.EventStopTyping))
	})
}

func (s *Synchronizer) presencePayload(roomID string, kind model.EventType) model.Event {
	return model.Event{
		Type:       kind,
		ChatRoomID: roomID,
		SenderID:   s.user.ID,
		SenderName: s.user.Name,
		Timestamp:  time.Now().UTC(),
	}
}

// handleEvent merges one inbound event. It runs on the broker's read
// goroutine; events of one subscription arrive and merge in wire order.
func (s *Synchronizer) handleEvent(ev model.Event) {
	s.mu.Lock()
	if s.state != StateSubscribed || ev.ChatRoomID != s.roomID {
		// Cross-conversation leakage guard; also covers events raced in
		// after a switch.
		s.mu.Unlock()
		return
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	var appended *model.Message
	var refs []string

	switch ev.Type {
	case model.EventTyping:
		if ev.SenderID != s.user.ID {
			s.typingUser = senderLabel(ev)
		}
	case model.EventStopTyping:
		if s.typingUser == senderLabel(ev) {
			s.typingUser = ""
		}
	case model.EventReaction:
		// Replace-or-drop: no out-of-order buffering for unknown messages.
		if i, ok := s.byID[ev.MessageID]; ok {
			s.msgs[i].Reactions = ev.Reactions
		}
	case model.EventDelivered:
		s.stampLocked(ev, false)
	case model.EventRead:
		s.stampLocked(ev, true)
	case model.EventChat, model.EventFile:
		if m, ok := s.mergeLocked(ev.Message()); ok {
			appended = &m
			refs = s.missingFileRefsLocked(m)
		}
	case model.EventJoin, model.EventLeave:
		if m, ok := s.mergeLocked(ev.Message()); ok {
			appended = &m
		}
	default:
		logger.Debugf("roomsync: ignoring event type %q", ev.Type)
	}
	s.mu.Unlock()

	if appended != nil {
		s.cacheAppend(*appended)
	}
	s.fetchFileMeta(refs)
	s.notify()
}

// mergeLocked appends a content event unless its ID is already present.
// An echo whose ClientID matches a pending local entry replaces it in place
// instead of appending — the two-phase key reconciliation.
func (s *Synchronizer) mergeLocked(m model.Message) (model.Message, bool) {
	if m.ID != "" {
		if _, dup := s.byID[m.ID]; dup {
			return model.Message{}, false
		}
	}
	if m.ClientID != "" {
		if i, ok := s.byClientID[m.ClientID]; ok {
			if m.ID != "" {
				s.byID[m.ID] = i
			}
			s.msgs[i] = m
			return m, true
		}
	}
	s.appendLocked(m)
	return m, true
}

func (s *Synchronizer) appendLocked(m model.Message) {
	if m.ID != "" {
		if _, dup := s.byID[m.ID]; dup {
			return
		}
	}
	s.msgs = append(s.msgs, m)
	i := len(s.msgs) - 1
	if m.ID != "" {
		s.byID[m.ID] = i
	}
	if m.ClientID != "" {
		s.byClientID[m.ClientID] = i
	}
}

// stampLocked applies a delivery/read receipt to the local user's sent
// messages that still lack the status. Idempotent: a duplicate receipt finds
// nothing lacking and changes nothing.
func (s *Synchronizer) stampLocked(ev model.Event, read bool) {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := &s.msgs[i]
		if m.SenderID != s.user.ID || m.SystemNotice() {
			continue
		}
		if read {
			if m.ReadAt == nil {
				t := at
				m.ReadAt = &t
				if m.DeliveredAt == nil {
					m.DeliveredAt = &t
				}
			}
		} else if m.DeliveredAt == nil {
			t := at
			m.DeliveredAt = &t
		}
	}
}

// missingFileRefsLocked marks uncached attachment references as in flight
// and returns them; already cached or in-flight references are skipped.
func (s *Synchronizer) missingFileRefsLocked(m model.Message) []string {
	var refs []string
	for _, id := range m.Attachments {
		if id == "" {
			continue
		}
		if _, ok := s.fileMeta[id]; ok {
			continue
		}
		if s.fileFetching[id] {
			continue
		}
		s.fileFetching[id] = true
		refs = append(refs, id)
	}
	return refs
}

// fetchFileMeta resolves attachment metadata once per unique reference. A
// failed fetch is logged and unmarked so a later event may retry it.
func (s *Synchronizer) fetchFileMeta(refs []string) {
	for _, id := range refs {
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			meta, err := s.api.FileMetadata(ctx, id)
			s.mu.Lock()
			delete(s.fileFetching, id)
			if err == nil {
				s.fileMeta[id] = meta
			}
			s.mu.Unlock()
			if err != nil {
				logger.Warnf("roomsync: file metadata %s: %v", id, err)
				return
			}
			s.notify()
		}(id)
	}
}

func (s *Synchronizer) resetViewLocked(msgs []model.Message) {
	s.msgs = nil
	s.byID = make(map[string]int)
	s.byClientID = make(map[string]int)
	for _, m := range msgs {
		s.appendLocked(m)
	}
}

func (s *Synchronizer) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingActive = false
}

func (s *Synchronizer) cacheAppend(m model.Message) {
	if s.cfg.History == nil {
		return
	}
	if err := s.cfg.History.Append(m); err != nil {
		logger.Warnf("roomsync: cache append: %v", err)
	}
}

func (s *Synchronizer) notify() {
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate()
	}
}

func senderLabel(ev model.Event) string {
	if ev.SenderName != "" {
		return ev.SenderName
	}
	return ev.SenderID
}
