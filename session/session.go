package session

import (
	"sync"
	"time"
	"weak"

	"github.com/axmq/broker-core/packet"
)

// State is the lifecycle state of a Session.
type State byte

const (
	StateNew          State = iota // session created, not yet attached to a connection
	StateActive                    // attached to a live connection
	StateDisconnected              // connection gone, durable state retained per ExpiryInterval
	StateExpired                   // past its expiry interval, eligible for removal
)

// WillMessage is the MQTT will message recorded at CONNECT time.
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     packet.QoS
	Retain  bool
}

// Sender is the narrow interface the session package needs from whatever
// owns the live connection: a way to hand it a packet to write. The session
// registry never imports the network package directly; it holds this
// interface instead. A Session keeps a strong reference to the attached
// sender until DetachSender, so an attached sender stays reachable for as
// long as the Session does.
type Sender interface {
	Send(pkt packet.Packet) error
}

// Session is the durable per-client-ID state the registry keeps across
// connections: its subscriptions, its will message, and (while connected)
// the sender attached to its live connection.
type Session struct {
	mu sync.RWMutex

	ClientID          string
	CleanSession      bool
	State             State
	ExpiryInterval    uint32 // seconds; 0 with CleanSession false means "no expiry"
	CreatedAt         time.Time
	LastAccessedAt    time.Time
	DisconnectedAt    time.Time
	WillMessage       *WillMessage
	WillDelayInterval uint32

	// Subscriptions mirrors what this client has registered with the
	// subscription tree, keyed by topic filter, so a resumed (non-clean)
	// session can be replayed into a fresh topic.Manager on reconnect.
	Subscriptions map[string]packet.QoS

	senderBox *Sender
	senderRef weak.Pointer[Sender]
}

// New creates a new Session in StateNew.
func New(clientID string, cleanSession bool, expiryInterval uint32) *Session {
	now := time.Now()
	return &Session{
		ClientID:       clientID,
		CleanSession:   cleanSession,
		State:          StateNew,
		ExpiryInterval: expiryInterval,
		CreatedAt:      now,
		LastAccessedAt: now,
		Subscriptions:  make(map[string]packet.QoS),
	}
}

// AttachSender records sender as the live destination for this session's
// outbound packets, replacing whatever sender (if any) was attached before.
func (s *Session) AttachSender(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	box := new(Sender)
	*box = sender
	s.senderBox = box
	s.senderRef = weak.Make(box)
}

// Sender returns the currently attached sender. It reports false when no
// sender is attached (before AttachSender or after DetachSender). The weak
// pointer it reads never clears on its own while a sender is attached,
// because senderBox holds the same box strongly.
func (s *Session) Sender() (Sender, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	box := s.senderRef.Value()
	if box == nil {
		return nil, false
	}
	return *box, true
}

// DetachSender clears the attached sender, e.g. on disconnect.
func (s *Session) DetachSender() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderBox = nil
	s.senderRef = weak.Pointer[Sender]{}
}

// SetActive marks the session as attached to a live connection.
func (s *Session) SetActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateActive
	s.LastAccessedAt = time.Now()
}

// SetDisconnected marks the session as detached from its connection.
func (s *Session) SetDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateDisconnected
	s.DisconnectedAt = time.Now()
}

// SetExpired marks the session as past its expiry interval.
func (s *Session) SetExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateExpired
}

// IsExpired reports whether the session's durable state should be dropped.
func (s *Session) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ExpiryInterval == 0 && !s.CleanSession {
		return false
	}
	if s.State == StateDisconnected && s.ExpiryInterval > 0 {
		return time.Since(s.DisconnectedAt) > time.Duration(s.ExpiryInterval)*time.Second
	}
	return s.State == StateExpired
}

// Touch refreshes the last-accessed timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastAccessedAt = time.Now()
}

// SetWillMessage records the session's will message and delay.
func (s *Session) SetWillMessage(will *WillMessage, delayInterval uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WillMessage = will
	s.WillDelayInterval = delayInterval
}

// ClearWillMessage discards the session's will message.
func (s *Session) ClearWillMessage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WillMessage = nil
}

// GetWillMessage returns the session's will message, or nil.
func (s *Session) GetWillMessage() *WillMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WillMessage
}

// ShouldPublishWill reports whether enough time has passed since
// disconnection for a delayed will to fire.
func (s *Session) ShouldPublishWill() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.WillMessage == nil {
		return false
	}
	if s.WillDelayInterval == 0 {
		return true
	}
	return time.Since(s.DisconnectedAt) >= time.Duration(s.WillDelayInterval)*time.Second
}

// AddSubscription records filter/qos as part of this session's durable
// subscription state.
func (s *Session) AddSubscription(filter string, qos packet.QoS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions[filter] = qos
}

// RemoveSubscription drops filter from the session's durable state.
func (s *Session) RemoveSubscription(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Subscriptions, filter)
}

// GetAllSubscriptions returns a copy of the session's durable subscriptions.
func (s *Session) GetAllSubscriptions() map[string]packet.QoS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make(map[string]packet.QoS, len(s.Subscriptions))
	for k, v := range s.Subscriptions {
		subs[k] = v
	}
	return subs
}

// ClearSubscriptions removes every durable subscription, as on a
// clean-session reset.
func (s *Session) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]packet.QoS)
}

// Clear resets all durable state as part of a clean-session takeover.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]packet.QoS)
	s.WillMessage = nil
}

// GetState returns the current lifecycle state.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// GetClientID returns the session's client ID.
func (s *Session) GetClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ClientID
}

// GetCleanSession returns the clean-session flag recorded at CONNECT.
func (s *Session) GetCleanSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CleanSession
}

// GetExpiryInterval returns the session expiry interval in seconds.
func (s *Session) GetExpiryInterval() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ExpiryInterval
}

// UpdateExpiryInterval changes the session expiry interval.
func (s *Session) UpdateExpiryInterval(interval uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpiryInterval = interval
}
