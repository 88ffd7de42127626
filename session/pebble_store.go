package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"

	"github.com/axmq/broker-core/packet"
)

var sessionPrefix = []byte("session:")

// PebbleStore is a Pebble-based implementation of the Store interface,
// durable across broker restarts.
type PebbleStore struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool
}

// PebbleStoreConfig configures the Pebble store.
type PebbleStoreConfig struct {
	Path string
	Opts *pebble.Options
}

// sessionRecord is the CBOR-serializable representation of a Session. CBOR
// (rather than JSON) keeps the WillMessage payload and packet.QoS values as
// their native binary/byte types instead of round-tripping them through
// base64 and float-typed numbers.
type sessionRecord struct {
	ClientID          string                `cbor:"client_id"`
	CleanSession      bool                  `cbor:"clean_session"`
	State             State                 `cbor:"state"`
	ExpiryInterval    uint32                `cbor:"expiry_interval"`
	CreatedAt         time.Time             `cbor:"created_at"`
	LastAccessedAt    time.Time             `cbor:"last_accessed_at"`
	DisconnectedAt    time.Time             `cbor:"disconnected_at"`
	WillMessage       *WillMessage          `cbor:"will_message,omitempty"`
	WillDelayInterval uint32                `cbor:"will_delay_interval"`
	Subscriptions     map[string]packet.QoS `cbor:"subscriptions"`
}

func sessionToRecord(s *Session) *sessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make(map[string]packet.QoS, len(s.Subscriptions))
	for k, v := range s.Subscriptions {
		subs[k] = v
	}

	return &sessionRecord{
		ClientID:          s.ClientID,
		CleanSession:      s.CleanSession,
		State:             s.State,
		ExpiryInterval:    s.ExpiryInterval,
		CreatedAt:         s.CreatedAt,
		LastAccessedAt:    s.LastAccessedAt,
		DisconnectedAt:    s.DisconnectedAt,
		WillMessage:       s.WillMessage,
		WillDelayInterval: s.WillDelayInterval,
		Subscriptions:     subs,
	}
}

func recordToSession(r *sessionRecord) *Session {
	s := &Session{
		ClientID:          r.ClientID,
		CleanSession:      r.CleanSession,
		State:             r.State,
		ExpiryInterval:    r.ExpiryInterval,
		CreatedAt:         r.CreatedAt,
		LastAccessedAt:    r.LastAccessedAt,
		DisconnectedAt:    r.DisconnectedAt,
		WillMessage:       r.WillMessage,
		WillDelayInterval: r.WillDelayInterval,
		Subscriptions:     r.Subscriptions,
	}
	if s.Subscriptions == nil {
		s.Subscriptions = make(map[string]packet.QoS)
	}
	return s
}

// NewPebbleStore opens (or creates) a Pebble-backed session store at
// config.Path.
func NewPebbleStore(config PebbleStoreConfig) (*PebbleStore, error) {
	opts := config.Opts
	if opts == nil {
		opts = &pebble.Options{ErrorIfExists: false}
	}

	db, err := pebble.Open(config.Path, opts)
	if err != nil {
		return nil, err
	}

	return &PebbleStore{db: db}, nil
}

func makeKey(clientID string) []byte {
	key := make([]byte, len(sessionPrefix)+len(clientID))
	copy(key, sessionPrefix)
	copy(key[len(sessionPrefix):], clientID)
	return key
}

// Save stores or updates a session.
func (p *PebbleStore) Save(ctx context.Context, session *Session) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrStoreClosed
	}
	p.mu.RUnlock()

	value, err := cbor.Marshal(sessionToRecord(session))
	if err != nil {
		return err
	}

	key := makeKey(session.GetClientID())
	return p.db.Set(key, value, pebble.Sync)
}

// Load retrieves a session by client ID.
func (p *PebbleStore) Load(ctx context.Context, clientID string) (*Session, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	p.mu.RUnlock()

	key := makeKey(clientID)
	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var record sessionRecord
	if err := cbor.Unmarshal(value, &record); err != nil {
		return nil, err
	}

	return recordToSession(&record), nil
}

// Delete removes a session.
func (p *PebbleStore) Delete(ctx context.Context, clientID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrStoreClosed
	}
	p.mu.RUnlock()

	return p.db.Delete(makeKey(clientID), pebble.Sync)
}

// Exists checks if a session exists.
func (p *PebbleStore) Exists(ctx context.Context, clientID string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return false, ErrStoreClosed
	}
	p.mu.RUnlock()

	_, closer, err := p.db.Get(makeKey(clientID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// List returns all session client IDs.
func (p *PebbleStore) List(ctx context.Context) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	p.mu.RUnlock()

	var clientIDs []string

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: sessionPrefix,
		UpperBound: append(append([]byte{}, sessionPrefix...), 0xff),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		clientIDs = append(clientIDs, string(key[len(sessionPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return clientIDs, nil
}

// Close closes the store.
func (p *PebbleStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrStoreClosed
	}
	p.closed = true
	return p.db.Close()
}

// Count returns the total number of sessions.
func (p *PebbleStore) Count(ctx context.Context) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	p.mu.RUnlock()

	var count int64
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: sessionPrefix,
		UpperBound: append(append([]byte{}, sessionPrefix...), 0xff),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	return count, nil
}

// CountByState returns the number of sessions in a given state.
func (p *PebbleStore) CountByState(ctx context.Context, state State) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	p.mu.RUnlock()

	var count int64
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: sessionPrefix,
		UpperBound: append(append([]byte{}, sessionPrefix...), 0xff),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var record sessionRecord
		if err := cbor.Unmarshal(iter.Value(), &record); err != nil {
			continue
		}
		if record.State == state {
			count++
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	return count, nil
}
