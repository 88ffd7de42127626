package hook

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/axmq/broker-core/packet"
)

// Authenticator is consulted exactly once per CONNECT, before a ConnAck is
// returned to the client. It is injected into the connection processor
// directly rather than registered on a Manager: authentication gates the
// connection, it does not merely observe it.
type Authenticator interface {
	Authenticate(ctx context.Context, connect *packet.Connect) (bool, packet.ConnAckCode)
}

// AllowAllAuthenticator accepts every connection. It is the default when no
// authenticator is configured.
type AllowAllAuthenticator struct{}

// Authenticate always accepts the connection.
func (AllowAllAuthenticator) Authenticate(ctx context.Context, connect *packet.Connect) (bool, packet.ConnAckCode) {
	return true, packet.Accepted
}

// BasicAuthenticator validates CONNECT username/password against a
// registered user table using a constant-time comparison.
type BasicAuthenticator struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewBasicAuthenticator creates an authenticator with no registered users.
func NewBasicAuthenticator() *BasicAuthenticator {
	return &BasicAuthenticator{
		users: make(map[string]string),
	}
}

// AddUser registers a username/password pair.
func (a *BasicAuthenticator) AddUser(username, password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[username] = password
}

// RemoveUser removes a username from the user table.
func (a *BasicAuthenticator) RemoveUser(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.users, username)
}

// HasUser reports whether username is registered.
func (a *BasicAuthenticator) HasUser(username string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, exists := a.users[username]
	return exists
}

// UserCount returns the number of registered users.
func (a *BasicAuthenticator) UserCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

// Clear removes all registered users.
func (a *BasicAuthenticator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = make(map[string]string)
}

// LoadUsers registers multiple users at once.
func (a *BasicAuthenticator) LoadUsers(users map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for username, password := range users {
		a.users[username] = password
	}
}

// Authenticate validates connect.Username/Password against the user table.
func (a *BasicAuthenticator) Authenticate(ctx context.Context, connect *packet.Connect) (bool, packet.ConnAckCode) {
	a.mu.RLock()
	expectedPassword, exists := a.users[connect.Username]
	a.mu.RUnlock()

	if !exists {
		return false, packet.BadCredentials
	}

	if subtle.ConstantTimeCompare([]byte(expectedPassword), connect.Password) != 1 {
		return false, packet.BadCredentials
	}

	return true, packet.Accepted
}

// AnonymousAuthenticator rejects connections with no username/password
// unless anonymous access is explicitly allowed.
type AnonymousAuthenticator struct {
	mu             sync.RWMutex
	allowAnonymous bool
}

// NewAnonymousAuthenticator creates an authenticator with the given anonymous-access policy.
func NewAnonymousAuthenticator(allowAnonymous bool) *AnonymousAuthenticator {
	return &AnonymousAuthenticator{allowAnonymous: allowAnonymous}
}

// SetAllowAnonymous updates the anonymous-access policy.
func (a *AnonymousAuthenticator) SetAllowAnonymous(allow bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowAnonymous = allow
}

// IsAnonymousAllowed reports the current anonymous-access policy.
func (a *AnonymousAuthenticator) IsAnonymousAllowed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allowAnonymous
}

// Authenticate accepts credentialed connections unconditionally and gates
// anonymous ones (no username and no password) on the configured policy.
func (a *AnonymousAuthenticator) Authenticate(ctx context.Context, connect *packet.Connect) (bool, packet.ConnAckCode) {
	a.mu.RLock()
	allow := a.allowAnonymous
	a.mu.RUnlock()

	if connect.Username == "" && len(connect.Password) == 0 {
		if !allow {
			return false, packet.NotAuthorized
		}
	}

	return true, packet.Accepted
}
