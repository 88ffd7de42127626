package hook

import (
	"net"
	"time"

	"github.com/axmq/broker-core/packet"
)

// Event represents hook event types
type Event byte

const (
	SetOptions Event = iota
	OnStarted
	OnStopped
	OnConnect
	OnSessionEstablished
	OnDisconnect
	OnSubscribe
	OnSubscribed
	OnUnsubscribe
	OnUnsubscribed
	OnPublish
	OnPublished
	OnPublishDropped
	OnClientExpired
)

// String returns the string representation of the event
func (e Event) String() string {
	names := [...]string{
		"SetOptions",
		"OnStarted",
		"OnStopped",
		"OnConnect",
		"OnSessionEstablished",
		"OnDisconnect",
		"OnSubscribe",
		"OnSubscribed",
		"OnUnsubscribe",
		"OnUnsubscribed",
		"OnPublish",
		"OnPublished",
		"OnPublishDropped",
		"OnClientExpired",
	}
	if e < Event(len(names)) {
		return names[e]
	}
	return "Unknown"
}

// Hook defines the interface that all hooks must implement. Hooks observe
// broker lifecycle points; they do not gate a Connect or a Publish the way
// Authenticator and RateLimiter do.
type Hook interface {
	// ID returns a unique identifier for this hook
	ID() string

	// Provides indicates if the hook provides implementation for the given event
	Provides(event Event) bool

	// Init initializes the hook with the given configuration
	Init(config any) error

	// Stop stops the hook
	Stop() error

	// SetOptions is called when broker options are being configured
	SetOptions(opts *Options) error

	// OnStarted is called when the broker has started
	OnStarted() error

	// OnStopped is called when the broker has stopped
	OnStopped(err error) error

	// OnConnect is called when a client connects
	OnConnect(client *Client, connect *packet.Connect) error

	// OnSessionEstablished is called after a session is established
	OnSessionEstablished(client *Client, sessionPresent bool) error

	// OnDisconnect is called when a client disconnects
	OnDisconnect(client *Client, err error) error

	// OnSubscribe is called before processing a subscription
	OnSubscribe(client *Client, sub *Subscription) error

	// OnSubscribed is called after a subscription is completed
	OnSubscribed(client *Client, sub *Subscription) error

	// OnUnsubscribe is called before processing an unsubscription
	OnUnsubscribe(client *Client, topicFilter string) error

	// OnUnsubscribed is called after an unsubscription is completed
	OnUnsubscribed(client *Client, topicFilter string) error

	// OnPublish is called before publishing a message
	OnPublish(client *Client, pub *packet.Publish) error

	// OnPublished is called after a message is published
	OnPublished(client *Client, pub *packet.Publish) error

	// OnPublishDropped is called when a publish is dropped
	OnPublishDropped(client *Client, pub *packet.Publish, reason DropReason) error

	// OnClientExpired is called when a client session expires
	OnClientExpired(clientID string) error
}

// Options holds the configuration options for the broker
type Options struct {
	Capabilities *Capabilities
	Config       map[string]any
}

// Capabilities describes the subset of broker behavior hooks can observe or
// constrain.
type Capabilities struct {
	MaximumQoS           byte
	RetainAvailable      bool
	WildcardSubAvailable bool
	SharedSubAvailable   bool
}

// Client represents a connected client
type Client struct {
	ID             string
	RemoteAddr     net.Addr
	LocalAddr      net.Addr
	Username       string
	CleanSession   bool
	KeepAlive      uint16
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	State          ClientState
}

// ClientState represents the state of a client
type ClientState byte

const (
	ClientStateConnecting ClientState = iota
	ClientStateConnected
	ClientStateDisconnecting
	ClientStateDisconnected
)

// Subscription represents a client's subscription to a topic
type Subscription struct {
	ClientID     string
	TopicFilter  string
	QoS          packet.QoS
	SubscribedAt time.Time
}

// AccessType represents the type of access for ACL checks
type AccessType byte

const (
	AccessTypeRead AccessType = iota
	AccessTypeWrite
	AccessTypeReadWrite
)

// DropReason represents the reason for dropping a message
type DropReason byte

const (
	DropReasonQueueFull DropReason = iota
	DropReasonClientDisconnected
	DropReasonACLDenied
	DropReasonInternalError
)

// String returns the string representation of the drop reason
func (d DropReason) String() string {
	switch d {
	case DropReasonQueueFull:
		return "queue_full"
	case DropReasonClientDisconnected:
		return "client_disconnected"
	case DropReasonACLDenied:
		return "acl_denied"
	case DropReasonInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}
