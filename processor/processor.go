// Package processor implements the per-connection MQTT 3.1.1 processing
// state machine: it turns a decoded packet.Packet into a disposition (keep
// the connection open or close it) and, where the protocol calls for one, a
// response packet, while mutating the session registry and subscription
// tree on the caller's behalf.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/axmq/broker-core/hook"
	"github.com/axmq/broker-core/packet"
	"github.com/axmq/broker-core/pkg/metrics"
	"github.com/axmq/broker-core/session"
	"github.com/axmq/broker-core/topic"
)

// Deps are the collaborators shared by every connection's Processor: the
// session registry and subscription tree are process-wide singletons, as
// are the injected hook points. A Processor itself is per-connection state.
// Metrics is nil-safe; leave it unset to run without Prometheus reporting.
type Deps struct {
	Sessions    *session.Manager
	Topics      *topic.Manager
	Hooks       *hook.Manager
	Auth        hook.Authenticator
	RateLimiter hook.RateLimiter
	Logger      *slog.Logger
	Metrics     *metrics.Registry
	Retained    topic.RetainedStore
}

func (d *Deps) setDefaults() {
	if d.Hooks == nil {
		d.Hooks = hook.NewManager()
	}
	if d.Auth == nil {
		d.Auth = hook.AllowAllAuthenticator{}
	}
	if d.RateLimiter == nil {
		d.RateLimiter = hook.UnlimitedRateLimiter{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Retained == nil {
		d.Retained = topic.NopRetainedStore{}
	}
}

// Processor is the state machine for a single connection: states progress
// None -> Connected -> Disconnected and never backwards.
type Processor struct {
	deps       Deps
	subs       *treeSubscriptionHandler
	sender     session.Sender
	remoteAddr net.Addr
	localAddr  net.Addr

	state    State
	clientID string
	session  *session.Session
	client   *hook.Client
}

// New returns a Processor ready to handle the first packet on a freshly
// accepted connection. sender is the per-connection outbound path the
// processor attaches to the session once CONNECT succeeds; remoteAddr and
// localAddr are recorded for hook observers only.
func New(deps Deps, sender session.Sender, remoteAddr, localAddr net.Addr) *Processor {
	deps.setDefaults()
	return &Processor{
		deps:       deps,
		subs:       newTreeSubscriptionHandler(deps.Topics),
		sender:     sender,
		remoteAddr: remoteAddr,
		localAddr:  localAddr,
		state:      StateNone,
		client: &hook.Client{
			RemoteAddr: remoteAddr,
			LocalAddr:  localAddr,
			State:      hook.ClientStateConnecting,
		},
	}
}

// State reports the processor's current lifecycle state.
func (p *Processor) State() State {
	return p.state
}

// ClientID reports the client identifier bound to this connection, or the
// empty string before CONNECT succeeds.
func (p *Processor) ClientID() string {
	return p.clientID
}

// KeepAliveInterval reports the keep-alive interval negotiated at CONNECT,
// or 0 before CONNECT succeeds. A caller owning the transport uses this to
// decide how long to tolerate silence before closing the connection.
func (p *Processor) KeepAliveInterval() time.Duration {
	if p.state != StateConnected {
		return 0
	}
	return time.Duration(p.client.KeepAlive) * time.Second
}

// ProcessPacket advances the state machine by one inbound packet. Outbound
// fan-out calls each matched session's session.Sender.Send synchronously and
// there is no send queue, so when Send writes to a transport (as the network
// package's connSender does) ProcessPacket waits for that write.
//
// A non-nil error alongside Keep means the packet was rejected but the
// connection survives (e.g. a rate-limited publish is silently dropped); a
// non-nil error alongside Close means the caller must tear down the
// transport, flushing the accompanying response packet first if one is
// returned.
func (p *Processor) ProcessPacket(ctx context.Context, pkt packet.Packet) (Disposition, packet.Packet, error) {
	p.deps.Metrics.PacketReceived(pkt.Type().String())

	switch v := pkt.(type) {
	case *packet.Connect:
		return p.handleConnect(ctx, v)
	case packet.Disconnect, *packet.Disconnect:
		return p.handleDisconnect(ctx)
	case packet.PingReq, *packet.PingReq:
		return p.handlePingReq()
	case *packet.Publish:
		return p.handlePublish(ctx, v)
	case *packet.Subscribe:
		return p.handleSubscribe(ctx, v)
	case *packet.ConnAck, packet.PingResp, *packet.PingResp, *packet.SubAck:
		return p.handleServerOnlyPacket()
	case packet.Unimplemented:
		return p.handleUnimplemented()
	default:
		return Close, nil, fmt.Errorf("processor: unrecognized packet %T", pkt)
	}
}

// handleConnect processes a CONNECT. Per the state table, a CONNECT is only
// legal in StateNone; in StateConnected it is a protocol violation
// (duplicate CONNECT), in StateDisconnected the connection is already gone.
func (p *Processor) handleConnect(ctx context.Context, connect *packet.Connect) (Disposition, packet.Packet, error) {
	if p.state == StateConnected {
		return Close, nil, ErrDuplicateConnect
	}
	if p.state == StateDisconnected {
		return Close, nil, ErrNotConnected
	}

	if !p.deps.RateLimiter.Allow(connect.ClientID) {
		return Close, nil, hook.ErrRateLimitExceeded
	}

	ok, code := p.deps.Auth.Authenticate(ctx, connect)
	if !ok {
		return Close, &packet.ConnAck{SessionPresent: false, ReturnCode: code}, nil
	}

	clientID := connect.ClientID
	if clientID == "" {
		generated, err := p.deps.Sessions.GenerateClientID(ctx)
		if err != nil {
			return Close, &packet.ConnAck{ReturnCode: packet.ServerUnavailable}, err
		}
		clientID = generated
	}

	existing, err := p.deps.Sessions.GetSession(ctx, clientID)
	if err != nil && err != session.ErrSessionNotFound {
		return Close, &packet.ConnAck{ReturnCode: packet.ServerUnavailable}, err
	}
	if existing != nil {
		if _, attached := existing.Sender(); attached {
			return Close, &packet.ConnAck{SessionPresent: false, ReturnCode: packet.IdentifierRejected}, ErrSessionInUse
		}
	}

	sess, sessionPresent, err := p.deps.Sessions.CreateSession(ctx, clientID, connect.CleanSession, 0)
	if err != nil {
		return Close, &packet.ConnAck{ReturnCode: packet.ServerUnavailable}, err
	}
	sess.AttachSender(p.sender)

	if connect.WillFlag {
		sess.SetWillMessage(&session.WillMessage{
			Topic:   connect.WillTopic,
			Payload: connect.WillMessage,
			QoS:     connect.WillQoS,
			Retain:  connect.WillRetain,
		}, 0)
	}

	if sessionPresent {
		durable := sess.GetAllSubscriptions()
		filters := make([]packet.TopicFilterQoS, 0, len(durable))
		for filter, qos := range durable {
			filters = append(filters, packet.TopicFilterQoS{Filter: filter, QoS: qos})
		}
		if len(filters) > 0 {
			if err := p.subs.AddSubscriptions(clientID, filters); err != nil {
				p.deps.Logger.Warn("replay subscriptions on resume failed", "client_id", clientID, "error", err)
			}
		}
	}

	p.state = StateConnected
	p.clientID = clientID
	p.session = sess
	p.client.ID = clientID
	p.client.Username = connect.Username
	p.client.CleanSession = connect.CleanSession
	p.client.KeepAlive = connect.KeepAlive
	p.client.ConnectedAt = time.Now()
	p.client.State = hook.ClientStateConnected

	if err := p.deps.Hooks.OnConnect(p.client, connect); err != nil {
		p.deps.Logger.Warn("OnConnect hook rejected connection observation", "client_id", clientID, "error", err)
	}
	if err := p.deps.Hooks.OnSessionEstablished(p.client, sessionPresent); err != nil {
		p.deps.Logger.Warn("OnSessionEstablished hook error", "client_id", clientID, "error", err)
	}
	p.deps.Metrics.ConnectionOpened()

	return Keep, &packet.ConnAck{SessionPresent: sessionPresent, ReturnCode: packet.Accepted}, nil
}

// handleDisconnect processes a client-initiated DISCONNECT: per MQTT 3.1.1,
// a graceful DISCONNECT suppresses the will message (only an ungraceful
// transport close, handled by Close, triggers it).
func (p *Processor) handleDisconnect(ctx context.Context) (Disposition, packet.Packet, error) {
	if p.state == StateNone {
		return Close, nil, ErrNotConnected
	}
	if p.state == StateDisconnected {
		return Close, nil, nil
	}

	p.teardown(ctx, false)
	return Close, nil, nil
}

// handlePingReq replies with PINGRESP; only legal once CONNECTed.
func (p *Processor) handlePingReq() (Disposition, packet.Packet, error) {
	if p.state != StateConnected {
		return Close, nil, ErrNotConnected
	}
	return Keep, packet.PingResp{}, nil
}

// handlePublish fans a QoS-0-or-higher PUBLISH out to every matching
// subscriber's sender. The core implements no PUBACK/PUBREC acknowledgement
// path (QoS 1/2 delivery semantics are out of scope), so it emits nothing.
// A retained PUBLISH (pub.Retain) is additionally stored via deps.Retained,
// per the MQTT 3.1.1 retained-message contract (an empty payload clears
// it); this core implements no Non-goal against RETAIN itself, only against
// QoS 1/2 delivery guarantees.
func (p *Processor) handlePublish(ctx context.Context, pub *packet.Publish) (Disposition, packet.Packet, error) {
	if p.state != StateConnected {
		return Close, nil, ErrNotConnected
	}
	if !p.deps.RateLimiter.Allow(p.clientID) {
		return Keep, nil, hook.ErrRateLimitExceeded
	}

	if pub.Retain {
		if err := p.deps.Retained.Set(pub.Topic, pub.Payload, byte(pub.QoS)); err != nil {
			p.deps.Logger.Warn("store retained message failed", "topic", pub.Topic, "error", err)
		}
	}

	result := p.deps.Topics.Current().Match(pub.Topic)
	p.fanOut(ctx, pub, result)

	if err := p.deps.Hooks.OnPublish(p.client, pub); err != nil {
		p.deps.Logger.Warn("OnPublish hook error", "client_id", p.clientID, "topic", pub.Topic, "error", err)
	}
	p.deps.Hooks.OnPublished(p.client, pub)

	return Keep, nil, nil
}

// fanOut delivers pub to every subscriber matched in result, direct and
// shared alike: one clone per live sender, dropped silently (besides an
// OnPublishDropped hook observation) when the matched session has detached
// or disappeared.
func (p *Processor) fanOut(ctx context.Context, pub *packet.Publish, result topic.MatchResult) {
	deliver := func(clientID string) {
		sess, err := p.deps.Sessions.GetSession(ctx, clientID)
		if err != nil {
			p.deps.Hooks.OnPublishDropped(p.client, pub, hook.DropReasonClientDisconnected)
			p.deps.Metrics.PublishDropped("client_disconnected")
			return
		}
		sender, attached := sess.Sender()
		if !attached {
			p.deps.Hooks.OnPublishDropped(p.client, pub, hook.DropReasonClientDisconnected)
			p.deps.Metrics.PublishDropped("client_disconnected")
			return
		}
		clone := *pub
		if err := sender.Send(&clone); err != nil {
			p.deps.Logger.Debug("send to subscriber failed", "client_id", clientID, "error", err)
			p.deps.Hooks.OnPublishDropped(p.client, pub, hook.DropReasonInternalError)
			p.deps.Metrics.PublishDropped("internal_error")
			return
		}
		p.deps.Metrics.PacketSent(packet.PUBLISH.String())
	}

	for _, sub := range result.Direct {
		deliver(sub.ClientID)
	}
	for _, sub := range result.Shared {
		deliver(sub.ClientID)
	}
}

// handleSubscribe registers the session's interest in every requested
// filter and replies with the granted (or refused) QoS per filter.
func (p *Processor) handleSubscribe(ctx context.Context, sub *packet.Subscribe) (Disposition, packet.Packet, error) {
	if p.state != StateConnected {
		return Close, nil, ErrNotConnected
	}
	if !p.deps.RateLimiter.Allow(p.clientID) {
		return Keep, nil, hook.ErrRateLimitExceeded
	}

	codes := make([]byte, len(sub.Filters))
	for i, f := range sub.Filters {
		if err := p.subs.AddSubscriptions(p.clientID, []packet.TopicFilterQoS{f}); err != nil {
			codes[i] = packet.SubAckFailure
			continue
		}
		p.session.AddSubscription(f.Filter, f.QoS)
		codes[i] = byte(f.QoS)

		hookSub := &hook.Subscription{ClientID: p.clientID, TopicFilter: f.Filter, QoS: f.QoS, SubscribedAt: time.Now()}
		if err := p.deps.Hooks.OnSubscribe(p.client, hookSub); err != nil {
			p.deps.Logger.Warn("OnSubscribe hook error", "client_id", p.clientID, "filter", f.Filter, "error", err)
		}
		p.deps.Hooks.OnSubscribed(p.client, hookSub)

		p.replayRetained(f.Filter)
	}

	return Keep, &packet.SubAck{PacketID: sub.PacketID, Codes: codes}, nil
}

// replayRetained sends every retained message matching filter to this
// connection's own sender, per the MQTT 3.1.1 contract that a fresh
// SUBSCRIBE immediately receives the retained message for each topic it
// now covers.
func (p *Processor) replayRetained(filter string) {
	messages, err := p.deps.Retained.Match(filter)
	if err != nil {
		p.deps.Logger.Warn("retained lookup failed", "filter", filter, "error", err)
		return
	}
	for _, msg := range messages {
		pub := &packet.Publish{Topic: msg.Topic, Payload: msg.Payload, QoS: packet.QoS(msg.QoS), Retain: true}
		if err := p.sender.Send(pub); err != nil {
			p.deps.Logger.Debug("send retained message failed", "client_id", p.clientID, "topic", msg.Topic, "error", err)
		}
	}
}

// handleServerOnlyPacket reacts to a server-to-client packet type received
// from a client, which is always a protocol violation regardless of state.
func (p *Processor) handleServerOnlyPacket() (Disposition, packet.Packet, error) {
	return Close, nil, ErrControlPacketNotAllowed
}

// handleUnimplemented reacts to a structurally valid packet of a recognized
// type the core does not process (PUBACK, PUBREC, PUBREL, PUBCOMP,
// UNSUBSCRIBE, UNSUBACK).
func (p *Processor) handleUnimplemented() (Disposition, packet.Packet, error) {
	return Close, nil, ErrFeatureNotImplemented
}

// Close tears the processor down as if the transport reported end-of-stream
// or an I/O error: unlike a graceful DISCONNECT, this path publishes the
// will message (when the caller didn't already process an explicit
// DISCONNECT). It is idempotent.
func (p *Processor) Close(ctx context.Context) {
	if p.state == StateDisconnected || p.state == StateNone {
		p.state = StateDisconnected
		return
	}
	p.teardown(ctx, true)
}

func (p *Processor) teardown(ctx context.Context, sendWill bool) {
	if p.session != nil {
		p.session.DetachSender()
	}
	if err := p.deps.Sessions.DisconnectSession(ctx, p.clientID, sendWill); err != nil {
		p.deps.Logger.Warn("disconnect session failed", "client_id", p.clientID, "error", err)
	}

	p.client.State = hook.ClientStateDisconnected
	p.client.DisconnectedAt = time.Now()
	p.deps.Hooks.OnDisconnect(p.client, nil)
	p.deps.Metrics.ConnectionClosed()

	p.state = StateDisconnected
}
