package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/axmq/broker-core/packet"
	mqttlog "github.com/axmq/broker-core/pkg/logger"
	"github.com/axmq/broker-core/processor"
	"github.com/axmq/broker-core/wire"
)

// connSender adapts a *Connection to session.Sender by serializing each
// packet with wire.Serialize and writing it to the transport. Sessions hold
// only this narrow interface, never the Connection itself.
type connSender struct {
	conn *Connection
}

func (s *connSender) Send(pkt packet.Packet) error {
	data, err := wire.Serialize(pkt)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}

// keepAliveIntervalKey is the Connection metadata key the read loop uses to
// publish the CONNECT-negotiated keep-alive interval to the keepalive
// ticker, which runs on its own goroutine and has no other way to reach the
// Processor guarding this connection.
const keepAliveIntervalKey = "mqtt.keepalive_interval"

// BrokerConfig assembles a Broker's transport layer. Deps is passed to
// every accepted connection's processor.Processor; Sessions, Topics, Hooks,
// Auth, and RateLimiter inside it are process-wide and shared across every
// connection, exactly as spec.md §5 requires.
type BrokerConfig struct {
	Listener  *ListenerConfig
	Pool      *PoolConfig
	KeepAlive *KeepAliveConfig
	// GracefulTimeout bounds Shutdown's wait for in-flight connections to
	// drain. No DISCONNECT packet is written to them first (see NewBroker).
	GracefulTimeout time.Duration
	// Logger receives broker-level events (accept/decode/processing
	// failures). Defaults to a logger built on pkg/logger's ColoredHandler,
	// matching the teacher's logging texture, unlike processor.Deps.Logger
	// which defaults to plain slog.Default() since processor has no
	// output-formatting opinion of its own.
	Logger *slog.Logger
	// TLS, when set, makes the listener accept mqtts connections instead of
	// plain TCP. Built with tls.go's TLSConfig.Build and handed to
	// ListenerConfig.TLSConfig, which already branches on it in
	// listener.go's own Start.
	TLS *TLSConfig
	// StartRetry, when set, makes Start retry a failed listener bind with
	// recovery.go's backoff instead of failing immediately — useful for a
	// broker racing a just-freed port (e.g. restarting right after its own
	// prior instance exits, still in TIME_WAIT). Nil skips the retry loop.
	StartRetry *BackoffConfig
}

func DefaultBrokerConfig(address string) *BrokerConfig {
	return &BrokerConfig{
		Listener:        DefaultListenerConfig(address),
		Pool:            DefaultPoolConfig(),
		KeepAlive:       defaultIdleEnforcementConfig(),
		GracefulTimeout: 10 * time.Second,
	}
}

// defaultIdleEnforcementConfig repurposes keepalive.go's ticker/missed-ping
// bookkeeping for idle-timeout enforcement rather than literal server-to-
// client pings (an MQTT broker never sends PINGREQ; only clients do).
// Timeout is set far larger than Interval so the generic "missed pong"
// counter in sendPing never fires on its own — this broker never calls
// OnPong, so lastPong would otherwise look permanently stale and close
// every connection after MaxRetries ticks regardless of real client
// activity. The actual enforcement happens in Broker.checkIdle, the
// PingHandler below, which compares the connection's real idle duration
// against the keep-alive interval negotiated by that connection's CONNECT.
func defaultIdleEnforcementConfig() *KeepAliveConfig {
	return &KeepAliveConfig{
		Interval:   5 * time.Second,
		Timeout:    100 * 365 * 24 * time.Hour,
		MaxRetries: 1,
	}
}

// Broker wires a Listener's accept loop to a processor.Processor per
// connection: each connection gets its own Parser and Processor, sharing
// the process-wide Deps (session registry, subscription tree, hooks).
type Broker struct {
	listener        *Listener
	pool            *Pool
	keepAlives      *KeepAliveManager
	disconnect      *DisconnectManager
	deps            processor.Deps
	logger          *slog.Logger
	gracefulTimeout time.Duration
	startRetry      *BackoffConfig
}

// NewBroker builds a Broker and registers its read loop on the listener via
// Listener.OnConnection — the extension point the teacher already exposed
// but never had a caller for.
func NewBroker(config *BrokerConfig, deps processor.Deps) (*Broker, error) {
	if config == nil {
		config = DefaultBrokerConfig(":1883")
	}
	if config.KeepAlive == nil {
		config.KeepAlive = defaultIdleEnforcementConfig()
	}

	if config.TLS != nil {
		tlsConfig, err := config.TLS.Build()
		if err != nil {
			return nil, fmt.Errorf("build tls config: %w", err)
		}
		if config.Listener == nil {
			config.Listener = DefaultListenerConfig(":8883")
		}
		config.Listener.TLSConfig = tlsConfig
	}

	pool, err := NewPool(config.Pool)
	if err != nil {
		return nil, err
	}

	listener, err := NewListener(config.Listener, pool)
	if err != nil {
		return nil, err
	}

	log := config.Logger
	if log == nil {
		log = slog.New(mqttlog.NewColoredHandler(slog.LevelInfo, nil))
	}

	b := &Broker{
		listener:        listener,
		pool:            pool,
		keepAlives:      NewKeepAliveManager(config.KeepAlive),
		disconnect:      NewDisconnectManager(config.GracefulTimeout),
		deps:            deps,
		logger:          log,
		gracefulTimeout: config.GracefulTimeout,
		startRetry:      config.StartRetry,
	}
	b.keepAlives.config.PingHandler = b.checkIdle

	// MQTT 3.1.1 has no server-to-client DISCONNECT packet (that's a 5.0
	// addition) — DisconnectManager.SendDisconnect here is an observability
	// hook, not a wire write. The actual disconnection is always the
	// transport close that follows (pool.Remove, or the keepalive loop's
	// own conn.Close on a non-nil PingHandler error).
	b.disconnect.OnDisconnect(func(conn *Connection, pkt *DisconnectPacket) error {
		b.logger.Info("closing connection", "remote_addr", conn.RemoteAddr().String(), "reason_code", pkt.ReasonCode)
		return nil
	})

	listener.OnConnection(b.serve)

	return b, nil
}

// Start begins accepting connections. With StartRetry configured, a bind
// failure is retried with backoff (via recovery.go's Recovery.Retry) instead
// of failing on the first attempt.
func (b *Broker) Start() error {
	if b.startRetry == nil {
		return b.listener.Start()
	}

	rec, err := NewRecovery(&RecoveryConfig{BackoffConfig: b.startRetry, EnableRecovery: true})
	if err != nil {
		return err
	}

	return rec.Retry(context.Background(), b.listener.Start)
}

// Shutdown reports every live connection to the DisconnectManager's handlers
// with reason server-shutting-down (nothing is written to the wire) and
// waits up to config.GracefulTimeout for them to close, then closes the
// listener and pool.
func (b *Broker) Shutdown(ctx context.Context) error {
	gs := NewGracefulShutdown(b.pool, b.disconnect, b.gracefulTimeout)
	err := gs.Shutdown(ctx)
	b.keepAlives.Close()
	_ = b.listener.Close()
	_ = b.pool.Close()
	return err
}

// Addr reports the listener's bound address.
func (b *Broker) Addr() net.Addr {
	return b.listener.Addr()
}

// Stats reports accept/reject/active counters from the listener.
func (b *Broker) Stats() ListenerStats {
	return b.listener.Stats()
}

// serve is the ConnectionHandler the listener drives for every accepted
// connection; it owns the connection until ProcessPacket returns Close or
// the transport reports an error, then tears the processor down and
// removes the connection from the pool. It blocks for the life of the
// connection, matching the synchronous ConnectionHandler contract the
// teacher's listener already expects (it is invoked from handleConnection's
// own per-connection goroutine).
func (b *Broker) serve(conn *Connection) error {
	if conn.IsTLS() {
		if cn, err := GetPeerCommonName(conn); err == nil && cn != "" {
			b.logger.Info("tls client certificate presented", "remote_addr", conn.RemoteAddr().String(), "common_name", cn)
		}
	}

	sender := &connSender{conn: conn}
	proc := processor.New(b.deps, sender, conn.RemoteAddr(), conn.LocalAddr())
	b.keepAlives.Add(conn)
	defer b.keepAlives.Remove(conn.ID())

	ctx := context.Background()
	defer func() {
		proc.Close(ctx)
		_ = b.pool.Remove(conn.ID())
	}()

	parser := wire.NewParser()
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil
		}

		for i := 0; i < n; i++ {
			done, pkt, ferr := parser.Feed(buf[i])
			if ferr != nil {
				b.handleDecodeError(conn, proc, ferr)
				return ferr
			}
			if !done {
				continue
			}

			disposition, resp, perr := proc.ProcessPacket(ctx, pkt)
			conn.SetMetadata(keepAliveIntervalKey, proc.KeepAliveInterval())

			if resp != nil {
				if data, serr := wire.Serialize(resp); serr == nil {
					_, _ = conn.Write(data)
				} else {
					b.logger.Warn("serialize response failed", "client_id", proc.ClientID(), "error", serr)
				}
			}
			if perr != nil {
				b.logger.Debug("packet processing error", "client_id", proc.ClientID(), "error", perr)
			}
			if disposition == processor.Close {
				return nil
			}
		}
	}
}

// handleDecodeError responds to a malformed inbound byte stream. A CONNECT
// whose protocol level isn't 4 gets the CONNACK(UnacceptableProtocol) MQTT
// 3.1.1 §3.2.2.3 calls for before the connection closes; every other
// decode error is only reported to the DisconnectManager's handlers with
// reason malformed-packet, and nothing is written before the close.
func (b *Broker) handleDecodeError(conn *Connection, proc *processor.Processor, ferr error) {
	b.logger.Warn("malformed packet, closing connection",
		"remote_addr", conn.RemoteAddr().String(), "client_id", proc.ClientID(), "error", ferr)

	reason := DisconnectMalformedPacket
	if errors.Is(ferr, wire.ErrUnacceptableProtocolLevel) {
		ack := &packet.ConnAck{SessionPresent: false, ReturnCode: packet.UnacceptableProtocol}
		if data, serr := wire.Serialize(ack); serr == nil {
			_, _ = conn.Write(data)
		}
		reason = DisconnectProtocolError
	}

	_ = b.disconnect.SendDisconnect(conn, &DisconnectPacket{ReasonCode: reason})
}

// checkIdle is the KeepAliveManager's PingHandler: instead of sending a
// wire-level ping (a broker never initiates one in MQTT 3.1.1; only clients
// send PINGREQ), it enforces the keep-alive interval the connection's own
// CONNECT negotiated, per §3.1.2.10's "one and a half times the keep alive
// time interval" grace period.
func (b *Broker) checkIdle(conn *Connection) error {
	v, ok := conn.GetMetadata(keepAliveIntervalKey)
	if !ok {
		return nil
	}
	interval, _ := v.(time.Duration)
	if interval <= 0 {
		return nil
	}

	grace := interval + interval/2
	if conn.IdleDuration() > grace {
		_ = b.disconnect.SendDisconnect(conn, &DisconnectPacket{ReasonCode: DisconnectKeepAliveTimeout})
		return ErrKeepAliveTimeout
	}
	return nil
}
