package network

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axmq/broker-core/packet"
	"github.com/axmq/broker-core/processor"
	"github.com/axmq/broker-core/session"
	"github.com/axmq/broker-core/topic"
	"github.com/axmq/broker-core/wire"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDeps() processor.Deps {
	return processor.Deps{
		Sessions: session.NewManager(session.ManagerConfig{Store: session.NewMemoryStore()}),
		Topics:   topic.NewManager(),
	}
}

func startTestBroker(t *testing.T) (*Broker, net.Addr) {
	t.Helper()

	config := DefaultBrokerConfig("127.0.0.1:0")
	b, err := NewBroker(config, newTestDeps())
	require.NoError(t, err)
	require.NoError(t, b.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})

	return b, b.Addr()
}

func readPacket(t *testing.T, conn net.Conn) packet.Packet {
	t.Helper()

	parser := wire.NewParser()
	buf := make([]byte, 1)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	for {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		if n == 0 {
			continue
		}
		done, pkt, ferr := parser.Feed(buf[0])
		require.NoError(t, ferr)
		if done {
			return pkt
		}
	}
}

func TestBrokerAcceptsConnectAndRepliesConnAck(t *testing.T) {
	_, addr := startTestBroker(t)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	data, err := wire.Serialize(&packet.Connect{
		ProtocolLevel: 4,
		CleanSession:  true,
		ClientID:      "broker-test-client",
		KeepAlive:     30,
	})
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)

	pkt := readPacket(t, conn)
	ack, ok := pkt.(*packet.ConnAck)
	require.True(t, ok)
	assert.Equal(t, packet.Accepted, ack.ReturnCode)
	assert.False(t, ack.SessionPresent)
}

func TestBrokerRejectsUnacceptableProtocolLevel(t *testing.T) {
	_, addr := startTestBroker(t)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	// A CONNECT fixed header plus variable header announcing protocol
	// level 9 instead of the only level wire/connect.go accepts (4).
	raw := []byte{
		0x10, 0x0d, // CONNECT, remaining length
		0x00, 0x04, 'M', 'Q', 'T', 'T',
		0x09,       // protocol level: invalid
		0x02,       // connect flags: clean session
		0x00, 0x0a, // keep alive
		0x00, 0x01, 'c',
	}
	_, err = conn.Write(raw)
	require.NoError(t, err)

	pkt := readPacket(t, conn)
	ack, ok := pkt.(*packet.ConnAck)
	require.True(t, ok)
	assert.Equal(t, packet.UnacceptableProtocol, ack.ReturnCode)
}

func TestBrokerClosesConnectionOnDisconnect(t *testing.T) {
	_, addr := startTestBroker(t)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	connectData, err := wire.Serialize(&packet.Connect{
		ProtocolLevel: 4,
		CleanSession:  true,
		ClientID:      "broker-test-disconnect",
		KeepAlive:     30,
	})
	require.NoError(t, err)
	_, err = conn.Write(connectData)
	require.NoError(t, err)
	readPacket(t, conn) // CONNACK

	disconnectData, err := wire.Serialize(&packet.Disconnect{})
	require.NoError(t, err)
	_, err = conn.Write(disconnectData)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err) // server closed the connection
}

func TestBrokerCheckIdleClosesOnMissedKeepAlive(t *testing.T) {
	pool, err := NewPool(DefaultPoolConfig())
	require.NoError(t, err)
	server, client := net.Pipe()
	defer client.Close()

	conn := NewConnection(server, "idle-conn", nil)
	require.NoError(t, pool.Add(conn))

	b := &Broker{pool: pool, disconnect: NewDisconnectManager(time.Second), logger: nopLogger()}
	conn.SetMetadata(keepAliveIntervalKey, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	err = b.checkIdle(conn)
	assert.ErrorIs(t, err, ErrKeepAliveTimeout)
}

func TestBrokerCheckIdleIgnoresMissingInterval(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewConnection(server, "fresh-conn", nil)
	b := &Broker{disconnect: NewDisconnectManager(time.Second), logger: nopLogger()}

	assert.NoError(t, b.checkIdle(conn))
}
