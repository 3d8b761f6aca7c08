package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/drawspace/drawsync/pkg/wire"
)

type ClientState uint8

const (
	ClientState_Disconnected ClientState = iota
	ClientState_Connecting
	ClientState_Connected
)

// ClientDelegate is the replication layer's view of the dialed transport.
type ClientDelegate interface {
	OnConnectedToServer()
	// OnEvent delivers one decoded event with its raw payload. Pings never
	// reach this callback.
	OnEvent(evt *wire.Event, raw []byte)
	// OnConnectionToServerLost fires once per lost connection; the
	// delegate decides between Reconnect and giving up.
	OnConnectionToServerLost()
}

type ClientParams struct {
	Host    string
	Port    int
	UseIpv6 bool

	MagicNumber uint32
	Version     uint8

	MaxFrameSize        int
	OutgoingQueueLength int
	WriteTimeout        time.Duration
	DialTimeout         time.Duration

	// PingInterval paces the liveness heartbeat sent while connected.
	PingInterval time.Duration

	// MaxDialElapsedTime bounds how long one Connect call retries before
	// giving up. Zero keeps backoff's default.
	MaxDialElapsedTime time.Duration

	Logger *zap.Logger
}

// Client owns exactly one dialed connection with an explicit
// Disconnected -> Connecting -> Connected state machine. Events dispatched
// while not Connected are silently dropped, not queued.
type Client struct {
	params ClientParams

	log        *zap.Logger
	delegate   ClientDelegate
	serializer wire.EventSerializer

	mut_state sync.RWMutex
	state     ClientState
	conn      *tcpConn
}

func CreateClient(delegate ClientDelegate, params ClientParams) (*Client, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.MagicNumber == 0 {
		params.MagicNumber = wire.DefaultMagicNumber
	}
	if params.PingInterval <= 0 {
		params.PingInterval = time.Second
	}
	if params.DialTimeout <= 0 {
		params.DialTimeout = 10 * time.Second
	}

	return &Client{
		params:     params,
		log:        logger.With(zap.String("handler", "hubClient")),
		delegate:   delegate,
		serializer: wire.EventSerializer{MagicNumber: params.MagicNumber, Version: params.Version},

		mut_state: sync.RWMutex{},
		state:     ClientState_Disconnected,
	}, nil
}

func (c *Client) State() ClientState {
	c.mut_state.RLock()
	defer c.mut_state.RUnlock()
	return c.state
}

func (c *Client) network() string {
	if c.params.UseIpv6 {
		return "tcp6"
	}
	return "tcp4"
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.params.Host, fmt.Sprintf("%d", c.params.Port))
}

// Connect dials the hub, retrying with exponential backoff until the dial
// succeeds, ctx is cancelled, or the backoff gives up. On success the state
// machine lands in Connected and the delegate is notified.
func (c *Client) Connect(ctx context.Context) error {
	c.mut_state.Lock()
	if c.state != ClientState_Disconnected {
		c.mut_state.Unlock()
		return fmt.Errorf("cannot connect from state %d", c.state)
	}
	c.state = ClientState_Connecting
	c.mut_state.Unlock()

	c.log.Info("Connecting", zap.String("addr", c.addr()))

	dialer := &net.Dialer{Timeout: c.params.DialTimeout}

	policy := backoff.NewExponentialBackOff()
	if c.params.MaxDialElapsedTime > 0 {
		policy.MaxElapsedTime = c.params.MaxDialElapsedTime
	}

	var sock net.Conn
	dialErr := backoff.Retry(func() error {
		var err error
		sock, err = dialer.DialContext(ctx, c.network(), c.addr())
		if err != nil {
			c.log.Info("Dial failed, will retry", zap.Error(err))
		}
		return err
	}, backoff.WithContext(policy, ctx))

	if dialErr != nil {
		c.mut_state.Lock()
		c.state = ClientState_Disconnected
		c.mut_state.Unlock()
		return dialErr
	}

	conn := createTcpConn(0, Role_Dialed, sock, connParams{
		outgoingQueueLength: c.params.OutgoingQueueLength,
		maxFrameSize:        c.params.MaxFrameSize,
		writeTimeout:        c.params.WriteTimeout,
	}, connCallbacks{}, c.log)
	conn.callbacks = connCallbacks{
		onPacket: c.handlePacket,
		onClose:  func() { c.onConnClosed() },
	}

	c.mut_state.Lock()
	c.conn = conn
	c.state = ClientState_Connected
	c.mut_state.Unlock()

	conn.start()
	go c.runPingLoop(conn)

	c.log.Info("Connected", zap.String("addr", c.addr()))
	c.delegate.OnConnectedToServer()

	return nil
}

// Reconnect re-invokes Connect after a lost connection.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.Connect(ctx)
}

// Dispatch sends one event to the hub. A no-op while not Connected - edits
// performed while disconnected are dropped, not queued.
func (c *Client) Dispatch(evt *wire.Event) error {
	c.mut_state.RLock()
	state := c.state
	conn := c.conn
	c.mut_state.RUnlock()

	if state != ClientState_Connected || conn == nil {
		return nil
	}

	payload, err := c.serializer.SerializeEvent(evt)
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

// Close tears down the current connection, if any.
func (c *Client) Close() {
	c.mut_state.RLock()
	conn := c.conn
	c.mut_state.RUnlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) handlePacket(payload []byte) {
	evt, parseErr := c.serializer.Parse(payload)
	if parseErr != nil {
		c.log.Warn("Dropping malformed event payload", zap.Error(parseErr))
		return
	}

	if evt.Type == wire.EventType_Ping {
		return
	}

	c.delegate.OnEvent(evt, payload)
}

func (c *Client) onConnClosed() {
	c.mut_state.Lock()
	c.conn = nil
	c.state = ClientState_Disconnected
	c.mut_state.Unlock()

	c.log.Info("Connection to server lost")
	c.delegate.OnConnectionToServerLost()
}

func (c *Client) runPingLoop(conn *tcpConn) {
	ticker := time.NewTicker(c.params.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.closed:
			return
		case <-ticker.C:
			if err := c.Dispatch(&wire.Event{Type: wire.EventType_Ping}); err != nil {
				c.log.Warn("Failed to send ping", zap.Error(err))
			}
		}
	}
}
