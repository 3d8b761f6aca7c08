package transport

import (
	goerrs "errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drawspace/drawsync/pkg/wire"
)

// Role distinguishes the two ends of a peer link: a connection the server
// accepted vs. the one connection a client dialed.
type Role uint8

const (
	Role_Accepted Role = iota
	Role_Dialed
)

var ErrConnClosed = goerrs.New("connection is closed")

// Conn is one peer-to-peer byte channel carrying framed event payloads.
// Send preserves per-connection ordering: payload N hits the wire before
// payload N+1, a hard invariant since receivers re-apply events in arrival
// order.
type Conn interface {
	Id() uint32
	Role() Role
	RemoteAddr() string
	Send(payload []byte) error
	Close()
}

type connCallbacks struct {
	// onPacket receives every complete inbound payload. Left nil, payloads
	// are logged as unhandled and dropped.
	onPacket func(payload []byte)
	// onClose fires exactly once when the connection dies, whether from a
	// read error, peer close, or a local Close call.
	onClose func()
}

type connParams struct {
	outgoingQueueLength int
	maxFrameSize        int
	writeTimeout        time.Duration
}

func (p connParams) withDefaults() connParams {
	if p.outgoingQueueLength <= 0 {
		p.outgoingQueueLength = 64
	}
	if p.maxFrameSize <= 0 {
		p.maxFrameSize = wire.DefaultMaxFrameSize
	}
	if p.writeTimeout <= 0 {
		p.writeTimeout = 10 * time.Second
	}
	return p
}

// tcpConn runs a read goroutine feeding the frame decoder and a write
// goroutine draining the outgoing queue. Both exit when closed fires.
type tcpConn struct {
	id   uint32
	role Role
	sock net.Conn

	log    *zap.Logger
	params connParams

	decoder   *wire.FrameDecoder
	callbacks connCallbacks

	outgoing  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func createTcpConn(id uint32, role Role, sock net.Conn, params connParams, callbacks connCallbacks, logger *zap.Logger) *tcpConn {
	params = params.withDefaults()

	c := &tcpConn{
		id:        id,
		role:      role,
		sock:      sock,
		log:       logger.With(zap.Uint32("connId", id), zap.String("remoteAddr", sock.RemoteAddr().String())),
		params:    params,
		decoder:   wire.CreateFrameDecoder(params.maxFrameSize),
		callbacks: callbacks,
		outgoing:  make(chan []byte, params.outgoingQueueLength),
		closed:    make(chan struct{}),
	}

	return c
}

// start launches the read and write goroutines. Separate from construction
// so the owner can finish wiring callbacks that reference the connection.
func (c *tcpConn) start() {
	go c.writeLoop()
	go c.readLoop()
}

func (c *tcpConn) Id() uint32 { return c.id }

func (c *tcpConn) Role() Role { return c.role }

func (c *tcpConn) RemoteAddr() string { return c.sock.RemoteAddr().String() }

func (c *tcpConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	case c.outgoing <- payload:
		return nil
	}
}

func (c *tcpConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.sock.Close()
		if c.callbacks.onClose != nil {
			c.callbacks.onClose()
		}
	})
}

func (c *tcpConn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.outgoing:
			c.sock.SetWriteDeadline(time.Now().Add(c.params.writeTimeout))
			if _, err := c.sock.Write(wire.EncodeFrame(payload)); err != nil {
				c.log.Warn("Write failed, closing connection", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

func (c *tcpConn) readLoop() {
	var buf [8192]byte
	for {
		n, err := c.sock.Read(buf[0:])
		if err != nil {
			// Covers peer-initiated close (EOF) and local Close; a
			// zero-byte read is never a zero-length payload.
			select {
			case <-c.closed:
			default:
				c.log.Info("Read loop ending", zap.Error(err))
			}
			c.Close()
			return
		}

		payloads, decodeErr := c.decoder.Feed(buf[0:n])
		for _, payload := range payloads {
			c.handlePacket(payload)
		}
		if decodeErr != nil {
			// The stream lost its frame boundary; nothing left to salvage.
			c.log.Error("Frame decode failed, closing connection", zap.Error(decodeErr))
			c.Close()
			return
		}
	}
}

func (c *tcpConn) handlePacket(payload []byte) {
	if c.callbacks.onPacket == nil {
		c.log.Warn("Unhandled packet", zap.Int("size", len(payload)))
		return
	}
	c.callbacks.onPacket(payload)
}
