package transport

import (
	"context"
	goerrs "errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drawspace/drawsync/internal"
	"github.com/drawspace/drawsync/pkg/wire"
)

// ServerDelegate is the replication layer's view of the hub transport.
// Callbacks fire from transport goroutines; the delegate routes them into
// its own loop.
type ServerDelegate interface {
	OnPeerConnected(conn Conn)
	// OnEvent delivers one decoded event with its raw payload so the
	// delegate can re-dispatch without re-serializing. Pings never reach
	// this callback.
	OnEvent(conn Conn, evt *wire.Event, raw []byte)
	OnPeerDisconnected(conn Conn)
	// OnAllPeersLost fires exactly once each time the connection set
	// empties. The server keeps listening afterward.
	OnAllPeersLost()
}

type ServerParams struct {
	Port    int
	UseIpv6 bool

	MagicNumber uint32
	Version     uint8

	MaxPeers            int
	MaxFrameSize        int
	OutgoingQueueLength int
	WriteTimeout        time.Duration

	// A peer that stays silent for HeartbeatInterval x
	// MissedHeartbeatThreshold is force-closed by the sweep.
	HeartbeatInterval        time.Duration
	MissedHeartbeatThreshold int

	// Optional WebSocket listener; empty address disables it. Serves the
	// upgrade endpoint plus /metrics.
	WebsocketListenAddress string
	WebsocketEndpoint      string
	AllowAllHosts          bool
	AllowlistedHosts       []string

	Logger *zap.Logger
}

type Server struct {
	params ServerParams

	log        *zap.Logger
	delegate   ServerDelegate
	serializer wire.EventSerializer
	peerStore  *internal.PeerStore
	metrics    *hubMetrics
	startTime  time.Time

	mut_connections sync.RWMutex
	connections     map[uint32]Conn
}

func CreateServer(delegate ServerDelegate, params ServerParams) (*Server, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.MagicNumber == 0 {
		params.MagicNumber = wire.DefaultMagicNumber
	}
	if params.HeartbeatInterval <= 0 {
		params.HeartbeatInterval = time.Second
	}
	if params.MissedHeartbeatThreshold <= 0 {
		params.MissedHeartbeatThreshold = 5
	}

	return &Server{
		params:     params,
		log:        logger.With(zap.String("handler", "hubServer")),
		delegate:   delegate,
		serializer: wire.EventSerializer{MagicNumber: params.MagicNumber, Version: params.Version},
		peerStore:  internal.CreatePeerStore(params.MaxPeers),
		metrics:    createHubMetrics(),
		startTime:  time.Now(),

		mut_connections: sync.RWMutex{},
		connections:     make(map[uint32]Conn),
	}, nil
}

func (s *Server) getNowTime() int64 {
	return time.Since(s.startTime).Microseconds()
}

func (s *Server) network() string {
	if s.params.UseIpv6 {
		return "tcp6"
	}
	return "tcp4"
}

// Start listens and serves until ctx is cancelled. The accept loop, the
// heartbeat sweep, and the optional WebSocket listener each run in their own
// goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, listenErr := net.Listen(s.network(), fmt.Sprintf(":%d", s.params.Port))
	if listenErr != nil {
		return listenErr
	}

	s.log.Info("Hub listening", zap.Int("port", s.params.Port), zap.String("network", s.network()))

	wg := sync.WaitGroup{}

	//
	// Listener closing goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		listener.Close()
		s.closeAllConnections()
	}()

	//
	// Accept loop goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			sock, acceptErr := listener.Accept()
			if acceptErr != nil {
				if goerrs.Is(acceptErr, net.ErrClosed) {
					s.log.Info("Listener closed - exiting accept loop")
					return
				}
				s.log.Warn("Accept failed", zap.Error(acceptErr))
				continue
			}
			s.registerSocket(sock)
		}
	}()

	//
	// Heartbeat sweep goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runHeartbeatSweep(ctx)
	}()

	if s.params.WebsocketListenAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveWebsocket(ctx)
		}()
	}

	wg.Wait()
	return nil
}

// registerSocket wraps an accepted socket in a connection and hands it to
// the delegate. Shared by the TCP accept loop and the WebSocket upgrader via
// registerConn.
func (s *Server) registerSocket(sock net.Conn) {
	peerId := s.peerStore.GetNewPeerId()

	if err := s.peerStore.RegisterPeer(peerId, s.getNowTime()); err != nil {
		s.log.Warn("Rejecting connection", zap.String("remoteAddr", sock.RemoteAddr().String()), zap.Error(err))
		sock.Close()
		return
	}

	conn := createTcpConn(peerId, Role_Accepted, sock, connParams{
		outgoingQueueLength: s.params.OutgoingQueueLength,
		maxFrameSize:        s.params.MaxFrameSize,
		writeTimeout:        s.params.WriteTimeout,
	}, connCallbacks{}, s.log)
	conn.callbacks = connCallbacks{
		onPacket: func(payload []byte) { s.handlePacket(conn, payload) },
		onClose:  func() { s.removeConnection(peerId) },
	}

	s.addConnection(conn)
	conn.start()
}

func (s *Server) addConnection(conn Conn) {
	s.mut_connections.Lock()
	s.connections[conn.Id()] = conn
	s.mut_connections.Unlock()

	s.metrics.peersConnected.Inc()
	s.log.Info("Peer connected", zap.Uint32("peerId", conn.Id()), zap.String("remoteAddr", conn.RemoteAddr()))
	s.delegate.OnPeerConnected(conn)
}

func (s *Server) removeConnection(peerId uint32) {
	s.mut_connections.Lock()
	conn, has := s.connections[peerId]
	if has {
		delete(s.connections, peerId)
	}
	remaining := len(s.connections)
	s.mut_connections.Unlock()

	if !has {
		return
	}

	s.metrics.peersConnected.Dec()
	s.log.Info("Peer connection lost", zap.Uint32("peerId", peerId))
	// The delegate may still want the peer's user name; drop the store
	// entry only after it has been told.
	s.delegate.OnPeerDisconnected(conn)
	s.peerStore.RemovePeer(peerId)
	if remaining == 0 {
		s.delegate.OnAllPeersLost()
	}
}

func (s *Server) closeAllConnections() {
	s.mut_connections.RLock()
	conns := make([]Conn, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	s.mut_connections.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (s *Server) handlePacket(conn Conn, payload []byte) {
	s.peerStore.SetRecvTimestamp(conn.Id(), s.getNowTime())

	evt, parseErr := s.serializer.Parse(payload)
	if parseErr != nil {
		// Malformed payloads are logged and dropped; the loop continues.
		s.log.Warn("Dropping malformed event payload", zap.Uint32("peerId", conn.Id()), zap.Error(parseErr))
		return
	}

	s.metrics.countEvent(evt.Type)

	if evt.Type == wire.EventType_Ping {
		// Liveness only; the recv timestamp above is its entire effect.
		return
	}

	s.delegate.OnEvent(conn, evt, payload)
}

// Dispatch fans one payload out to every live connection except exclude.
// Pass a nil exclude for organic local edits; pass the origin connection
// when re-forwarding a received event, to avoid echo.
func (s *Server) Dispatch(payload []byte, exclude Conn) {
	s.mut_connections.RLock()
	conns := make([]Conn, 0, len(s.connections))
	for _, conn := range s.connections {
		if exclude != nil && conn.Id() == exclude.Id() {
			continue
		}
		conns = append(conns, conn)
	}
	s.mut_connections.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			s.log.Warn("Failed to enqueue payload for peer", zap.Uint32("peerId", conn.Id()), zap.Error(err))
			continue
		}
		s.metrics.framesRelayed.Inc()
	}
}

// SendTo targets a single connection, used for the snapshot push to a newly
// joined peer.
func (s *Server) SendTo(conn Conn, payload []byte) {
	if err := conn.Send(payload); err != nil {
		s.log.Warn("Failed to enqueue payload for peer", zap.Uint32("peerId", conn.Id()), zap.Error(err))
	}
}

// Serializer exposes the wire serializer so the delegate encodes events with
// the hub's magic number and version.
func (s *Server) Serializer() wire.EventSerializer {
	return s.serializer
}

// PeerUserName reports the user name a peer announced via addUser, if any.
func (s *Server) PeerUserName(peerId uint32) (string, error) {
	return s.peerStore.GetUserName(peerId)
}

// SetPeerUserName records the user name a peer announced via addUser so it
// can be cleaned up when the connection drops.
func (s *Server) SetPeerUserName(peerId uint32, userName string) error {
	return s.peerStore.SetUserName(peerId, userName)
}

func (s *Server) runHeartbeatSweep(ctx context.Context) {
	ticker := time.NewTicker(s.params.HeartbeatInterval)
	defer ticker.Stop()

	maxSilence := s.params.HeartbeatInterval * time.Duration(s.params.MissedHeartbeatThreshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := s.getNowTime() - maxSilence.Microseconds()
			for _, peerId := range s.peerStore.GetTimeoutPeerList(deadline) {
				s.mut_connections.RLock()
				conn, has := s.connections[peerId]
				s.mut_connections.RUnlock()
				if !has {
					continue
				}
				s.log.Warn("Force-closing silent peer", zap.Uint32("peerId", peerId), zap.Duration("maxSilence", maxSilence))
				conn.Close()
			}
		}
	}
}
