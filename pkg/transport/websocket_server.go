package transport

import (
	"context"
	goerrs "errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// The hub can accept WebSocket peers next to raw TCP peers. A WebSocket
// message already delimits one payload, so these connections skip the frame
// codec and carry the event payload per binary message.

func checkOrigin(r *http.Request, params ServerParams) bool {
	if params.AllowAllHosts {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, host := range params.AllowlistedHosts {
		if origin == host {
			return true
		}
	}
	return false
}

func (s *Server) serveWebsocket(ctx context.Context) {
	upgrader := &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, s.params)
		},
	}

	endpoint := s.params.WebsocketEndpoint
	if endpoint == "" {
		endpoint = "/ws"
	}

	router := chi.NewRouter()
	router.Get(endpoint, func(w http.ResponseWriter, r *http.Request) {
		s.onWsRequest(ctx, upgrader, w, r)
	})
	router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    s.params.WebsocketListenAddress,
		Handler: router,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.log.Info("Starting WebSocket listener", zap.String("addr", s.params.WebsocketListenAddress), zap.String("endpoint", endpoint))
		if err := server.ListenAndServe(); !goerrs.Is(err, http.ErrServerClosed) {
			s.log.Error("Unexpected WebSocket listener close", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownRelease()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Failed to gracefully shut down WebSocket listener", zap.Error(err))
		}
	}()

	wg.Wait()
}

func (s *Server) onWsRequest(ctx context.Context, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}

	peerId := s.peerStore.GetNewPeerId()
	if err := s.peerStore.RegisterPeer(peerId, s.getNowTime()); err != nil {
		s.log.Warn("Rejecting WebSocket connection", zap.String("remoteAddr", c.RemoteAddr().String()), zap.Error(err))
		c.Close()
		return
	}

	conn := createWsConn(peerId, c, s.params.WriteTimeout, s.log)
	conn.callbacks = connCallbacks{
		onPacket: func(payload []byte) { s.handlePacket(conn, payload) },
		onClose:  func() { s.removeConnection(peerId) },
	}

	s.addConnection(conn)
	conn.start()

	// Hold the handler open until the connection dies or the hub shuts
	// down; the http server cancels the request context on shutdown.
	select {
	case <-ctx.Done():
		conn.Close()
	case <-conn.closed:
	}
}

type wsConn struct {
	id   uint32
	sock *websocket.Conn

	log          *zap.Logger
	writeTimeout time.Duration
	callbacks    connCallbacks

	outgoing  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func createWsConn(id uint32, sock *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsConn{
		id:           id,
		sock:         sock,
		log:          logger.With(zap.Uint32("connId", id), zap.String("remoteAddr", sock.RemoteAddr().String()), zap.String("transport", "websocket")),
		writeTimeout: writeTimeout,
		outgoing:     make(chan []byte, 64),
		closed:       make(chan struct{}),
	}
}

func (c *wsConn) start() {
	go c.writeLoop()
	go c.readLoop()
}

func (c *wsConn) Id() uint32 { return c.id }

func (c *wsConn) Role() Role { return Role_Accepted }

func (c *wsConn) RemoteAddr() string { return c.sock.RemoteAddr().String() }

func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	case c.outgoing <- payload:
		return nil
	}
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.sock.Close()
		if c.callbacks.onClose != nil {
			c.callbacks.onClose()
		}
	})
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.outgoing:
			c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.sock.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				c.log.Warn("WebSocket write failed, closing connection", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

func (c *wsConn) readLoop() {
	expectedCloseErrors := []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}
	for {
		msgType, payload, msgErr := c.sock.ReadMessage()
		if msgErr != nil {
			if websocket.IsUnexpectedCloseError(msgErr, expectedCloseErrors...) {
				c.log.Warn("Unexpected WebSocket close", zap.Error(msgErr))
			}
			c.Close()
			return
		}

		if msgType != websocket.BinaryMessage {
			c.log.Info("Received non-binary message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		if c.callbacks.onPacket != nil {
			c.callbacks.onPacket(payload)
		}
	}
}
