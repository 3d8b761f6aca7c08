package board

import (
	"context"

	"go.uber.org/zap"

	"github.com/drawspace/drawsync/pkg/transport"
	"github.com/drawspace/drawsync/pkg/wire"
)

// ServerSession binds a board to the hub transport. The server's board is
// the authoritative registry: every client-originated event is applied here
// and fanned out to every other client, and newly joined peers are
// bootstrapped from it.
type ServerSession struct {
	log    *zap.Logger
	board  *Board
	server *transport.Server
}

func CreateServerSession(b *Board, params transport.ServerParams) (*ServerSession, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	s := &ServerSession{
		log:   logger.With(zap.String("handler", "serverSession")),
		board: b,
	}

	server, err := transport.CreateServer(s, params)
	if err != nil {
		return nil, err
	}
	s.server = server

	b.setDispatcher(func(evt *wire.Event) {
		payload, serializeErr := server.Serializer().SerializeEvent(evt)
		if serializeErr != nil {
			s.log.Error("Failed to serialize outbound event", zap.Error(serializeErr))
			return
		}
		server.Dispatch(payload, nil)
	})

	return s, nil
}

// Start runs the board loop and the hub transport until ctx is cancelled.
func (s *ServerSession) Start(ctx context.Context) error {
	go s.board.Run(ctx)
	return s.server.Start(ctx)
}

func (s *ServerSession) Board() *Board {
	return s.board
}

// OnPeerConnected bootstraps a newly joined peer: this user's addUser plus a
// full snapshot, sent to that peer only so it does not re-echo.
func (s *ServerSession) OnPeerConnected(conn transport.Conn) {
	s.board.post(func() {
		serializer := s.server.Serializer()

		addUserPayload, err := serializer.SerializeEvent(&wire.Event{
			Type:    wire.EventType_AddUser,
			AddUser: &wire.AddUserArgs{Name: s.board.params.UserName},
		})
		if err != nil {
			s.log.Error("Failed to serialize addUser for new peer", zap.Error(err))
			return
		}
		s.server.SendTo(conn, addUserPayload)

		records, err := s.board.encodeSnapshot()
		if err != nil {
			s.log.Error("Failed to encode snapshot for new peer", zap.Error(err))
			return
		}
		snapshotPayload, err := serializer.SerializeEvent(&wire.Event{
			Type:       wire.EventType_SetObjects,
			SetObjects: &wire.SetObjectsArgs{Objects: records, Broadcast: false},
		})
		if err != nil {
			s.log.Error("Failed to serialize snapshot for new peer", zap.Error(err))
			return
		}
		s.server.SendTo(conn, snapshotPayload)
	})
}

// OnEvent re-forwards a client-originated event to every other client, then
// applies it to the authoritative board. Forwarding happens on the origin's
// read goroutine, preserving that client's event order.
func (s *ServerSession) OnEvent(conn transport.Conn, evt *wire.Event, raw []byte) {
	if evt.Type == wire.EventType_AddUser {
		if err := s.server.SetPeerUserName(conn.Id(), evt.AddUser.Name); err != nil {
			s.log.Warn("Failed to record user name for peer", zap.Uint32("peerId", conn.Id()), zap.Error(err))
		}
	}

	s.server.Dispatch(raw, conn)
	s.board.post(func() { s.board.applyRemoteEvent(evt) })
}

// OnPeerDisconnected drops the presence announced by the lost peer.
func (s *ServerSession) OnPeerDisconnected(conn transport.Conn) {
	userName, err := s.server.PeerUserName(conn.Id())
	if err != nil || userName == "" {
		s.log.Warn("Connection closed, unknown user name", zap.Uint32("peerId", conn.Id()))
		return
	}
	s.log.Info("Connection of user closed", zap.String("userName", userName))
	s.board.post(func() { s.board.deleteUser(userName) })
}

func (s *ServerSession) OnAllPeersLost() {
	s.board.post(func() { s.board.notifier.AllPeersLost() })
}

// ClientSession binds a board to a dialed hub connection. Local edits go to
// the server only; the server fans them out.
type ClientSession struct {
	log    *zap.Logger
	board  *Board
	client *transport.Client
}

func CreateClientSession(b *Board, params transport.ClientParams) (*ClientSession, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	s := &ClientSession{
		log:   logger.With(zap.String("handler", "clientSession")),
		board: b,
	}

	client, err := transport.CreateClient(s, params)
	if err != nil {
		return nil, err
	}
	s.client = client

	b.setDispatcher(func(evt *wire.Event) {
		if dispatchErr := client.Dispatch(evt); dispatchErr != nil {
			s.log.Warn("Failed to dispatch event", zap.Error(dispatchErr))
		}
	})

	return s, nil
}

// Start runs the board loop and dials the hub.
func (s *ClientSession) Start(ctx context.Context) error {
	go s.board.Run(ctx)
	return s.client.Connect(ctx)
}

// Reconnect re-dials after a lost connection; the embedder calls this from
// its ConnectionToServerLost handling when the user chooses to stay.
func (s *ClientSession) Reconnect(ctx context.Context) error {
	return s.client.Reconnect(ctx)
}

func (s *ClientSession) Close() {
	s.client.Close()
}

func (s *ClientSession) Board() *Board {
	return s.board
}

// OnConnectedToServer announces the local user to the session.
func (s *ClientSession) OnConnectedToServer() {
	s.board.post(func() {
		s.board.notifier.ConnectedToServer()
		s.board.emit(&wire.Event{
			Type:    wire.EventType_AddUser,
			AddUser: &wire.AddUserArgs{Name: s.board.params.UserName},
		})
	})
}

func (s *ClientSession) OnEvent(evt *wire.Event, raw []byte) {
	s.board.post(func() { s.board.applyRemoteEvent(evt) })
}

// OnConnectionToServerLost clears remote presence; whether to reconnect or
// quit is the embedder's decision, surfaced through the notifier.
func (s *ClientSession) OnConnectionToServerLost() {
	s.board.post(func() {
		s.board.deleteAllUsers()
		s.board.notifier.ConnectionToServerLost()
	})
}
