package main

import (
	"go.uber.org/zap"

	"github.com/drawspace/drawsync/pkg/object"
	"github.com/drawspace/drawsync/pkg/wire"
)

// logNotifier reports board changes to the log. A rendering embedder would
// supply its own implementation instead.
type logNotifier struct {
	log *zap.Logger

	// Closed connections are reported here so the command loop can decide
	// whether to redial.
	connectionLost chan struct{}
}

func createLogNotifier(logger *zap.Logger) *logNotifier {
	return &logNotifier{
		log:            logger.With(zap.String("handler", "notifier")),
		connectionLost: make(chan struct{}, 1),
	}
}

func (n *logNotifier) ObjectAdded(obj object.Object) {
	n.log.Info("Object added", zap.String("objectId", obj.Id()), zap.Uint8("kind", uint8(obj.Kind())))
}

func (n *logNotifier) ObjectsDeleted(ids []string) {
	n.log.Info("Objects deleted", zap.Strings("objectIds", ids))
}

func (n *logNotifier) ObjectsMoved(offset wire.Vec2, ids []string) {
	n.log.Info("Objects moved", zap.Float64("dx", offset.X), zap.Float64("dy", offset.Y), zap.Strings("objectIds", ids))
}

func (n *logNotifier) ObjectUpdated(obj object.Object) {
	n.log.Info("Object updated", zap.String("objectId", obj.Id()))
}

func (n *logNotifier) ObjectsReplaced(objs []object.Object) {
	n.log.Info("Objects replaced", zap.Int("count", len(objs)))
}

func (n *logNotifier) UserJoined(name string) {
	n.log.Info("User joined", zap.String("userName", name))
}

func (n *logNotifier) UserLeft(name string) {
	n.log.Info("User left", zap.String("userName", name))
}

func (n *logNotifier) UserCursorMoved(name string, pos wire.Vec2) {
	n.log.Debug("User cursor moved", zap.String("userName", name), zap.Float64("x", pos.X), zap.Float64("y", pos.Y))
}

func (n *logNotifier) ConnectedToServer() {
	n.log.Info("Connected to hub")
}

func (n *logNotifier) ConnectionToServerLost() {
	n.log.Warn("Connection to hub lost")
	select {
	case n.connectionLost <- struct{}{}:
	default:
	}
}

func (n *logNotifier) AllPeersLost() {
	n.log.Info("All peers disconnected")
}
