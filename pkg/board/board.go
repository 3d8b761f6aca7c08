package board

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/drawspace/drawsync/pkg/object"
	"github.com/drawspace/drawsync/pkg/wire"
)

// Notifier is how the replication layer reports changes to the rendering
// collaborator. Every callback fires on the board's own loop goroutine; the
// embedder routes into its interactive loop as needed.
type Notifier interface {
	ObjectAdded(obj object.Object)
	ObjectsDeleted(ids []string)
	ObjectsMoved(offset wire.Vec2, ids []string)
	ObjectUpdated(obj object.Object)
	ObjectsReplaced(objs []object.Object)
	UserJoined(name string)
	UserLeft(name string)
	UserCursorMoved(name string, pos wire.Vec2)
	ConnectedToServer()
	ConnectionToServerLost()
	AllPeersLost()
}

// NopNotifier is the embeddable do-nothing Notifier.
type NopNotifier struct{}

func (NopNotifier) ObjectAdded(object.Object)         {}
func (NopNotifier) ObjectsDeleted([]string)           {}
func (NopNotifier) ObjectsMoved(wire.Vec2, []string)  {}
func (NopNotifier) ObjectUpdated(object.Object)       {}
func (NopNotifier) ObjectsReplaced([]object.Object)   {}
func (NopNotifier) UserJoined(string)                 {}
func (NopNotifier) UserLeft(string)                   {}
func (NopNotifier) UserCursorMoved(string, wire.Vec2) {}
func (NopNotifier) ConnectedToServer()                {}
func (NopNotifier) ConnectionToServerLost()           {}
func (NopNotifier) AllPeersLost()                     {}

// User is one known remote (or local) presence and its cursor placeholder.
type User struct {
	Name   string
	Cursor *object.Cursor
}

type BoardParams struct {
	UserName string

	// CursorThrottleInterval bounds outbound moveUserCursor bandwidth; a
	// local cursor move inside the window since the last transmission is
	// not sent. Receiving is never throttled.
	CursorThrottleInterval time.Duration

	Notifier Notifier
	Logger   *zap.Logger
}

// Board is the replication layer's state: the shared object registry plus
// presence. All mutation happens on the single loop goroutine running Run;
// transports and the interactive side reach the state only through the
// inbox. The dispatcher is installed by the owning session.
type Board struct {
	params BoardParams

	log      *zap.Logger
	notifier Notifier

	inbox   chan func()
	stopped chan struct{}

	// Everything below is owned by the Run goroutine.
	objects     map[string]object.Object
	objectOrder []string
	users       map[string]*User

	lastCursorSent time.Time

	dispatch func(evt *wire.Event)
}

func CreateBoard(params BoardParams) *Board {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if params.CursorThrottleInterval <= 0 {
		params.CursorThrottleInterval = 100 * time.Millisecond
	}

	return &Board{
		params:   params,
		log:      logger.With(zap.String("handler", "board")),
		notifier: notifier,

		inbox:   make(chan func(), 256),
		stopped: make(chan struct{}),

		objects: make(map[string]object.Object),
		users:   make(map[string]*User),
	}
}

func (b *Board) UserName() string {
	return b.params.UserName
}

// Run owns the registry until ctx is cancelled. Exactly one Run may execute
// per board.
func (b *Board) Run(ctx context.Context) {
	defer close(b.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-b.inbox:
			cmd()
		}
	}
}

// post hands fn to the loop goroutine without waiting for it.
func (b *Board) post(fn func()) {
	select {
	case <-b.stopped:
	case b.inbox <- fn:
	}
}

// postWait runs fn on the loop goroutine and blocks until it finishes; used
// by operations that return results.
func (b *Board) postWait(fn func()) {
	done := make(chan struct{})
	b.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-b.stopped:
	case <-done:
	}
}

// setDispatcher installs the outbound event sink. Called by the owning
// session during setup, before Run starts.
func (b *Board) setDispatcher(dispatch func(evt *wire.Event)) {
	b.dispatch = dispatch
}

func (b *Board) emit(evt *wire.Event) {
	if b.dispatch == nil {
		return
	}
	b.dispatch(evt)
}

//
// Local operations, called from the interactive side. Each posts into the
// loop, applies the mutation, and broadcasts the matching event.

// AddObject inserts a locally created object and announces it to peers.
func (b *Board) AddObject(obj object.Object) error {
	record, err := object.Encode(obj)
	if err != nil {
		return err
	}
	b.postWait(func() {
		b.insertObject(obj)
		b.emit(&wire.Event{
			Type:      wire.EventType_AddObject,
			AddObject: &wire.AddObjectArgs{Object: record},
		})
	})
	return nil
}

// DeleteObjects removes each present id and returns the subset actually
// removed. Re-deleting an absent id is a no-op, and only the removed subset
// is broadcast.
func (b *Board) DeleteObjects(ids ...string) []string {
	var removed []string
	b.postWait(func() {
		removed = b.removeObjects(ids)
		if len(removed) > 0 {
			b.emit(&wire.Event{
				Type:          wire.EventType_DeleteObjects,
				DeleteObjects: &wire.DeleteObjectsArgs{Ids: removed},
			})
		}
	})
	return removed
}

// MoveObjects offsets every present id; absent ids are skipped without
// error.
func (b *Board) MoveObjects(offset wire.Vec2, ids ...string) {
	b.postWait(func() {
		b.applyMove(offset, ids)
		b.emit(&wire.Event{
			Type:        wire.EventType_MoveObjects,
			MoveObjects: &wire.MoveObjectsArgs{Offset: offset, Ids: ids},
		})
	})
}

// UpdateObject applies one closed update variant to a present object and
// broadcasts it. Unknown ids are skipped.
func (b *Board) UpdateObject(id string, update wire.ObjectUpdate) {
	b.postWait(func() {
		if !b.applyUpdate(id, update) {
			return
		}
		b.emit(&wire.Event{
			Type:         wire.EventType_UpdateObject,
			UpdateObject: &wire.UpdateObjectArgs{Id: id, Update: update},
		})
	})
}

// SetObjects replaces the entire user-object registry. With broadcast the
// replacement is replicated to peers (carrying broadcast=false so receivers
// do not re-echo); without it this is a silent local load, used for the
// snapshot a newly joined peer receives.
func (b *Board) SetObjects(objs []object.Object, broadcast bool) error {
	var records [][]byte
	if broadcast {
		records = make([][]byte, 0, len(objs))
		for _, obj := range objs {
			record, err := object.Encode(obj)
			if err != nil {
				return err
			}
			records = append(records, record)
		}
	}
	b.postWait(func() {
		b.replaceObjects(objs)
		if broadcast {
			b.emit(&wire.Event{
				Type:       wire.EventType_SetObjects,
				SetObjects: &wire.SetObjectsArgs{Objects: records, Broadcast: false},
			})
		}
	})
	return nil
}

// MoveLocalCursor reports the local user's pointer position to peers,
// subject to the sender-side throttle window.
func (b *Board) MoveLocalCursor(pos wire.Vec2) {
	b.postWait(func() {
		now := time.Now()
		if now.Sub(b.lastCursorSent) < b.params.CursorThrottleInterval {
			return
		}
		b.lastCursorSent = now
		b.emit(&wire.Event{
			Type:           wire.EventType_MoveUserCursor,
			MoveUserCursor: &wire.MoveUserCursorArgs{Name: b.params.UserName, Pos: pos},
		})
	})
}

//
// Reads

// Objects snapshots the registry in insertion order.
func (b *Board) Objects() []object.Object {
	var objs []object.Object
	b.postWait(func() {
		objs = b.snapshotObjects()
	})
	return objs
}

// GetObject looks up one object by id.
func (b *Board) GetObject(id string) (object.Object, bool) {
	var obj object.Object
	var has bool
	b.postWait(func() {
		obj, has = b.objects[id]
	})
	return obj, has
}

// Users snapshots the known presence names.
func (b *Board) Users() []string {
	var names []string
	b.postWait(func() {
		for name := range b.users {
			names = append(names, name)
		}
	})
	return names
}

// CursorPos reports the last known cursor position for a user.
func (b *Board) CursorPos(name string) (wire.Vec2, bool) {
	var pos wire.Vec2
	var has bool
	b.postWait(func() {
		user, ok := b.users[name]
		if ok {
			pos = user.Cursor.Pos()
			has = true
		}
	})
	return pos, has
}

//
// Registry mutation, loop goroutine only.

func (b *Board) insertObject(obj object.Object) {
	if _, has := b.objects[obj.Id()]; !has {
		b.objectOrder = append(b.objectOrder, obj.Id())
	}
	b.objects[obj.Id()] = obj
	b.notifier.ObjectAdded(obj)
}

func (b *Board) removeObjects(ids []string) []string {
	removed := []string{}
	for _, id := range ids {
		if _, has := b.objects[id]; !has {
			continue
		}
		delete(b.objects, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		b.compactOrder()
		b.notifier.ObjectsDeleted(removed)
	}
	return removed
}

func (b *Board) compactOrder() {
	order := b.objectOrder[:0]
	for _, id := range b.objectOrder {
		if _, has := b.objects[id]; has {
			order = append(order, id)
		}
	}
	b.objectOrder = order
}

func (b *Board) applyMove(offset wire.Vec2, ids []string) {
	moved := []string{}
	for _, id := range ids {
		obj, has := b.objects[id]
		if !has {
			continue
		}
		obj.Offset(offset)
		moved = append(moved, id)
	}
	if len(moved) > 0 {
		b.notifier.ObjectsMoved(offset, moved)
	}
}

func (b *Board) applyUpdate(id string, update wire.ObjectUpdate) bool {
	obj, has := b.objects[id]
	if !has {
		return false
	}
	if !object.ApplyUpdate(obj, update) {
		b.log.Warn("Update variant does not apply to object", zap.String("objectId", id), zap.Uint8("kind", uint8(update.Kind)))
		return false
	}
	b.notifier.ObjectUpdated(obj)
	return true
}

func (b *Board) replaceObjects(objs []object.Object) {
	b.objects = make(map[string]object.Object, len(objs))
	b.objectOrder = b.objectOrder[:0]
	for _, obj := range objs {
		b.objects[obj.Id()] = obj
		b.objectOrder = append(b.objectOrder, obj.Id())
	}
	b.notifier.ObjectsReplaced(objs)
}

func (b *Board) snapshotObjects() []object.Object {
	objs := make([]object.Object, 0, len(b.objectOrder))
	for _, id := range b.objectOrder {
		if obj, has := b.objects[id]; has {
			objs = append(objs, obj)
		}
	}
	return objs
}

func (b *Board) encodeSnapshot() ([][]byte, error) {
	objs := b.snapshotObjects()
	records := make([][]byte, 0, len(objs))
	for _, obj := range objs {
		record, err := object.Encode(obj)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

//
// Presence, loop goroutine only.

func (b *Board) addUser(name string) {
	if _, has := b.users[name]; has {
		return
	}
	b.users[name] = &User{
		Name:   name,
		Cursor: object.NewCursor(name, wire.Vec2{}),
	}
	b.notifier.UserJoined(name)
}

func (b *Board) moveUserCursor(name string, pos wire.Vec2) {
	user, has := b.users[name]
	if has {
		user.Cursor.SetPos(pos)
		b.notifier.UserCursorMoved(name, pos)
	}
}

func (b *Board) deleteUser(name string) {
	if _, has := b.users[name]; !has {
		return
	}
	delete(b.users, name)
	b.notifier.UserLeft(name)
}

func (b *Board) deleteAllUsers() {
	for name := range b.users {
		delete(b.users, name)
		b.notifier.UserLeft(name)
	}
}

//
// Remote event application, loop goroutine only. Pings are filtered in the
// transport and never arrive here.

func (b *Board) applyRemoteEvent(evt *wire.Event) {
	switch evt.Type {
	case wire.EventType_AddObject:
		obj, err := object.Decode(evt.AddObject.Object)
		if err != nil {
			b.log.Warn("Dropping addObject with undecodable record", zap.Error(err))
			return
		}
		b.insertObject(obj)
	case wire.EventType_DeleteObjects:
		b.removeObjects(evt.DeleteObjects.Ids)
	case wire.EventType_MoveObjects:
		b.applyMove(evt.MoveObjects.Offset, evt.MoveObjects.Ids)
	case wire.EventType_UpdateObject:
		b.applyUpdate(evt.UpdateObject.Id, evt.UpdateObject.Update)
	case wire.EventType_SetObjects:
		objs := make([]object.Object, 0, len(evt.SetObjects.Objects))
		for _, record := range evt.SetObjects.Objects {
			obj, err := object.Decode(record)
			if err != nil {
				b.log.Warn("Dropping undecodable record in setObjects", zap.Error(err))
				continue
			}
			objs = append(objs, obj)
		}
		b.replaceObjects(objs)
		if evt.SetObjects.Broadcast {
			records, err := b.encodeSnapshot()
			if err == nil {
				b.emit(&wire.Event{
					Type:       wire.EventType_SetObjects,
					SetObjects: &wire.SetObjectsArgs{Objects: records, Broadcast: false},
				})
			}
		}
	case wire.EventType_AddUser:
		b.addUser(evt.AddUser.Name)
	case wire.EventType_MoveUserCursor:
		b.moveUserCursor(evt.MoveUserCursor.Name, evt.MoveUserCursor.Pos)
	}
}
