package board

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawspace/drawsync/pkg/object"
	"github.com/drawspace/drawsync/pkg/wire"
)

// eventRecorder captures everything the board emits. Events arrive on the
// loop goroutine; tests read after a postWait barrier.
type eventRecorder struct {
	mut    sync.Mutex
	events []*wire.Event
}

func (r *eventRecorder) record(evt *wire.Event) {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) take() []*wire.Event {
	r.mut.Lock()
	defer r.mut.Unlock()
	events := r.events
	r.events = nil
	return events
}

type presenceRecorder struct {
	NopNotifier

	mut    sync.Mutex
	joined []string
	left   []string
}

func (n *presenceRecorder) UserJoined(name string) {
	n.mut.Lock()
	defer n.mut.Unlock()
	n.joined = append(n.joined, name)
}

func (n *presenceRecorder) UserLeft(name string) {
	n.mut.Lock()
	defer n.mut.Unlock()
	n.left = append(n.left, name)
}

func startTestBoard(t *testing.T, params BoardParams) (*Board, *eventRecorder) {
	t.Helper()

	if params.UserName == "" {
		params.UserName = "tester"
	}

	b := CreateBoard(params)
	recorder := &eventRecorder{}
	b.setDispatcher(recorder.record)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	return b, recorder
}

func TestAddObjectBroadcastsAndStores(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	rect := object.NewRectangle(wire.Colour{R: 255, A: 255}, object.Rect{X: 1, Y: 2, Width: 10, Height: 10})
	require.NoError(t, b.AddObject(rect))

	got, has := b.GetObject(rect.Id())
	require.True(t, has)
	assert.Equal(t, rect.Id(), got.Id())

	events := recorder.take()
	require.Len(t, events, 1)
	assert.Equal(t, wire.EventType_AddObject, events[0].Type)
}

func TestDeleteObjectsIsIdempotent(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	rect := object.NewRectangle(wire.Colour{}, object.Rect{Width: 5, Height: 5})
	require.NoError(t, b.AddObject(rect))
	recorder.take()

	removed := b.DeleteObjects(rect.Id())
	assert.Equal(t, []string{rect.Id()}, removed)
	require.Len(t, recorder.take(), 1)

	// Re-deleting is a silent no-op.
	removed = b.DeleteObjects(rect.Id())
	assert.Empty(t, removed)
	assert.Empty(t, recorder.take())
}

func TestDeletePartiallyPresentIds(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	rect := object.NewRectangle(wire.Colour{}, object.Rect{Width: 5, Height: 5})
	require.NoError(t, b.AddObject(rect))
	recorder.take()

	removed := b.DeleteObjects("not-there", rect.Id())
	assert.Equal(t, []string{rect.Id()}, removed)

	events := recorder.take()
	require.Len(t, events, 1)
	assert.Equal(t, []string{rect.Id()}, events[0].DeleteObjects.Ids)
}

func TestMoveThenInverseMoveRestoresPosition(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	rect := object.NewRectangle(wire.Colour{}, object.Rect{X: 10, Y: 20, Width: 5, Height: 5})
	require.NoError(t, b.AddObject(rect))
	startPos := rect.Pos()
	recorder.take()

	offset := wire.Vec2{X: 7.5, Y: -3.25}
	b.MoveObjects(offset, rect.Id())
	b.MoveObjects(offset.Negate(), rect.Id())

	got, has := b.GetObject(rect.Id())
	require.True(t, has)
	assert.Equal(t, startPos, got.Pos())
	assert.Len(t, recorder.take(), 2)
}

func TestMoveSkipsAbsentIds(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	b.MoveObjects(wire.Vec2{X: 1, Y: 1}, "ghost")
	// The move still broadcasts; receivers skip the absent id themselves.
	assert.Len(t, recorder.take(), 1)
}

func TestUpdateObjectBroadcastsOnlyWhenApplied(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	rect := object.NewRectangle(wire.Colour{}, object.Rect{Width: 5, Height: 5})
	require.NoError(t, b.AddObject(rect))
	recorder.take()

	b.UpdateObject(rect.Id(), wire.ObjectUpdate{
		Kind:   wire.UpdateKind_Resize,
		Resize: &wire.ResizeUpdate{Width: 30, Height: 40},
	})
	require.Len(t, recorder.take(), 1)

	got, _ := b.GetObject(rect.Id())
	assert.Equal(t, 30.0, got.Bounds().Width)

	// A variant that does not apply to this kind is dropped, not broadcast.
	b.UpdateObject(rect.Id(), wire.ObjectUpdate{
		Kind:    wire.UpdateKind_SetText,
		SetText: &wire.SetTextUpdate{Text: "nope"},
	})
	assert.Empty(t, recorder.take())

	b.UpdateObject("ghost", wire.ObjectUpdate{
		Kind:   wire.UpdateKind_Resize,
		Resize: &wire.ResizeUpdate{Width: 1, Height: 1},
	})
	assert.Empty(t, recorder.take())
}

func TestSetObjectsSilentLoadDoesNotBroadcast(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	objs := []object.Object{
		object.NewRectangle(wire.Colour{}, object.Rect{Width: 1, Height: 1}),
		object.NewText("hi", wire.Colour{}, 12, "sans", object.Rect{Width: 20, Height: 10}),
	}
	require.NoError(t, b.SetObjects(objs, false))

	assert.Empty(t, recorder.take())
	assert.Len(t, b.Objects(), 2)
}

func TestSetObjectsBroadcastCarriesNonEchoFlag(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	objs := []object.Object{object.NewRectangle(wire.Colour{}, object.Rect{Width: 1, Height: 1})}
	require.NoError(t, b.SetObjects(objs, true))

	events := recorder.take()
	require.Len(t, events, 1)
	require.Equal(t, wire.EventType_SetObjects, events[0].Type)
	assert.False(t, events[0].SetObjects.Broadcast)
	assert.Len(t, events[0].SetObjects.Objects, 1)
}

func TestSetObjectsReplacesEntireRegistry(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{})

	old := object.NewRectangle(wire.Colour{}, object.Rect{Width: 1, Height: 1})
	require.NoError(t, b.AddObject(old))
	recorder.take()

	replacement := object.NewText("fresh", wire.Colour{}, 10, "sans", object.Rect{Width: 5, Height: 5})
	require.NoError(t, b.SetObjects([]object.Object{replacement}, false))

	_, has := b.GetObject(old.Id())
	assert.False(t, has)
	_, has = b.GetObject(replacement.Id())
	assert.True(t, has)
}

func TestCursorMovesAreThrottled(t *testing.T) {
	b, recorder := startTestBoard(t, BoardParams{CursorThrottleInterval: 50 * time.Millisecond})

	b.MoveLocalCursor(wire.Vec2{X: 1, Y: 1})
	b.MoveLocalCursor(wire.Vec2{X: 2, Y: 2})

	events := recorder.take()
	require.Len(t, events, 1)
	assert.Equal(t, wire.Vec2{X: 1, Y: 1}, events[0].MoveUserCursor.Pos)

	time.Sleep(60 * time.Millisecond)
	b.MoveLocalCursor(wire.Vec2{X: 3, Y: 3})
	assert.Len(t, recorder.take(), 1)
}

func TestRemoteAddObjectEntersRegistry(t *testing.T) {
	b, _ := startTestBoard(t, BoardParams{})

	rect := object.NewRectangle(wire.Colour{G: 255, A: 255}, object.Rect{X: 3, Y: 4, Width: 6, Height: 7})
	record, err := object.Encode(rect)
	require.NoError(t, err)

	b.postWait(func() {
		b.applyRemoteEvent(&wire.Event{
			Type:      wire.EventType_AddObject,
			AddObject: &wire.AddObjectArgs{Object: record},
		})
	})

	got, has := b.GetObject(rect.Id())
	require.True(t, has)
	assert.Equal(t, wire.Colour{G: 255, A: 255}, got.(*object.Rectangle).Colour)
}

func TestRemoteMalformedRecordIsDropped(t *testing.T) {
	b, _ := startTestBoard(t, BoardParams{})

	b.postWait(func() {
		b.applyRemoteEvent(&wire.Event{
			Type:      wire.EventType_AddObject,
			AddObject: &wire.AddObjectArgs{Object: []byte{0x7F, 0x01}},
		})
	})

	assert.Empty(t, b.Objects())
}

func TestPresenceLifecycle(t *testing.T) {
	notifier := &presenceRecorder{}
	b, _ := startTestBoard(t, BoardParams{Notifier: notifier})

	b.postWait(func() {
		b.applyRemoteEvent(&wire.Event{Type: wire.EventType_AddUser, AddUser: &wire.AddUserArgs{Name: "ada"}})
		b.applyRemoteEvent(&wire.Event{Type: wire.EventType_AddUser, AddUser: &wire.AddUserArgs{Name: "ada"}})
		b.applyRemoteEvent(&wire.Event{
			Type:           wire.EventType_MoveUserCursor,
			MoveUserCursor: &wire.MoveUserCursorArgs{Name: "ada", Pos: wire.Vec2{X: 12, Y: 34}},
		})
	})

	assert.Equal(t, []string{"ada"}, b.Users())
	pos, has := b.CursorPos("ada")
	require.True(t, has)
	assert.Equal(t, wire.Vec2{X: 12, Y: 34}, pos)

	notifier.mut.Lock()
	assert.Equal(t, []string{"ada"}, notifier.joined)
	notifier.mut.Unlock()

	b.postWait(func() { b.deleteUser("ada") })
	assert.Empty(t, b.Users())

	notifier.mut.Lock()
	assert.Equal(t, []string{"ada"}, notifier.left)
	notifier.mut.Unlock()
}

func TestDeleteAllUsersOnConnectionLoss(t *testing.T) {
	notifier := &presenceRecorder{}
	b, _ := startTestBoard(t, BoardParams{Notifier: notifier})

	b.postWait(func() {
		b.addUser("one")
		b.addUser("two")
	})
	require.Len(t, b.Users(), 2)

	b.postWait(func() { b.deleteAllUsers() })
	assert.Empty(t, b.Users())

	notifier.mut.Lock()
	assert.Len(t, notifier.left, 2)
	notifier.mut.Unlock()
}

func TestObjectsKeepInsertionOrder(t *testing.T) {
	b, _ := startTestBoard(t, BoardParams{})

	first := object.NewRectangle(wire.Colour{}, object.Rect{Width: 1, Height: 1})
	second := object.NewText("t", wire.Colour{}, 10, "sans", object.Rect{Width: 1, Height: 1})
	third := object.NewRectangle(wire.Colour{}, object.Rect{Width: 2, Height: 2})

	require.NoError(t, b.AddObject(first))
	require.NoError(t, b.AddObject(second))
	require.NoError(t, b.AddObject(third))
	b.DeleteObjects(second.Id())

	objs := b.Objects()
	require.Len(t, objs, 2)
	assert.Equal(t, first.Id(), objs[0].Id())
	assert.Equal(t, third.Id(), objs[1].Id())
}
