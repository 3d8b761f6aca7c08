package wire

import (
	"encoding/binary"
	"math"

	"github.com/drawspace/drawsync/pkg/errors"
)

type EventType uint8

const (
	EventType_Ping EventType = iota
	EventType_AddObject
	EventType_DeleteObjects
	EventType_MoveObjects
	EventType_UpdateObject
	EventType_SetObjects
	EventType_AddUser
	EventType_MoveUserCursor

	EventType_NONE
)

func eventHeaderIdToEventType(headerId uint8) EventType {
	if headerId < uint8(EventType_NONE) {
		return EventType(headerId)
	}
	return EventType_NONE
}

// Vec2 is a canvas-space position or offset.
type Vec2 struct {
	X float64
	Y float64
}

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vec2) Negate() Vec2 {
	return Vec2{X: -v.X, Y: -v.Y}
}

type UpdateKind uint8

const (
	UpdateKind_Resize UpdateKind = iota
	UpdateKind_Recolor
	UpdateKind_SetText
	UpdateKind_AppendPoints

	UpdateKind_NONE
)

type Colour struct {
	R uint8
	G uint8
	B uint8
	A uint8
}

// ObjectUpdate is a closed union of the mutations a peer may request on an
// existing object. Exactly one variant pointer is set, selected by Kind.
type ObjectUpdate struct {
	Kind         UpdateKind
	Resize       *ResizeUpdate
	Recolor      *RecolorUpdate
	SetText      *SetTextUpdate
	AppendPoints *AppendPointsUpdate
}

type ResizeUpdate struct {
	Width  float64
	Height float64
}

type RecolorUpdate struct {
	Colour Colour
}

type SetTextUpdate struct {
	Text string
}

type AppendPointsUpdate struct {
	Points []Vec2
}

type AddObjectArgs struct {
	Object []byte // encoded object record
}

type DeleteObjectsArgs struct {
	Ids []string
}

type MoveObjectsArgs struct {
	Offset Vec2
	Ids    []string
}

type UpdateObjectArgs struct {
	Id     string
	Update ObjectUpdate
}

type SetObjectsArgs struct {
	Objects   [][]byte // encoded object records
	Broadcast bool
}

type AddUserArgs struct {
	Name string
}

type MoveUserCursorArgs struct {
	Name string
	Pos  Vec2
}

// Event is the tagged union carried by one frame. Exactly one args pointer
// is set, selected by Type; Ping carries none.
type Event struct {
	Type EventType

	AddObject      *AddObjectArgs
	DeleteObjects  *DeleteObjectsArgs
	MoveObjects    *MoveObjectsArgs
	UpdateObject   *UpdateObjectArgs
	SetObjects     *SetObjectsArgs
	AddUser        *AddUserArgs
	MoveUserCursor *MoveUserCursorArgs
}

type EventSerializer struct {
	MagicNumber uint32
	Version     uint8
}

const DefaultMagicNumber uint32 = 0x44525753
const DefaultVersion uint8 = 0

const eventHeaderSize = 5

//
// Encoding helpers

func appendUint16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendFloat64(dst []byte, v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(dst, b[:]...)
}

func appendString(dst []byte, s string) []byte {
	dst = appendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func appendBlob(dst []byte, blob []byte) []byte {
	dst = appendUint32(dst, uint32(len(blob)))
	return append(dst, blob...)
}

func appendVec2(dst []byte, v Vec2) []byte {
	dst = appendFloat64(dst, v.X)
	return appendFloat64(dst, v.Y)
}

func appendColour(dst []byte, c Colour) []byte {
	return append(dst, c.R, c.G, c.B, c.A)
}

func appendIdList(dst []byte, ids []string) []byte {
	dst = appendUint16(dst, uint16(len(ids)))
	for _, id := range ids {
		dst = appendString(dst, id)
	}
	return dst
}

//
// Parsing helpers. Each takes a read pointer and returns the advanced
// pointer, shared by every event parser below.

func parseUint16(messageName string, msg []byte, readPtr int) (int, uint16, error) {
	if len(msg) < readPtr+2 {
		return readPtr, 0, &errors.Underflow{MessageName: messageName, MsgSize: len(msg), MinimumSize: readPtr + 2}
	}
	return readPtr + 2, binary.LittleEndian.Uint16(msg[readPtr : readPtr+2]), nil
}

func parseUint32(messageName string, msg []byte, readPtr int) (int, uint32, error) {
	if len(msg) < readPtr+4 {
		return readPtr, 0, &errors.Underflow{MessageName: messageName, MsgSize: len(msg), MinimumSize: readPtr + 4}
	}
	return readPtr + 4, binary.LittleEndian.Uint32(msg[readPtr : readPtr+4]), nil
}

func parseFloat64(messageName string, msg []byte, readPtr int) (int, float64, error) {
	if len(msg) < readPtr+8 {
		return readPtr, 0, &errors.Underflow{MessageName: messageName, MsgSize: len(msg), MinimumSize: readPtr + 8}
	}
	return readPtr + 8, math.Float64frombits(binary.LittleEndian.Uint64(msg[readPtr : readPtr+8])), nil
}

func parseString(messageName string, msg []byte, readPtr int) (int, string, error) {
	ptr, strLen, err := parseUint16(messageName, msg, readPtr)
	if err != nil {
		return readPtr, "", err
	}
	if len(msg) < ptr+int(strLen) {
		return readPtr, "", &errors.Underflow{MessageName: messageName, MsgSize: len(msg), MinimumSize: ptr + int(strLen)}
	}
	return ptr + int(strLen), string(msg[ptr : ptr+int(strLen)]), nil
}

func parseBlob(messageName string, msg []byte, readPtr int) (int, []byte, error) {
	ptr, blobLen, err := parseUint32(messageName, msg, readPtr)
	if err != nil {
		return readPtr, nil, err
	}
	if len(msg) < ptr+int(blobLen) {
		return readPtr, nil, &errors.Underflow{MessageName: messageName, MsgSize: len(msg), MinimumSize: ptr + int(blobLen)}
	}
	blob := make([]byte, blobLen)
	copy(blob, msg[ptr:ptr+int(blobLen)])
	return ptr + int(blobLen), blob, nil
}

func parseVec2(messageName string, msg []byte, readPtr int) (int, Vec2, error) {
	ptr, x, err := parseFloat64(messageName, msg, readPtr)
	if err != nil {
		return readPtr, Vec2{}, err
	}
	ptr, y, err := parseFloat64(messageName, msg, ptr)
	if err != nil {
		return readPtr, Vec2{}, err
	}
	return ptr, Vec2{X: x, Y: y}, nil
}

func parseColour(messageName string, msg []byte, readPtr int) (int, Colour, error) {
	if len(msg) < readPtr+4 {
		return readPtr, Colour{}, &errors.Underflow{MessageName: messageName, MsgSize: len(msg), MinimumSize: readPtr + 4}
	}
	return readPtr + 4, Colour{R: msg[readPtr], G: msg[readPtr+1], B: msg[readPtr+2], A: msg[readPtr+3]}, nil
}

func parseIdList(messageName string, msg []byte, readPtr int) (int, []string, error) {
	ptr, count, err := parseUint16(messageName, msg, readPtr)
	if err != nil {
		return readPtr, nil, err
	}
	ids := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		var id string
		ptr, id, err = parseString(messageName, msg, ptr)
		if err != nil {
			return readPtr, nil, err
		}
		ids = append(ids, id)
	}
	return ptr, ids, nil
}

//
// Update union

func appendObjectUpdate(dst []byte, u ObjectUpdate) ([]byte, error) {
	dst = append(dst, uint8(u.Kind))
	switch u.Kind {
	case UpdateKind_Resize:
		if u.Resize == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "ObjectUpdate::Resize", IntValue: uint8(u.Kind)}
		}
		dst = appendFloat64(dst, u.Resize.Width)
		return appendFloat64(dst, u.Resize.Height), nil
	case UpdateKind_Recolor:
		if u.Recolor == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "ObjectUpdate::Recolor", IntValue: uint8(u.Kind)}
		}
		return appendColour(dst, u.Recolor.Colour), nil
	case UpdateKind_SetText:
		if u.SetText == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "ObjectUpdate::SetText", IntValue: uint8(u.Kind)}
		}
		return appendString(dst, u.SetText.Text), nil
	case UpdateKind_AppendPoints:
		if u.AppendPoints == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "ObjectUpdate::AppendPoints", IntValue: uint8(u.Kind)}
		}
		dst = appendUint16(dst, uint16(len(u.AppendPoints.Points)))
		for _, p := range u.AppendPoints.Points {
			dst = appendVec2(dst, p)
		}
		return dst, nil
	}
	return nil, &errors.UnknownUpdateKind{Kind: uint8(u.Kind)}
}

func parseObjectUpdate(msg []byte, readPtr int) (int, ObjectUpdate, error) {
	if len(msg) < readPtr+1 {
		return readPtr, ObjectUpdate{}, &errors.Underflow{MessageName: "Event::ObjectUpdate", MsgSize: len(msg), MinimumSize: readPtr + 1}
	}
	kind := UpdateKind(msg[readPtr])
	ptr := readPtr + 1

	switch kind {
	case UpdateKind_Resize:
		ptr, w, err := parseFloat64("Event::ObjectUpdate::Resize", msg, ptr)
		if err != nil {
			return readPtr, ObjectUpdate{}, err
		}
		ptr, h, err := parseFloat64("Event::ObjectUpdate::Resize", msg, ptr)
		if err != nil {
			return readPtr, ObjectUpdate{}, err
		}
		return ptr, ObjectUpdate{Kind: kind, Resize: &ResizeUpdate{Width: w, Height: h}}, nil
	case UpdateKind_Recolor:
		ptr, c, err := parseColour("Event::ObjectUpdate::Recolor", msg, ptr)
		if err != nil {
			return readPtr, ObjectUpdate{}, err
		}
		return ptr, ObjectUpdate{Kind: kind, Recolor: &RecolorUpdate{Colour: c}}, nil
	case UpdateKind_SetText:
		ptr, text, err := parseString("Event::ObjectUpdate::SetText", msg, ptr)
		if err != nil {
			return readPtr, ObjectUpdate{}, err
		}
		return ptr, ObjectUpdate{Kind: kind, SetText: &SetTextUpdate{Text: text}}, nil
	case UpdateKind_AppendPoints:
		ptr, count, err := parseUint16("Event::ObjectUpdate::AppendPoints", msg, ptr)
		if err != nil {
			return readPtr, ObjectUpdate{}, err
		}
		points := make([]Vec2, 0, count)
		for i := 0; i < int(count); i++ {
			var p Vec2
			ptr, p, err = parseVec2("Event::ObjectUpdate::AppendPoints", msg, ptr)
			if err != nil {
				return readPtr, ObjectUpdate{}, err
			}
			points = append(points, p)
		}
		return ptr, ObjectUpdate{Kind: kind, AppendPoints: &AppendPointsUpdate{Points: points}}, nil
	}

	return readPtr, ObjectUpdate{}, &errors.UnknownUpdateKind{Kind: uint8(kind)}
}

// SerializeEvent encodes one event, header included, ready for framing.
func (s EventSerializer) SerializeEvent(evt *Event) ([]byte, error) {
	if evt.Type >= EventType_NONE {
		return nil, &errors.InvalidEnumValue{EnumName: "EventType", IntValue: uint8(evt.Type)}
	}

	msg := make([]byte, 0, 64)
	msg = appendUint32(msg, s.MagicNumber)
	msg = append(msg, s.Version<<4|uint8(evt.Type))

	var err error
	switch evt.Type {
	case EventType_Ping:
		// no payload
	case EventType_AddObject:
		if evt.AddObject == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "Event::AddObject", IntValue: uint8(evt.Type)}
		}
		msg = appendBlob(msg, evt.AddObject.Object)
	case EventType_DeleteObjects:
		if evt.DeleteObjects == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "Event::DeleteObjects", IntValue: uint8(evt.Type)}
		}
		msg = appendIdList(msg, evt.DeleteObjects.Ids)
	case EventType_MoveObjects:
		if evt.MoveObjects == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "Event::MoveObjects", IntValue: uint8(evt.Type)}
		}
		msg = appendVec2(msg, evt.MoveObjects.Offset)
		msg = appendIdList(msg, evt.MoveObjects.Ids)
	case EventType_UpdateObject:
		if evt.UpdateObject == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "Event::UpdateObject", IntValue: uint8(evt.Type)}
		}
		msg = appendString(msg, evt.UpdateObject.Id)
		msg, err = appendObjectUpdate(msg, evt.UpdateObject.Update)
		if err != nil {
			return nil, err
		}
	case EventType_SetObjects:
		if evt.SetObjects == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "Event::SetObjects", IntValue: uint8(evt.Type)}
		}
		broadcastByte := uint8(0)
		if evt.SetObjects.Broadcast {
			broadcastByte = 1
		}
		msg = append(msg, broadcastByte)
		msg = appendUint16(msg, uint16(len(evt.SetObjects.Objects)))
		for _, obj := range evt.SetObjects.Objects {
			msg = appendBlob(msg, obj)
		}
	case EventType_AddUser:
		if evt.AddUser == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "Event::AddUser", IntValue: uint8(evt.Type)}
		}
		msg = appendString(msg, evt.AddUser.Name)
	case EventType_MoveUserCursor:
		if evt.MoveUserCursor == nil {
			return nil, &errors.InvalidEnumValue{EnumName: "Event::MoveUserCursor", IntValue: uint8(evt.Type)}
		}
		msg = appendString(msg, evt.MoveUserCursor.Name)
		msg = appendVec2(msg, evt.MoveUserCursor.Pos)
	}

	return msg, nil
}

// Parse decodes one event payload. Malformed payloads return typed errors so
// the transport can log and drop them without killing the read loop.
func (s EventSerializer) Parse(msg []byte) (*Event, error) {
	if len(msg) < eventHeaderSize {
		return nil, &errors.Underflow{
			MessageName: "Event",
			MsgSize:     len(msg),
			MinimumSize: eventHeaderSize,
		}
	}

	magicNumber := binary.LittleEndian.Uint32(msg[0:4])
	versionTypeByte := msg[4]
	version := versionTypeByte & 0xF0 >> 4
	evtTypeNum := versionTypeByte & 0xF
	evtType := eventHeaderIdToEventType(evtTypeNum)

	if magicNumber != s.MagicNumber || version != s.Version {
		return nil, &errors.InvalidHeaderVersion{
			ExpectedMagicNumber: s.MagicNumber,
			ExpectedVersion:     s.Version,
			ActualMagicNumber:   magicNumber,
			ActualVersion:       version,
		}
	}

	if evtType == EventType_NONE {
		return nil, &errors.InvalidEnumValue{
			EnumName: "EventType",
			IntValue: evtTypeNum,
		}
	}

	evt := &Event{Type: evtType}
	readPtr := eventHeaderSize

	switch evtType {
	case EventType_Ping:
		// no payload
	case EventType_AddObject:
		_, blob, err := parseBlob("Event::AddObject", msg, readPtr)
		if err != nil {
			return nil, err
		}
		evt.AddObject = &AddObjectArgs{Object: blob}
	case EventType_DeleteObjects:
		_, ids, err := parseIdList("Event::DeleteObjects", msg, readPtr)
		if err != nil {
			return nil, err
		}
		evt.DeleteObjects = &DeleteObjectsArgs{Ids: ids}
	case EventType_MoveObjects:
		ptr, offset, err := parseVec2("Event::MoveObjects", msg, readPtr)
		if err != nil {
			return nil, err
		}
		_, ids, err := parseIdList("Event::MoveObjects", msg, ptr)
		if err != nil {
			return nil, err
		}
		evt.MoveObjects = &MoveObjectsArgs{Offset: offset, Ids: ids}
	case EventType_UpdateObject:
		ptr, id, err := parseString("Event::UpdateObject", msg, readPtr)
		if err != nil {
			return nil, err
		}
		_, update, err := parseObjectUpdate(msg, ptr)
		if err != nil {
			return nil, err
		}
		evt.UpdateObject = &UpdateObjectArgs{Id: id, Update: update}
	case EventType_SetObjects:
		if len(msg) < readPtr+1 {
			return nil, &errors.Underflow{MessageName: "Event::SetObjects", MsgSize: len(msg), MinimumSize: readPtr + 1}
		}
		broadcast := msg[readPtr] != 0
		ptr, count, err := parseUint16("Event::SetObjects", msg, readPtr+1)
		if err != nil {
			return nil, err
		}
		objects := make([][]byte, 0, count)
		for i := 0; i < int(count); i++ {
			var blob []byte
			ptr, blob, err = parseBlob("Event::SetObjects", msg, ptr)
			if err != nil {
				return nil, err
			}
			objects = append(objects, blob)
		}
		evt.SetObjects = &SetObjectsArgs{Objects: objects, Broadcast: broadcast}
	case EventType_AddUser:
		_, name, err := parseString("Event::AddUser", msg, readPtr)
		if err != nil {
			return nil, err
		}
		evt.AddUser = &AddUserArgs{Name: name}
	case EventType_MoveUserCursor:
		ptr, name, err := parseString("Event::MoveUserCursor", msg, readPtr)
		if err != nil {
			return nil, err
		}
		_, pos, err := parseVec2("Event::MoveUserCursor", msg, ptr)
		if err != nil {
			return nil, err
		}
		evt.MoveUserCursor = &MoveUserCursorArgs{Name: name, Pos: pos}
	}

	return evt, nil
}
