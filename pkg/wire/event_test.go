package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawspace/drawsync/pkg/errors"
)

func testSerializer() EventSerializer {
	return EventSerializer{MagicNumber: DefaultMagicNumber, Version: DefaultVersion}
}

func TestPingRoundTrip(t *testing.T) {
	s := testSerializer()

	msg, err := s.SerializeEvent(&Event{Type: EventType_Ping})
	require.NoError(t, err)
	assert.Len(t, msg, eventHeaderSize)

	evt, err := s.Parse(msg)
	require.NoError(t, err)
	assert.Equal(t, EventType_Ping, evt.Type)
}

func TestAddObjectRoundTrip(t *testing.T) {
	s := testSerializer()
	record := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	msg, err := s.SerializeEvent(&Event{
		Type:      EventType_AddObject,
		AddObject: &AddObjectArgs{Object: record},
	})
	require.NoError(t, err)

	evt, err := s.Parse(msg)
	require.NoError(t, err)
	require.Equal(t, EventType_AddObject, evt.Type)
	require.NotNil(t, evt.AddObject)
	assert.Equal(t, record, evt.AddObject.Object)
}

func TestMoveObjectsRoundTrip(t *testing.T) {
	s := testSerializer()

	msg, err := s.SerializeEvent(&Event{
		Type: EventType_MoveObjects,
		MoveObjects: &MoveObjectsArgs{
			Offset: Vec2{X: -12.5, Y: 40},
			Ids:    []string{"obj-1", "obj-2"},
		},
	})
	require.NoError(t, err)

	evt, err := s.Parse(msg)
	require.NoError(t, err)
	require.NotNil(t, evt.MoveObjects)
	assert.Equal(t, Vec2{X: -12.5, Y: 40}, evt.MoveObjects.Offset)
	assert.Equal(t, []string{"obj-1", "obj-2"}, evt.MoveObjects.Ids)
}

func TestUpdateObjectVariantsRoundTrip(t *testing.T) {
	s := testSerializer()

	updates := []ObjectUpdate{
		{Kind: UpdateKind_Resize, Resize: &ResizeUpdate{Width: 320, Height: 200}},
		{Kind: UpdateKind_Recolor, Recolor: &RecolorUpdate{Colour: Colour{R: 255, G: 128, B: 0, A: 255}}},
		{Kind: UpdateKind_SetText, SetText: &SetTextUpdate{Text: "hello there"}},
		{Kind: UpdateKind_AppendPoints, AppendPoints: &AppendPointsUpdate{Points: []Vec2{{X: 1, Y: 2}, {X: 3, Y: 4}}}},
	}

	for _, update := range updates {
		msg, err := s.SerializeEvent(&Event{
			Type:         EventType_UpdateObject,
			UpdateObject: &UpdateObjectArgs{Id: "obj-77", Update: update},
		})
		require.NoError(t, err)

		evt, err := s.Parse(msg)
		require.NoError(t, err)
		require.NotNil(t, evt.UpdateObject)
		assert.Equal(t, "obj-77", evt.UpdateObject.Id)
		assert.Equal(t, update, evt.UpdateObject.Update)
	}
}

func TestUpdateObjectMissingVariantPointer(t *testing.T) {
	s := testSerializer()

	_, err := s.SerializeEvent(&Event{
		Type:         EventType_UpdateObject,
		UpdateObject: &UpdateObjectArgs{Id: "obj-1", Update: ObjectUpdate{Kind: UpdateKind_Resize}},
	})
	assert.Error(t, err)
}

func TestSetObjectsRoundTrip(t *testing.T) {
	s := testSerializer()

	msg, err := s.SerializeEvent(&Event{
		Type: EventType_SetObjects,
		SetObjects: &SetObjectsArgs{
			Objects:   [][]byte{{0xAA}, {0xBB, 0xCC}},
			Broadcast: true,
		},
	})
	require.NoError(t, err)

	evt, err := s.Parse(msg)
	require.NoError(t, err)
	require.NotNil(t, evt.SetObjects)
	assert.True(t, evt.SetObjects.Broadcast)
	require.Len(t, evt.SetObjects.Objects, 2)
	assert.Equal(t, []byte{0xAA}, evt.SetObjects.Objects[0])
	assert.Equal(t, []byte{0xBB, 0xCC}, evt.SetObjects.Objects[1])
}

func TestMoveUserCursorRoundTrip(t *testing.T) {
	s := testSerializer()

	msg, err := s.SerializeEvent(&Event{
		Type:           EventType_MoveUserCursor,
		MoveUserCursor: &MoveUserCursorArgs{Name: "alex", Pos: Vec2{X: 99, Y: -1.25}},
	})
	require.NoError(t, err)

	evt, err := s.Parse(msg)
	require.NoError(t, err)
	require.NotNil(t, evt.MoveUserCursor)
	assert.Equal(t, "alex", evt.MoveUserCursor.Name)
	assert.Equal(t, Vec2{X: 99, Y: -1.25}, evt.MoveUserCursor.Pos)
}

func TestParseRejectsWrongMagicNumber(t *testing.T) {
	s := testSerializer()
	msg, err := s.SerializeEvent(&Event{Type: EventType_Ping})
	require.NoError(t, err)

	other := EventSerializer{MagicNumber: 0x0BADF00D, Version: DefaultVersion}
	_, err = other.Parse(msg)
	require.Error(t, err)

	headerErr, ok := err.(*errors.InvalidHeaderVersion)
	require.True(t, ok)
	assert.Equal(t, DefaultMagicNumber, headerErr.ActualMagicNumber)
}

func TestParseRejectsWrongVersion(t *testing.T) {
	s := testSerializer()
	msg, err := s.SerializeEvent(&Event{Type: EventType_Ping})
	require.NoError(t, err)

	other := EventSerializer{MagicNumber: DefaultMagicNumber, Version: DefaultVersion + 1}
	_, err = other.Parse(msg)
	assert.Error(t, err)
}

func TestParseRejectsShortMessage(t *testing.T) {
	s := testSerializer()

	_, err := s.Parse([]byte{0x01, 0x02})
	require.Error(t, err)

	underflow, ok := err.(*errors.Underflow)
	require.True(t, ok)
	assert.Equal(t, 2, underflow.MsgSize)
}

func TestParseRejectsTruncatedPayload(t *testing.T) {
	s := testSerializer()
	msg, err := s.SerializeEvent(&Event{
		Type:    EventType_AddUser,
		AddUser: &AddUserArgs{Name: "somebody"},
	})
	require.NoError(t, err)

	_, err = s.Parse(msg[:len(msg)-3])
	assert.Error(t, err)
}

func TestParseRejectsUnknownEventType(t *testing.T) {
	s := testSerializer()
	msg, err := s.SerializeEvent(&Event{Type: EventType_Ping})
	require.NoError(t, err)

	// Overwrite the type nibble with an out-of-range value.
	msg[4] = s.Version<<4 | 0xE
	_, err = s.Parse(msg)
	require.Error(t, err)

	enumErr, ok := err.(*errors.InvalidEnumValue)
	require.True(t, ok)
	assert.Equal(t, uint8(0xE), enumErr.IntValue)
}

func TestSerializeRejectsMissingArgs(t *testing.T) {
	s := testSerializer()

	_, err := s.SerializeEvent(&Event{Type: EventType_AddObject})
	assert.Error(t, err)

	_, err = s.SerializeEvent(&Event{Type: EventType_NONE})
	assert.Error(t, err)
}
