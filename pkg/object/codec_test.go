package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawspace/drawsync/pkg/errors"
	"github.com/drawspace/drawsync/pkg/wire"
)

func TestRectangleRoundTrip(t *testing.T) {
	red := wire.Colour{R: 200, G: 10, B: 10, A: 255}
	rect := NewRectangle(red, Rect{X: 5, Y: -3, Width: 40, Height: 25})
	rect.Offset(wire.Vec2{X: 2, Y: 2})

	record, err := Encode(rect)
	require.NoError(t, err)

	decoded, err := Decode(record)
	require.NoError(t, err)
	require.Equal(t, Kind_Rectangle, decoded.Kind())

	// Identity, position, and bounds survive verbatim.
	assert.Equal(t, rect.Id(), decoded.Id())
	assert.Equal(t, rect.Pos(), decoded.Pos())
	assert.Equal(t, rect.Bounds(), decoded.Bounds())
	assert.Equal(t, red, decoded.(*Rectangle).Colour)
}

func TestImageRasterRoundTrip(t *testing.T) {
	pixels := make([]byte, 8*6*4)
	for i := range pixels {
		pixels[i] = byte(i % 251)
	}
	img := NewImage(Raster{
		Pixels: pixels,
		Width:  8,
		Height: 6,
		Format: RasterFormatRGBA,
	}, Rect{X: 0, Y: 0, Width: 8, Height: 6})

	record, err := Encode(img)
	require.NoError(t, err)

	decoded, err := Decode(record)
	require.NoError(t, err)
	got := decoded.(*Image).Raster
	assert.Equal(t, pixels, got.Pixels)
	assert.Equal(t, 8, got.Width)
	assert.Equal(t, 6, got.Height)
	assert.Equal(t, RasterFormatRGBA, got.Format)
}

func TestZeroSizeRasterDecodesToPlaceholder(t *testing.T) {
	img := NewImage(Raster{Width: 0, Height: 0, Format: RasterFormatRGBA}, Rect{})

	record, err := Encode(img)
	require.NoError(t, err)

	decoded, err := Decode(record)
	require.NoError(t, err)
	got := decoded.(*Image).Raster
	assert.Equal(t, 10, got.Width)
	assert.Equal(t, 10, got.Height)
	assert.Len(t, got.Pixels, 10*10*4)
}

func TestScribbleRoundTrip(t *testing.T) {
	scribble := NewScribble(wire.Colour{B: 255, A: 255}, 3, Raster{
		Pixels: []byte{1, 2, 3, 4},
		Width:  1,
		Height: 1,
		Format: RasterFormatRGBA,
	}, Rect{X: 10, Y: 10, Width: 1, Height: 1})

	record, err := Encode(scribble)
	require.NoError(t, err)

	decoded, err := Decode(record)
	require.NoError(t, err)
	got := decoded.(*Scribble)
	assert.Equal(t, 3, got.LineWidth)
	assert.Equal(t, wire.Colour{B: 255, A: 255}, got.Colour)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.Raster.Pixels)
}

func TestTextRoundTrip(t *testing.T) {
	text := NewText("shared note", wire.Colour{A: 255}, 14, "monospace", Rect{X: 1, Y: 2, Width: 80, Height: 16})

	record, err := Encode(text)
	require.NoError(t, err)

	decoded, err := Decode(record)
	require.NoError(t, err)
	got := decoded.(*Text)
	assert.Equal(t, "shared note", got.Text)
	assert.Equal(t, 14, got.FontSize)
	assert.Equal(t, "monospace", got.FontName)
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := NewCursor("remote-user", wire.Vec2{X: 33, Y: 44})

	record, err := Encode(cursor)
	require.NoError(t, err)

	decoded, err := Decode(record)
	require.NoError(t, err)
	got := decoded.(*Cursor)
	assert.Equal(t, "remote-user", got.Owner)
	assert.Equal(t, wire.Vec2{X: 33, Y: 44}, got.Pos())
}

func TestDecodeRejectsUnknownTypeTag(t *testing.T) {
	_, err := Decode([]byte{0x7F, 0x00, 0x00})
	require.Error(t, err)

	unknown, ok := err.(*errors.UnknownObjectType)
	require.True(t, ok)
	assert.Equal(t, uint8(0x7F), unknown.TypeTag)
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	record, err := Encode(NewRectangle(wire.Colour{}, Rect{Width: 5, Height: 5}))
	require.NoError(t, err)

	_, err = Decode(record[:len(record)-2])
	assert.Error(t, err)
}

func TestRectangleResizeClampsToMinimum(t *testing.T) {
	rect := NewRectangle(wire.Colour{}, Rect{Width: 50, Height: 50})
	rect.Resize(-10, 0)

	bounds := rect.Bounds()
	assert.Equal(t, 1.0, bounds.Width)
	assert.Equal(t, 1.0, bounds.Height)
}

func TestScribbleAppendPointsGrowsBounds(t *testing.T) {
	scribble := NewScribble(wire.Colour{}, 2, Raster{}, Rect{X: 10, Y: 10, Width: 5, Height: 5})
	scribble.AppendPoints([]wire.Vec2{{X: 0, Y: 0}, {X: 30, Y: 40}})

	bounds := scribble.Bounds()
	assert.Equal(t, 0.0, bounds.X)
	assert.Equal(t, 0.0, bounds.Y)
	assert.Equal(t, 30.0, bounds.Width)
	assert.Equal(t, 40.0, bounds.Height)
}

func TestApplyUpdateRejectsMismatchedVariant(t *testing.T) {
	rect := NewRectangle(wire.Colour{}, Rect{Width: 5, Height: 5})

	applied := ApplyUpdate(rect, wire.ObjectUpdate{
		Kind:    wire.UpdateKind_SetText,
		SetText: &wire.SetTextUpdate{Text: "nope"},
	})
	assert.False(t, applied)

	applied = ApplyUpdate(rect, wire.ObjectUpdate{
		Kind:    wire.UpdateKind_Recolor,
		Recolor: &wire.RecolorUpdate{Colour: wire.Colour{G: 255, A: 255}},
	})
	assert.True(t, applied)
	assert.Equal(t, wire.Colour{G: 255, A: 255}, rect.Colour)
}
