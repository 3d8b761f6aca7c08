package object

import (
	"github.com/google/uuid"

	"github.com/drawspace/drawsync/pkg/wire"
)

type Kind uint8

const (
	Kind_Rectangle Kind = iota + 1
	Kind_Image
	Kind_Scribble
	Kind_Text
	Kind_Cursor
)

// Rect is an axis-aligned rectangle in canvas space.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Object is one drawable record on the shared canvas. The variant set is
// closed: Rectangle, Image, Scribble, Text, Cursor.
type Object interface {
	Id() string
	Kind() Kind
	Pos() wire.Vec2
	SetPos(pos wire.Vec2)
	Offset(offset wire.Vec2)
	Bounds() Rect
}

type base struct {
	id   string
	pos  wire.Vec2
	rect Rect
}

func newBase(rect Rect) base {
	return base{
		id:   uuid.NewString(),
		pos:  wire.Vec2{X: rect.X, Y: rect.Y},
		rect: rect,
	}
}

func (b *base) Id() string { return b.id }

func (b *base) Pos() wire.Vec2 { return b.pos }

func (b *base) SetPos(pos wire.Vec2) { b.pos = pos }

func (b *base) Offset(offset wire.Vec2) { b.pos = b.pos.Add(offset) }

func (b *base) Bounds() Rect {
	return Rect{X: b.pos.X, Y: b.pos.Y, Width: b.rect.Width, Height: b.rect.Height}
}

//
// Rectangle

type Rectangle struct {
	base
	Colour wire.Colour
}

func NewRectangle(colour wire.Colour, rect Rect) *Rectangle {
	return &Rectangle{base: newBase(rect), Colour: colour}
}

func (r *Rectangle) Kind() Kind { return Kind_Rectangle }

// Resize clamps to a minimum 1x1 extent, matching how a drawn rectangle can
// never collapse to nothing.
func (r *Rectangle) Resize(width, height float64) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	r.rect.Width = width
	r.rect.Height = height
}

//
// Image

// Raster is raw pixel content plus the dimensions and pixel format needed to
// rehydrate a surface of exactly that size. Pixels travel zlib-compressed on
// the wire.
type Raster struct {
	Pixels []byte
	Width  int
	Height int
	Format string
}

const RasterFormatRGBA = "RGBA"

// PlaceholderRaster is what a zero-width or zero-height raster decodes to; a
// minimal non-empty surface rather than a decode failure.
func PlaceholderRaster() Raster {
	return Raster{
		Pixels: make([]byte, 10*10*4),
		Width:  10,
		Height: 10,
		Format: RasterFormatRGBA,
	}
}

type Image struct {
	base
	Raster Raster
}

func NewImage(raster Raster, rect Rect) *Image {
	return &Image{base: newBase(rect), Raster: raster}
}

func (i *Image) Kind() Kind { return Kind_Image }

//
// Scribble

// Scribble is a freehand stroke kept as raster content, like Image, plus the
// stroke parameters. Points fed while drawing grow the bounds; the raster
// itself is produced by the rendering collaborator.
type Scribble struct {
	base
	Raster    Raster
	LineWidth int
	Colour    wire.Colour
}

func NewScribble(colour wire.Colour, lineWidth int, raster Raster, rect Rect) *Scribble {
	return &Scribble{base: newBase(rect), Raster: raster, LineWidth: lineWidth, Colour: colour}
}

func (s *Scribble) Kind() Kind { return Kind_Scribble }

// AppendPoints extends the stroke bounds to cover every new point.
func (s *Scribble) AppendPoints(points []wire.Vec2) {
	for _, p := range points {
		minX, minY := s.pos.X, s.pos.Y
		maxX, maxY := s.pos.X+s.rect.Width, s.pos.Y+s.rect.Height
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
		s.pos = wire.Vec2{X: minX, Y: minY}
		s.rect.X, s.rect.Y = minX, minY
		s.rect.Width = maxX - minX
		s.rect.Height = maxY - minY
	}
}

//
// Text

type Text struct {
	base
	Text     string
	Colour   wire.Colour
	FontSize int
	FontName string
}

func NewText(text string, colour wire.Colour, fontSize int, fontName string, rect Rect) *Text {
	return &Text{base: newBase(rect), Text: text, Colour: colour, FontSize: fontSize, FontName: fontName}
}

func (t *Text) Kind() Kind { return Kind_Text }

func (t *Text) SetText(text string) { t.Text = text }

//
// Cursor

// Cursor is the visual placeholder for a remote user's pointer. It is owned
// by presence handling, not drawn by any tool.
type Cursor struct {
	base
	Owner string
}

func NewCursor(owner string, pos wire.Vec2) *Cursor {
	c := &Cursor{base: newBase(Rect{X: pos.X, Y: pos.Y, Width: 12, Height: 20}), Owner: owner}
	c.pos = pos
	return c
}

func (c *Cursor) Kind() Kind { return Kind_Cursor }

// ApplyUpdate applies one closed update variant to obj, dispatching by
// explicit match on the concrete type. Returns false when the variant does
// not apply to this object kind; the caller logs and drops it.
func ApplyUpdate(obj Object, update wire.ObjectUpdate) bool {
	switch update.Kind {
	case wire.UpdateKind_Resize:
		if r, ok := obj.(*Rectangle); ok && update.Resize != nil {
			r.Resize(update.Resize.Width, update.Resize.Height)
			return true
		}
	case wire.UpdateKind_Recolor:
		if update.Recolor == nil {
			return false
		}
		switch o := obj.(type) {
		case *Rectangle:
			o.Colour = update.Recolor.Colour
			return true
		case *Scribble:
			o.Colour = update.Recolor.Colour
			return true
		case *Text:
			o.Colour = update.Recolor.Colour
			return true
		}
	case wire.UpdateKind_SetText:
		if t, ok := obj.(*Text); ok && update.SetText != nil {
			t.SetText(update.SetText.Text)
			return true
		}
	case wire.UpdateKind_AppendPoints:
		if s, ok := obj.(*Scribble); ok && update.AppendPoints != nil {
			s.AppendPoints(update.AppendPoints.Points)
			return true
		}
	}
	return false
}
