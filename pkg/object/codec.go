package object

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"

	"github.com/drawspace/drawsync/pkg/errors"
	"github.com/drawspace/drawsync/pkg/wire"
)

// Encoded object records embed inside addObject/setObjects events. Layout:
// type tag byte, then the shared base attributes (id, pos, bounds), then the
// per-type allow-listed attributes. The decoder selects the reconstruction
// path from a closed registry keyed by the type tag - never by open-ended
// symbol lookup.

type objectDecoder func(r *recordReader) (Object, error)

var decoderRegistry = map[Kind]objectDecoder{
	Kind_Rectangle: decodeRectangle,
	Kind_Image:     decodeImage,
	Kind_Scribble:  decodeScribble,
	Kind_Text:      decodeText,
	Kind_Cursor:    decodeCursor,
}

// Encode serializes obj into one object record.
func Encode(obj Object) ([]byte, error) {
	w := &recordWriter{}
	w.writeUint8(uint8(obj.Kind()))
	w.writeString(obj.Id())
	w.writeVec2(obj.Pos())
	bounds := obj.Bounds()
	w.writeFloat64(bounds.X)
	w.writeFloat64(bounds.Y)
	w.writeFloat64(bounds.Width)
	w.writeFloat64(bounds.Height)

	switch o := obj.(type) {
	case *Rectangle:
		w.writeColour(o.Colour)
	case *Image:
		if err := w.writeRaster(o.Raster); err != nil {
			return nil, err
		}
	case *Scribble:
		if err := w.writeRaster(o.Raster); err != nil {
			return nil, err
		}
		w.writeUint16(uint16(o.LineWidth))
		w.writeColour(o.Colour)
	case *Text:
		w.writeString(o.Text)
		w.writeColour(o.Colour)
		w.writeUint16(uint16(o.FontSize))
		w.writeString(o.FontName)
	case *Cursor:
		w.writeString(o.Owner)
	default:
		return nil, &errors.UnknownObjectType{TypeTag: uint8(obj.Kind())}
	}

	return w.buf, nil
}

// Decode reconstructs an object record. The id, position, and bounds survive
// the round trip verbatim.
func Decode(record []byte) (Object, error) {
	r := &recordReader{buf: record}
	tag, err := r.readUint8()
	if err != nil {
		return nil, err
	}

	decode, has := decoderRegistry[Kind(tag)]
	if !has {
		return nil, &errors.UnknownObjectType{TypeTag: tag}
	}

	return decode(r)
}

func readBase(r *recordReader) (base, error) {
	id, err := r.readString()
	if err != nil {
		return base{}, err
	}
	pos, err := r.readVec2()
	if err != nil {
		return base{}, err
	}
	var rect Rect
	if rect.X, err = r.readFloat64(); err != nil {
		return base{}, err
	}
	if rect.Y, err = r.readFloat64(); err != nil {
		return base{}, err
	}
	if rect.Width, err = r.readFloat64(); err != nil {
		return base{}, err
	}
	if rect.Height, err = r.readFloat64(); err != nil {
		return base{}, err
	}
	return base{id: id, pos: pos, rect: rect}, nil
}

func decodeRectangle(r *recordReader) (Object, error) {
	b, err := readBase(r)
	if err != nil {
		return nil, err
	}
	colour, err := r.readColour()
	if err != nil {
		return nil, err
	}
	return &Rectangle{base: b, Colour: colour}, nil
}

func decodeImage(r *recordReader) (Object, error) {
	b, err := readBase(r)
	if err != nil {
		return nil, err
	}
	raster, err := r.readRaster()
	if err != nil {
		return nil, err
	}
	return &Image{base: b, Raster: raster}, nil
}

func decodeScribble(r *recordReader) (Object, error) {
	b, err := readBase(r)
	if err != nil {
		return nil, err
	}
	raster, err := r.readRaster()
	if err != nil {
		return nil, err
	}
	lineWidth, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	colour, err := r.readColour()
	if err != nil {
		return nil, err
	}
	return &Scribble{base: b, Raster: raster, LineWidth: int(lineWidth), Colour: colour}, nil
}

func decodeText(r *recordReader) (Object, error) {
	b, err := readBase(r)
	if err != nil {
		return nil, err
	}
	text, err := r.readString()
	if err != nil {
		return nil, err
	}
	colour, err := r.readColour()
	if err != nil {
		return nil, err
	}
	fontSize, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	fontName, err := r.readString()
	if err != nil {
		return nil, err
	}
	return &Text{base: b, Text: text, Colour: colour, FontSize: int(fontSize), FontName: fontName}, nil
}

func decodeCursor(r *recordReader) (Object, error) {
	b, err := readBase(r)
	if err != nil {
		return nil, err
	}
	owner, err := r.readString()
	if err != nil {
		return nil, err
	}
	return &Cursor{base: b, Owner: owner}, nil
}

//
// Record writer

type recordWriter struct {
	buf []byte
}

func (w *recordWriter) writeUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *recordWriter) writeUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *recordWriter) writeUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *recordWriter) writeFloat64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *recordWriter) writeString(s string) {
	w.writeUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *recordWriter) writeVec2(v wire.Vec2) {
	w.writeFloat64(v.X)
	w.writeFloat64(v.Y)
}

func (w *recordWriter) writeColour(c wire.Colour) {
	w.buf = append(w.buf, c.R, c.G, c.B, c.A)
}

func (w *recordWriter) writeRaster(raster Raster) error {
	w.writeString(raster.Format)
	w.writeUint32(uint32(raster.Width))
	w.writeUint32(uint32(raster.Height))

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raster.Pixels); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	w.writeUint32(uint32(compressed.Len()))
	w.buf = append(w.buf, compressed.Bytes()...)
	return nil
}

//
// Record reader

type recordReader struct {
	buf []byte
	ptr int
}

func (r *recordReader) underflow(need int) error {
	return &errors.Underflow{MessageName: "ObjectRecord", MsgSize: len(r.buf), MinimumSize: r.ptr + need}
}

func (r *recordReader) readUint8() (uint8, error) {
	if len(r.buf) < r.ptr+1 {
		return 0, r.underflow(1)
	}
	v := r.buf[r.ptr]
	r.ptr++
	return v, nil
}

func (r *recordReader) readUint16() (uint16, error) {
	if len(r.buf) < r.ptr+2 {
		return 0, r.underflow(2)
	}
	v := binary.LittleEndian.Uint16(r.buf[r.ptr : r.ptr+2])
	r.ptr += 2
	return v, nil
}

func (r *recordReader) readUint32() (uint32, error) {
	if len(r.buf) < r.ptr+4 {
		return 0, r.underflow(4)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.ptr : r.ptr+4])
	r.ptr += 4
	return v, nil
}

func (r *recordReader) readFloat64() (float64, error) {
	if len(r.buf) < r.ptr+8 {
		return 0, r.underflow(8)
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.ptr : r.ptr+8]))
	r.ptr += 8
	return v, nil
}

func (r *recordReader) readString() (string, error) {
	strLen, err := r.readUint16()
	if err != nil {
		return "", err
	}
	if len(r.buf) < r.ptr+int(strLen) {
		return "", r.underflow(int(strLen))
	}
	s := string(r.buf[r.ptr : r.ptr+int(strLen)])
	r.ptr += int(strLen)
	return s, nil
}

func (r *recordReader) readVec2() (wire.Vec2, error) {
	x, err := r.readFloat64()
	if err != nil {
		return wire.Vec2{}, err
	}
	y, err := r.readFloat64()
	if err != nil {
		return wire.Vec2{}, err
	}
	return wire.Vec2{X: x, Y: y}, nil
}

func (r *recordReader) readColour() (wire.Colour, error) {
	if len(r.buf) < r.ptr+4 {
		return wire.Colour{}, r.underflow(4)
	}
	c := wire.Colour{R: r.buf[r.ptr], G: r.buf[r.ptr+1], B: r.buf[r.ptr+2], A: r.buf[r.ptr+3]}
	r.ptr += 4
	return c, nil
}

func (r *recordReader) readRaster() (Raster, error) {
	format, err := r.readString()
	if err != nil {
		return Raster{}, err
	}
	width, err := r.readUint32()
	if err != nil {
		return Raster{}, err
	}
	height, err := r.readUint32()
	if err != nil {
		return Raster{}, err
	}
	compressedLen, err := r.readUint32()
	if err != nil {
		return Raster{}, err
	}
	if len(r.buf) < r.ptr+int(compressedLen) {
		return Raster{}, r.underflow(int(compressedLen))
	}
	compressed := r.buf[r.ptr : r.ptr+int(compressedLen)]
	r.ptr += int(compressedLen)

	// A degenerate raster rehydrates to a minimal placeholder surface
	// instead of failing.
	if width == 0 || height == 0 {
		return PlaceholderRaster(), nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Raster{}, err
	}
	defer zr.Close()
	pixels, err := io.ReadAll(zr)
	if err != nil {
		return Raster{}, err
	}

	return Raster{
		Pixels: pixels,
		Width:  int(width),
		Height: int(height),
		Format: format,
	}, nil
}
