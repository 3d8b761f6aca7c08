package errors

import "fmt"

type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

type InvalidEnumValue struct {
	EnumName string
	IntValue uint8
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("Invalid enum value=%d (enum: %s)", e.IntValue, e.EnumName)
}

type InvalidHeaderVersion struct {
	ExpectedMagicNumber uint32
	ActualMagicNumber   uint32
	ExpectedVersion     uint8
	ActualVersion       uint8
}

func (e *InvalidHeaderVersion) Error() string {
	return fmt.Sprintf("Invalid header: expected MagicNumber=%d, got MagicNumber=%d. Expected version %d, got %d", e.ExpectedMagicNumber, e.ActualMagicNumber, e.ExpectedVersion, e.ActualVersion)
}

type FrameTooLarge struct {
	FrameSize int
	MaxSize   int
}

func (e *FrameTooLarge) Error() string {
	return fmt.Sprintf("Frame of %d bytes exceeds maximum frame size of %d bytes", e.FrameSize, e.MaxSize)
}

type UnknownObjectType struct {
	TypeTag uint8
}

func (e *UnknownObjectType) Error() string {
	return fmt.Sprintf("Unknown object type tag=%d", e.TypeTag)
}

type UnknownUpdateKind struct {
	Kind uint8
}

func (e *UnknownUpdateKind) Error() string {
	return fmt.Sprintf("Unknown object update kind=%d", e.Kind)
}
