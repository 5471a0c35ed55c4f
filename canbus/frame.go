package canbus

import (
	"fmt"
	"strings"
)

// Identifier and payload limits of the CAN 2.0 frame format.
const (
	// MaxStandardID is the highest valid 11-bit identifier.
	MaxStandardID = 0x7FF
	// MaxExtendedID is the highest valid 29-bit identifier.
	MaxExtendedID = 0x1FFFFFFF
	// MaxDataLen is the maximum payload length in bytes.
	MaxDataLen = 8
)

// FrameKind classifies a CAN frame.
type FrameKind uint8

const (
	// DataFrame carries up to 8 bytes of payload.
	DataFrame FrameKind = iota
	// RemoteFrame requests transmission of a data frame; its payload length
	// encodes the requested DLC but carries no data.
	RemoteFrame
	// ErrorFrame reports a bus error condition detected by the controller.
	ErrorFrame
)

// String returns string representation of the frame kind.
func (k FrameKind) String() string {
	switch k {
	case DataFrame:
		return "data"
	case RemoteFrame:
		return "remote"
	case ErrorFrame:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one CAN bus frame. Frames are treated as immutable once received.
type Frame struct {
	// ID is the frame identifier, 11 bits standard or 29 bits extended.
	ID uint32
	// Extended selects the 29-bit identifier format.
	Extended bool
	// Kind classifies the frame.
	Kind FrameKind
	// Data is the payload, at most 8 bytes.
	Data []byte
}

// NewFrame creates a standard data frame.
func NewFrame(id uint32, data []byte) Frame {
	return Frame{ID: id, Data: data}
}

// NewExtendedFrame creates an extended data frame.
func NewExtendedFrame(id uint32, data []byte) Frame {
	return Frame{ID: id, Extended: true, Data: data}
}

// NewRemoteFrame creates a remote request frame with the given DLC.
func NewRemoteFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id, Kind: RemoteFrame, Data: make([]byte, dlc)}
}

// Validate checks the identifier range and payload length.
func (f Frame) Validate() error {
	maxID := uint32(MaxStandardID)
	if f.Extended {
		maxID = MaxExtendedID
	}
	if f.ID > maxID {
		return fmt.Errorf("%w: 0x%X (extended=%v)", ErrInvalidID, f.ID, f.Extended)
	}
	if len(f.Data) > MaxDataLen {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Data))
	}

	return nil
}

// String formats the frame for trace logs, e.g. "123#DEADBEEF" or
// "18FF0102x#01" for extended frames.
func (f Frame) String() string {
	var sb strings.Builder

	if f.Extended {
		fmt.Fprintf(&sb, "%08Xx", f.ID)
	} else {
		fmt.Fprintf(&sb, "%03X", f.ID)
	}

	switch f.Kind {
	case RemoteFrame:
		fmt.Fprintf(&sb, "#R%d", len(f.Data))
	case ErrorFrame:
		sb.WriteString("#ERR")
	default:
		sb.WriteByte('#')
		for _, b := range f.Data {
			fmt.Fprintf(&sb, "%02X", b)
		}
	}

	return sb.String()
}

// Device is the contract the reception paths require from a CAN device.
// The device is opened and configured by external hardware management.
type Device interface {
	// FramesAvailable returns the number of frames ready to read.
	FramesAvailable() int
	// ReadFrame pops the next available frame; ok is false when none is
	// available.
	ReadFrame() (frame Frame, ok bool)
	// WriteFrame transmits one frame.
	WriteFrame(frame Frame) error
	// Close releases the device.
	Close() error
}
