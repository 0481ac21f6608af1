package can

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const CanRtrFlag uint32 = 0x40000000
const CanEffFlag uint32 = 0x80000000
const CanSffMask uint32 = 0x000007FF
const CanEffMask uint32 = 0x1FFFFFFF

// Maximum number of data bytes in a classical CAN frame
const MaxDataLength = 8

// A CAN frame
// Extended frames carry CanEffFlag in ID, as done by SocketCAN
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// Create an extended (29-bit) data frame, data is copied
func NewExtendedFrame(id uint32, data []byte) (Frame, error) {
	if id > CanEffMask {
		return Frame{}, errors.Wrapf(ErrInvalidID, "id 0x%x", id)
	}
	if len(data) > MaxDataLength {
		return Frame{}, errors.Wrapf(ErrInvalidLength, "length %d", len(data))
	}
	frame := Frame{ID: id | CanEffFlag, DLC: uint8(len(data))}
	copy(frame.Data[:], data)
	return frame, nil
}

// Create a standard (11-bit) data frame, data is copied
func NewStandardFrame(id uint32, data []byte) (Frame, error) {
	if id > CanSffMask {
		return Frame{}, errors.Wrapf(ErrInvalidID, "id 0x%x", id)
	}
	if len(data) > MaxDataLength {
		return Frame{}, errors.Wrapf(ErrInvalidLength, "length %d", len(data))
	}
	frame := Frame{ID: id, DLC: uint8(len(data))}
	copy(frame.Data[:], data)
	return frame, nil
}

func (f Frame) IsExtended() bool {
	return f.ID&CanEffFlag != 0
}

func (f Frame) IsRemote() bool {
	return f.ID&CanRtrFlag != 0
}

// Identifier without the format flags
func (f Frame) Identifier() uint32 {
	if f.IsExtended() {
		return f.ID & CanEffMask
	}
	return f.ID & CanSffMask
}

// Validate checks identifier range and declared length
func (f Frame) Validate() error {
	if f.DLC > MaxDataLength {
		return errors.Wrapf(ErrInvalidLength, "dlc %d", f.DLC)
	}
	if f.IsExtended() && f.ID&^(CanEffFlag|CanRtrFlag) > CanEffMask {
		return errors.Wrapf(ErrInvalidID, "id 0x%x", f.ID)
	}
	if !f.IsExtended() && f.ID&^(CanRtrFlag) > CanSffMask {
		return errors.Wrapf(ErrInvalidID, "id 0x%x", f.ID)
	}
	return nil
}

// Declared-length part of the data, nil if DLC is invalid
func (f Frame) Payload() []byte {
	if f.DLC > MaxDataLength {
		return nil
	}
	return f.Data[:f.DLC]
}

func (f Frame) String() string {
	if f.IsExtended() {
		return fmt.Sprintf("%08X [%d] %s", f.Identifier(), f.DLC, hex.EncodeToString(f.Payload()))
	}
	return fmt.Sprintf("%03X [%d] %s", f.Identifier(), f.DLC, hex.EncodeToString(f.Payload()))
}

// A received frame together with the instant it was accepted
// into a receive FIFO. Timestamps come from a monotonic clock.
type Envelope struct {
	Frame     Frame
	Timestamp time.Time
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// Raw CAN transport, e.g. socketcan or virtualcan.
// Drivers only move frames, filtering and bus modes are
// handled by [Controller].
type Driver interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}

// Optionally implemented by drivers that can change the
// bus bitrate themselves
type BitrateSetter interface {
	SetBitrate(bitrate uint32) error
}

// Bus handle used by the exchange loop.
// Enable, Write and Read may block.
type Bus interface {
	EnableBank(bank uint8, fifo Fifo, filter Mask32) error
	Configure(mode Mode) error
	Enable(ctx context.Context) error
	Write(ctx context.Context, frame Frame) error
	Read(ctx context.Context) (Envelope, error)
}
