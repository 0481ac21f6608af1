package can

import "errors"

var (
	ErrInvalidID      = errors.New("invalid CAN identifier")
	ErrInvalidLength  = errors.New("invalid CAN data length")
	ErrIllegalBitrate = errors.New("illegal bitrate")
	ErrInvalidState   = errors.New("bus is not in the required state")
	ErrFilterBank     = errors.New("filter bank does not exist")
	ErrFifo           = errors.New("receive fifo does not exist")
	ErrRxOverflow     = errors.New("receive fifo overrun, frame lost")
	ErrNoDriver       = errors.New("no driver, cannot transmit on the bus")
)

// CAN bus error status bits
const (
	CanErrorTxWarning  = 0x0001 // Last transmission failed in the driver
	CanErrorRxOverflow = 0x0800 // A receive fifo overran
)
