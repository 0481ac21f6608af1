package can

import (
	"fmt"

	"github.com/pkg/errors"
)

// Number of acceptance filter banks of the controller
const NumFilterBanks = 14

// Receive FIFO index
type Fifo uint8

const (
	Fifo0 Fifo = 0
	Fifo1 Fifo = 1
)

// Number of receive FIFOs of the controller
const NumFifos = 2

func (f Fifo) String() string {
	return fmt.Sprintf("FIFO%d", uint8(f))
}

// 32-bit identifier/mask acceptance filter.
// A frame matches when (frame.ID & Mask) == (ID & Mask).
// ID and Mask use the same layout as [Frame.ID], flags included.
type Mask32 struct {
	ID   uint32
	Mask uint32
}

// Filter that lets every frame through
func Mask32AcceptAll() Mask32 {
	return Mask32{ID: 0, Mask: 0}
}

// Filter matching a single extended identifier
func Mask32Extended(id uint32) Mask32 {
	return Mask32{ID: (id & CanEffMask) | CanEffFlag, Mask: CanEffMask | CanEffFlag | CanRtrFlag}
}

// Filter matching a single standard identifier
func Mask32Standard(id uint32) Mask32 {
	return Mask32{ID: id & CanSffMask, Mask: CanSffMask | CanEffFlag | CanRtrFlag}
}

func (m Mask32) Matches(frame Frame) bool {
	return frame.ID&m.Mask == m.ID&m.Mask
}

type filterBank struct {
	enabled bool
	fifo    Fifo
	filter  Mask32
}

// Filter bank table, lowest matching bank wins
type filterBanks [NumFilterBanks]filterBank

func (banks *filterBanks) enable(bank uint8, fifo Fifo, filter Mask32) error {
	if int(bank) >= NumFilterBanks {
		return errors.Wrapf(ErrFilterBank, "bank %d", bank)
	}
	if int(fifo) >= NumFifos {
		return errors.Wrapf(ErrFifo, "%v", fifo)
	}
	banks[bank] = filterBank{enabled: true, fifo: fifo, filter: filter}
	return nil
}

// Return the FIFO the frame should go to, false if no bank accepts it
func (banks *filterBanks) accept(frame Frame) (Fifo, bool) {
	for _, bank := range banks {
		if bank.enabled && bank.filter.Matches(frame) {
			return bank.fifo, true
		}
	}
	return 0, false
}
