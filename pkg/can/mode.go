package can

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	DefaultBitrate uint32 = 250_000
	MaxBitrate     uint32 = 1_000_000
)

// Bus operating mode, applied as a whole by [Controller.Configure]
type Mode struct {
	// Transmitted frames are also delivered to the local receive path,
	// frames from the bus are ignored
	Loopback bool
	// Frames are never driven on the bus
	Silent bool
	// Nominal bitrate in bit/s
	Bitrate uint32
}

// Loopback + silent at the default bitrate, a self test that
// does not disturb the bus
func DefaultMode() Mode {
	return Mode{Loopback: true, Silent: true, Bitrate: DefaultBitrate}
}

func (m Mode) Validate() error {
	if m.Bitrate == 0 || m.Bitrate > MaxBitrate {
		return errors.Wrapf(ErrIllegalBitrate, "%d bit/s", m.Bitrate)
	}
	return nil
}

func (m Mode) String() string {
	switch {
	case m.Loopback && m.Silent:
		return fmt.Sprintf("silent loopback @ %d bit/s", m.Bitrate)
	case m.Loopback:
		return fmt.Sprintf("loopback @ %d bit/s", m.Bitrate)
	case m.Silent:
		return fmt.Sprintf("silent @ %d bit/s", m.Bitrate)
	default:
		return fmt.Sprintf("normal @ %d bit/s", m.Bitrate)
	}
}
